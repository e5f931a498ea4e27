package embedding

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/markdave123-py/docintel/internal/core"
	"github.com/markdave123-py/docintel/internal/core/retry"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// lenProvider embeds each text as a one-dimensional vector holding its length.
type lenProvider struct {
	mu         sync.Mutex
	batchSizes []int
	failBatch  bool
	rejects    string // texts containing it always fail
}

func (p *lenProvider) EmbedTexts(_ context.Context, _ string, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.batchSizes = append(p.batchSizes, len(texts))
	p.mu.Unlock()
	if p.failBatch && len(texts) > 1 {
		return nil, &googleapi.Error{Code: http.StatusBadRequest, Message: "batch too large"}
	}
	for _, t := range texts {
		if p.rejects != "" && strings.Contains(t, p.rejects) {
			return nil, &googleapi.Error{Code: http.StatusBadRequest, Message: "content rejected"}
		}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (p *lenProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batchSizes)
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]CacheEntry
	ttls    []time.Duration
	readErr error
}

func newMemCache() *memCache { return &memCache{entries: map[string]CacheEntry{}} }

func (c *memCache) Get(_ context.Context, key string) (*CacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, false, c.readErr
	}
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

func (c *memCache) Set(_ context.Context, key string, e CacheEntry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = e
	c.ttls = append(c.ttls, ttl)
	return nil
}

func newTestGateway(p *lenProvider, c Cache, maxChunk, maxBatch int) *Gateway {
	return New(Options{
		Provider:       p,
		Cache:          c,
		MaxChunkTokens: maxChunk,
		MaxBatchSize:   maxBatch,
		Policy:         retry.Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond},
		Logger:         discard,
	})
}

func TestEmbedCacheHitSkipsProvider(t *testing.T) {
	p := &lenProvider{}
	cache := newMemCache()
	g := newTestGateway(p, cache, 0, 0)

	first, err := g.Embed(context.Background(), "project kickoff notes", "")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if first.Cached || first.Cost <= 0 {
		t.Fatalf("first call should be a priced miss: %+v", first)
	}
	second, err := g.Embed(context.Background(), "project kickoff notes", "")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if !second.Cached || second.Cost != 0 {
		t.Fatalf("second call should be a free hit: %+v", second)
	}
	if p.calls() != 1 {
		t.Fatalf("provider calls = %d, want 1", p.calls())
	}
	if cache.ttls[0] != DefaultCacheTTL {
		t.Errorf("ttl = %s, want %s", cache.ttls[0], DefaultCacheTTL)
	}
	if g.TotalCost() != first.Cost {
		t.Errorf("total cost = %v, want %v", g.TotalCost(), first.Cost)
	}
}

func TestEmbedLongTextAveragesChunks(t *testing.T) {
	p := &lenProvider{}
	g := newTestGateway(p, nil, 2, 0) // 8 runes per chunk

	e, err := g.Embed(context.Background(), "aaaa\nbbbbbb\ncc", "")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	// chunks: "aaaa" (4), "bbbbbb" (6), "cc" (2) -> mean 4
	if len(e.Vector) != 1 || e.Vector[0] != 4 {
		t.Fatalf("vector = %v, want [4]", e.Vector)
	}
}

func TestEmbedBatchPreservesOrderAndBatches(t *testing.T) {
	p := &lenProvider{}
	cache := newMemCache()
	g := newTestGateway(p, cache, 0, 2)

	if _, err := g.Embed(context.Background(), "ccc", ""); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff"}
	out, err := g.EmbedBatch(context.Background(), texts, "")
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	for i, e := range out {
		if e.Vector[0] != float32(len(texts[i])) {
			t.Errorf("out[%d] = %v, want %d", i, e.Vector, len(texts[i]))
		}
	}
	if !out[2].Cached {
		t.Errorf("out[2] should come from cache")
	}
	// one warm-up call, then 5 misses in batches of 2,2,1
	want := []int{1, 2, 2, 1}
	if len(p.batchSizes) != len(want) {
		t.Fatalf("batch sizes = %v, want %v", p.batchSizes, want)
	}
	for i := range want {
		if p.batchSizes[i] != want[i] {
			t.Fatalf("batch sizes = %v, want %v", p.batchSizes, want)
		}
	}
}

func TestEmbedBatchFallsBackPerItem(t *testing.T) {
	p := &lenProvider{failBatch: true}
	g := newTestGateway(p, nil, 0, 10)

	out, err := g.EmbedBatch(context.Background(), []string{"x", "yy", "zzz"}, "")
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if out[1].Vector[0] != 2 {
		t.Fatalf("out[1] = %v", out[1].Vector)
	}
	if p.calls() != 4 {
		t.Errorf("calls = %d, want 1 failed batch + 3 singles", p.calls())
	}
}

func TestEmbedBatchKeepsItemsAroundAFailure(t *testing.T) {
	p := &lenProvider{rejects: "bad"}
	g := newTestGateway(p, nil, 0, 10)

	out, err := g.EmbedBatch(context.Background(), []string{"x", "bad text", "zzz"}, "")
	var be *BatchError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want *BatchError", err)
	}
	if len(be.Failed) != 1 || be.Failed[1] == nil {
		t.Fatalf("failed = %v, want only index 1", be.Failed)
	}
	if len(out) != 3 || out[0].Vector[0] != 1 || out[2].Vector[0] != 3 {
		t.Fatalf("out = %+v", out)
	}
	if out[1].Vector != nil {
		t.Errorf("failed slot holds %v", out[1].Vector)
	}
	if got := g.TotalCost(); got != out[0].Cost+out[2].Cost {
		t.Errorf("TotalCost = %v, want cost of the two embedded texts", got)
	}
}

func TestEmbedBatchRejectsEmptyText(t *testing.T) {
	g := newTestGateway(&lenProvider{}, nil, 0, 0)
	_, err := g.EmbedBatch(context.Background(), []string{"ok", " "}, "")
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCacheReadErrorIsAMiss(t *testing.T) {
	p := &lenProvider{}
	cache := newMemCache()
	cache.readErr = errors.New("redis down")
	g := newTestGateway(p, cache, 0, 0)

	if _, err := g.Embed(context.Background(), "text", ""); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if p.calls() != 1 {
		t.Fatalf("provider calls = %d, want 1", p.calls())
	}
}

func TestCacheKeyDependsOnModel(t *testing.T) {
	if CacheKey("a", "m1") == CacheKey("a", "m2") {
		t.Fatal("keys for different models must differ")
	}
	if len(CacheKey("a", "m1")) != 64 {
		t.Fatal("expected hex sha256")
	}
}

func TestSplitTextBounds(t *testing.T) {
	text := strings.Repeat("word ", 60) + "\n" + strings.Repeat("line\n", 20)
	chunks := SplitText(text, 10, 2)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Tokens > 10 {
			t.Errorf("chunk %d has %d tokens", i, c.Tokens)
		}
		if c.Position != i {
			t.Errorf("chunk %d has position %d", i, c.Position)
		}
	}
}

func TestSplitTextOverlapSeedsNextChunk(t *testing.T) {
	chunks := SplitText("alpha\nbravo\ncharlie\ndelta", 4, 2)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %+v", chunks)
	}
	prevLast := chunks[0].Text[strings.LastIndex(chunks[0].Text, "\n")+1:]
	if !strings.HasPrefix(chunks[1].Text, prevLast) {
		t.Errorf("chunk 1 %q does not start with tail %q", chunks[1].Text, prevLast)
	}
}

func TestMean(t *testing.T) {
	m, err := Mean([][]float32{{1, 2}, {3, 6}})
	if err != nil {
		t.Fatalf("Mean: %v", err)
	}
	if m[0] != 2 || m[1] != 4 {
		t.Fatalf("mean = %v", m)
	}
	if _, err := Mean([][]float32{{1}, {1, 2}}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}
