// Package embedding turns text into vectors through a hosted embedding API,
// with chunking for long inputs, batching, and a content-hash cache.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/markdave123-py/docintel/internal/core"
	"github.com/markdave123-py/docintel/internal/core/gateway"
	"github.com/markdave123-py/docintel/internal/core/retry"
)

const (
	DefaultModel          = "text-embedding-004"
	DefaultMaxChunkTokens = 8191
	DefaultMaxBatchSize   = 100
	DefaultCacheTTL       = 7 * 24 * time.Hour
)

// Embedding is one text's vector plus its accounting.
type Embedding struct {
	Vector     []float32 `json:"vector"`
	TokenCount int       `json:"token_count"`
	Cost       float64   `json:"cost"`
	Cached     bool      `json:"cached"`
}

// BatchError lists the texts of an EmbedBatch call that could not be embedded,
// by index. Their slots in the returned slice hold no vector.
type BatchError struct {
	Failed map[int]error
}

func (e *BatchError) Error() string {
	idx := slices.Sorted(maps.Keys(e.Failed))
	return fmt.Sprintf("embed batch: %d text(s) failed, first %d: %v", len(idx), idx[0], e.Failed[idx[0]])
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, i := range slices.Sorted(maps.Keys(e.Failed)) {
		errs = append(errs, e.Failed[i])
	}
	return errs
}

type Options struct {
	Provider       core.EmbeddingProvider
	Cache          Cache
	Model          string
	MaxChunkTokens int
	MaxBatchSize   int
	CacheTTL       time.Duration
	Policy         retry.Policy
	Pricing        gateway.Pricing
	Logger         *slog.Logger
}

type Gateway struct {
	provider core.EmbeddingProvider
	cache    Cache
	model    string
	maxChunk int
	maxBatch int
	ttl      time.Duration
	policy   retry.Policy
	prices   gateway.Pricing
	logger   *slog.Logger
	costBits atomic.Uint64
}

func New(opts Options) *Gateway {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxChunkTokens <= 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = DefaultMaxBatchSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = retry.DefaultPolicy()
	}
	if opts.Pricing.Models == nil {
		opts.Pricing = gateway.DefaultPricing()
	}
	return &Gateway{
		provider: opts.Provider,
		cache:    opts.Cache,
		model:    opts.Model,
		maxChunk: opts.MaxChunkTokens,
		maxBatch: opts.MaxBatchSize,
		ttl:      opts.CacheTTL,
		policy:   opts.Policy,
		prices:   opts.Pricing,
		logger:   opts.Logger.With(slog.String("component", "embedding")),
	}
}

func (g *Gateway) Model() string { return g.model }

// TotalCost is the running sum of every non-cached embedding call.
func (g *Gateway) TotalCost() float64 {
	return math.Float64frombits(g.costBits.Load())
}

func (g *Gateway) addCost(c float64) {
	for {
		old := g.costBits.Load()
		next := math.Float64bits(math.Float64frombits(old) + c)
		if g.costBits.CompareAndSwap(old, next) {
			return
		}
	}
}

// Embed returns the embedding of text. Text over the chunk limit is split and the
// chunk vectors are averaged.
func (g *Gateway) Embed(ctx context.Context, text, model string) (*Embedding, error) {
	if strings.TrimSpace(text) == "" {
		return nil, core.NewValidationError("text", "is required")
	}
	if model == "" {
		model = g.model
	}
	key := CacheKey(text, model)
	if e, ok := g.lookup(ctx, key); ok {
		return e, nil
	}

	e, err := g.embedChunked(ctx, text, model)
	if err != nil {
		return nil, err
	}
	g.store(ctx, key, e)
	return e, nil
}

// EmbedBatch embeds texts preserving order. Cache hits never reach the provider.
// When only some texts fail, the rest are still returned alongside a *BatchError.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string, model string) ([]Embedding, error) {
	if model == "" {
		model = g.model
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, core.NewValidationError(fmt.Sprintf("texts[%d]", i), "is empty")
		}
	}

	out := make([]Embedding, len(texts))
	failed := map[int]error{}
	var short, long []int
	for i, t := range texts {
		if e, ok := g.lookup(ctx, CacheKey(t, model)); ok {
			out[i] = *e
			continue
		}
		if ApproxTokens(t) > g.maxChunk {
			long = append(long, i)
		} else {
			short = append(short, i)
		}
	}

	for start := 0; start < len(short); start += g.maxBatch {
		idx := short[start:min(start+g.maxBatch, len(short))]
		batch := make([]string, len(idx))
		for j, i := range idx {
			batch[j] = texts[i]
		}

		vecs, err := g.call(ctx, batch, model)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			g.logger.Warn("batch embed failed, falling back to per-item",
				slog.Int("batch_size", len(batch)), slog.Any("error", err))
			vecs = make([][]float32, len(batch))
			for j, t := range batch {
				v, err := g.call(ctx, []string{t}, model)
				if err != nil {
					if ctx.Err() != nil {
						return nil, err
					}
					failed[idx[j]] = err
					continue
				}
				vecs[j] = v[0]
			}
		}

		for j, i := range idx {
			if _, ok := failed[i]; ok {
				continue
			}
			tokens := ApproxTokens(texts[i])
			e := &Embedding{Vector: vecs[j], TokenCount: tokens, Cost: g.prices.EmbeddingCost(model, tokens)}
			g.addCost(e.Cost)
			g.store(ctx, CacheKey(texts[i], model), e)
			out[i] = *e
		}
	}

	for _, i := range long {
		e, err := g.embedChunked(ctx, texts[i], model)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			failed[i] = err
			continue
		}
		g.store(ctx, CacheKey(texts[i], model), e)
		out[i] = *e
	}

	if len(failed) > 0 {
		g.logger.Warn("texts left unembedded", slog.Int("failed", len(failed)), slog.Int("total", len(texts)))
		return out, &BatchError{Failed: failed}
	}
	return out, nil
}

func (g *Gateway) embedChunked(ctx context.Context, text, model string) (*Embedding, error) {
	chunks := SplitText(text, g.maxChunk, 0)
	if len(chunks) == 0 {
		return nil, core.NewValidationError("text", "is required")
	}

	vecs := make([][]float32, 0, len(chunks))
	tokens := 0
	for start := 0; start < len(chunks); start += g.maxBatch {
		part := chunks[start:min(start+g.maxBatch, len(chunks))]
		texts := make([]string, len(part))
		for i, c := range part {
			texts[i] = c.Text
			tokens += c.Tokens
		}
		v, err := g.call(ctx, texts, model)
		if err != nil {
			return nil, err
		}
		vecs = append(vecs, v...)
	}

	mean, err := Mean(vecs)
	if err != nil {
		return nil, &core.ServiceError{Op: "embed", Err: err}
	}
	e := &Embedding{Vector: mean, TokenCount: tokens, Cost: g.prices.EmbeddingCost(model, tokens)}
	g.addCost(e.Cost)
	return e, nil
}

func (g *Gateway) call(ctx context.Context, texts []string, model string) ([][]float32, error) {
	return retry.Do(ctx, g.policy, "embed", g.logger, func(ctx context.Context) ([][]float32, error) {
		vecs, err := g.provider.EmbedTexts(ctx, model, texts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(texts))
		}
		return vecs, nil
	})
}

func (g *Gateway) lookup(ctx context.Context, key string) (*Embedding, bool) {
	if g.cache == nil {
		return nil, false
	}
	entry, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		g.logger.Warn("embedding cache read failed", slog.Any("error", err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return &Embedding{Vector: entry.Vector, TokenCount: entry.TokenCount, Cached: true}, true
}

func (g *Gateway) store(ctx context.Context, key string, e *Embedding) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Set(ctx, key, CacheEntry{Vector: e.Vector, TokenCount: e.TokenCount}, g.ttl); err != nil {
		g.logger.Warn("embedding cache write failed", slog.Any("error", err))
	}
}
