package processing_engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/markdave123-py/docintel/internal/core"
	"github.com/markdave123-py/docintel/internal/core/agents"
	"github.com/markdave123-py/docintel/internal/core/embedding"
	"github.com/markdave123-py/docintel/internal/core/gateway"
	"github.com/markdave123-py/docintel/internal/models"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type memStore struct {
	mu       sync.Mutex
	jobs     map[string]*models.ProcessingJob
	states   []models.JobState
	statuses []string
	analyses map[string]*models.DocumentAnalysis
	chunks   map[string][]models.DocumentChunk
	docVecs  map[string][]float32
}

func newMemStore() *memStore {
	return &memStore{
		jobs:     map[string]*models.ProcessingJob{},
		analyses: map[string]*models.DocumentAnalysis{},
		chunks:   map[string][]models.DocumentChunk{},
		docVecs:  map[string][]float32{},
	}
}

func cloneJob(j *models.ProcessingJob) *models.ProcessingJob {
	c := *j
	c.Checkpoint = append(models.Checkpoint(nil), j.Checkpoint...)
	return &c
}

func (m *memStore) put(j *models.ProcessingJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.DocumentID] = cloneJob(j)
}

func (m *memStore) job(id string) *models.ProcessingJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j := m.jobs[id]; j != nil {
		return cloneJob(j)
	}
	return nil
}

func (m *memStore) GetJob(ctx context.Context, id string) (*models.ProcessingJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	if j == nil {
		return nil, fmt.Errorf("job %s: %w", id, core.ErrNotFound)
	}
	return cloneJob(j), nil
}

func (m *memStore) SaveJob(_ context.Context, j *models.ProcessingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.jobs[j.DocumentID]; cur != nil && cur.State == models.JobCancelled {
		return nil
	}
	m.jobs[j.DocumentID] = cloneJob(j)
	if n := len(m.states); n == 0 || m.states[n-1] != j.State {
		m.states = append(m.states, j.State)
	}
	return nil
}

func (m *memStore) stateHistory() []models.JobState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.JobState(nil), m.states...)
}

func (m *memStore) UpdateDocumentStatus(_ context.Context, _ string, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *memStore) SaveDocumentAnalysis(_ context.Context, id string, a *models.DocumentAnalysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyses[id] = a
	return nil
}

func (m *memStore) ReplaceDocumentChunks(_ context.Context, id string, chunks []models.DocumentChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[id] = chunks
	return nil
}

func (m *memStore) SaveDocumentEmbedding(_ context.Context, id, _ string, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docVecs[id] = vec
	return nil
}

type fakeExtractor struct {
	mu    sync.Mutex
	calls int
	res   gateway.ExtractionResult
	err   error
}

func (f *fakeExtractor) ExtractText(context.Context, gateway.BlobRef) (*gateway.ExtractionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	r := f.res
	return &r, nil
}

type fakeEntities struct{ calls int }

func (f *fakeEntities) AnalyzeEntities(context.Context, string) (*gateway.EntityResult, error) {
	f.calls++
	return &gateway.EntityResult{Entities: []core.Entity{{Text: "Alice", Type: "PERSON"}}, Cost: 0.001}, nil
}

// fakeAgents answers per agent name; errs take precedence.
type fakeAgents struct {
	mu      sync.Mutex
	outputs map[string]map[string]any
	errs    map[string]error
	calls   map[string]int
	gate    chan struct{} // when set, every call waits on it
	entered chan struct{}
}

func newFakeAgents() *fakeAgents {
	return &fakeAgents{
		outputs: map[string]map[string]any{
			"summary":     {"executive_summary": "Project is on track.", "key_points": []any{"Budget approved"}},
			"action_item": {"action_items": []any{map[string]any{"description": "Send plan", "owner": "Bob"}}},
			"analysis":    {"risks": []any{map[string]any{"description": "Vendor delay", "severity": "high"}}},
		},
		errs:  map[string]error{},
		calls: map[string]int{},
	}
}

func (f *fakeAgents) Dispatch(ctx context.Context, name string, _ map[string]any) (*agents.Result, error) {
	f.mu.Lock()
	f.calls[name]++
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	return &agents.Result{Agent: agents.Name(name), Output: f.outputs[name], Cost: 0.01, Parsed: true}, nil
}

func (f *fakeAgents) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

type fakeEmbedder struct{}

func (fakeEmbedder) Model() string { return "test-embed" }

func (fakeEmbedder) EmbedBatch(_ context.Context, texts []string, _ string) ([]embedding.Embedding, error) {
	out := make([]embedding.Embedding, len(texts))
	for i, t := range texts {
		out[i] = embedding.Embedding{Vector: []float32{float32(len(t)), 1}, TokenCount: embedding.ApproxTokens(t), Cost: 0.0001}
	}
	return out, nil
}

type event struct {
	step string
	pct  int
}

type recordingNotifier struct {
	mu       sync.Mutex
	events   []event
	failures []string
	forgot   int
}

func (n *recordingNotifier) PublishProgress(_ context.Context, _, _ string, step string, pct int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event{step, pct})
}

func (n *recordingNotifier) PublishFailure(_ context.Context, _, _ string, step, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, step)
}

func (n *recordingNotifier) Forget(string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.forgot++
}

func (n *recordingNotifier) snapshot() []event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]event(nil), n.events...)
}

type harness struct {
	store    *memStore
	extract  *fakeExtractor
	entities *fakeEntities
	agents   *fakeAgents
	notifier *recordingNotifier
	wf       *Workflow
}

func newHarness() *harness {
	h := &harness{
		store:    newMemStore(),
		extract:  &fakeExtractor{res: gateway.ExtractionResult{Text: "Page one.\nPage two.\nPage three.", Pages: 3, Method: gateway.MethodLocal}},
		entities: &fakeEntities{},
		agents:   newFakeAgents(),
		notifier: &recordingNotifier{},
	}
	h.wf = NewWorkflow(Deps{
		Store:    h.store,
		Extract:  h.extract,
		Entities: h.entities,
		Agents:   h.agents,
		Embedder: fakeEmbedder{},
		Notifier: h.notifier,
		Logger:   discard,
		Now:      func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
	return h
}

func request(opts models.AnalysisOptions) Request {
	return Request{DocumentID: "doc-1", UserID: "user-1", BlobKey: "users/user-1/documents/doc-1/plan.txt", ContentType: "text/plain", Options: opts}
}
