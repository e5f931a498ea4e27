package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/markdave123-py/docintel/internal/core"
	"github.com/markdave123-py/docintel/internal/core/agents"
	"github.com/markdave123-py/docintel/internal/core/embedding"
	"github.com/markdave123-py/docintel/internal/core/gateway"
	"github.com/markdave123-py/docintel/internal/core/processing_engine"
	"github.com/markdave123-py/docintel/internal/models"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type memDB struct {
	mu      sync.Mutex
	users   map[string]*models.User
	docs    map[string]*models.Document
	jobs    map[string]*models.ProcessingJob
	hits    []models.SearchHit
	lastVec []float32
}

func newMemDB() *memDB {
	return &memDB{
		users: map[string]*models.User{},
		docs:  map[string]*models.Document{},
		jobs:  map[string]*models.ProcessingJob{},
	}
}

func (m *memDB) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.Email] = u
	return nil
}

func (m *memDB) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[email], nil
}

func (m *memDB) CreateDocument(_ context.Context, d *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[d.ID] = d
	return nil
}

func (m *memDB) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.docs[id]
	if d == nil {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return d, nil
}

func (m *memDB) ListDocumentsByUser(_ context.Context, userID string) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Document
	for _, d := range m.docs {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memDB) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	delete(m.jobs, id)
	return nil
}

func (m *memDB) GetChunksByDocument(_ context.Context, id string) ([]models.DocumentChunk, error) {
	var out []models.DocumentChunk
	for _, h := range m.hits {
		if h.DocumentID == id {
			out = append(out, h.DocumentChunk)
		}
	}
	return out, nil
}

func (m *memDB) GetJob(_ context.Context, id string) (*models.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	if j == nil {
		return nil, fmt.Errorf("job %s: %w", id, core.ErrNotFound)
	}
	return j, nil
}

func (m *memDB) SaveJob(_ context.Context, j *models.ProcessingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.DocumentID] = j
	return nil
}

func (m *memDB) SearchDocumentChunks(_ context.Context, _ string, vec []float32, limit int) ([]models.SearchHit, error) {
	m.lastVec = vec
	return m.hits[:min(limit, len(m.hits))], nil
}

func (m *memDB) SearchUserChunks(_ context.Context, _ string, vec []float32, limit int) ([]models.SearchHit, error) {
	m.lastVec = vec
	return m.hits[:min(limit, len(m.hits))], nil
}

type memBlobs struct {
	stored  map[string][]byte
	deleted []string
}

func (b *memBlobs) StoreBlob(_ context.Context, data []byte, name, owner, _ string) (*gateway.StoredBlob, error) {
	key := gateway.BlobKey(owner, name)
	if b.stored == nil {
		b.stored = map[string][]byte{}
	}
	b.stored[key] = data
	return &gateway.StoredBlob{URL: "s3://bucket/" + key, Key: key}, nil
}

func (b *memBlobs) DeleteBlob(_ context.Context, key string) error {
	b.deleted = append(b.deleted, key)
	return nil
}

type recordingQueue struct {
	enqueued  []processing_engine.Request
	cancelled []string
	running   map[string]bool
}

func (q *recordingQueue) Enqueue(_ context.Context, req processing_engine.Request) error {
	if q.running[req.DocumentID] {
		return fmt.Errorf("enqueue %s: %w", req.DocumentID, core.ErrInProgress)
	}
	q.enqueued = append(q.enqueued, req)
	return nil
}

func (q *recordingQueue) Cancel(_ context.Context, id string) error {
	q.cancelled = append(q.cancelled, id)
	return nil
}

type stubExporter struct{}

func (stubExporter) AnalysisXLSX(*models.Document) ([]byte, error) { return []byte("xlsx"), nil }

func newDocService() (*DocumentService, *memDB, *memBlobs, *recordingQueue) {
	db, blobs, q := newMemDB(), &memBlobs{}, &recordingQueue{}
	return NewDocumentService(db, blobs, q, stubExporter{}, 1<<20, discard), db, blobs, q
}

func TestUserService_RegisterAndAuthenticate(t *testing.T) {
	db := newMemDB()
	svc := NewUserService(db, discard)
	svc.cost = bcrypt.MinCost
	ctx := context.Background()

	u, err := svc.Register(ctx, "Ada", " Ada@Example.com ", "correct-horse")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Email != "ada@example.com" || u.PasswordHash == "correct-horse" {
		t.Errorf("user = %+v", u)
	}

	if _, err := svc.Register(ctx, "Ada", "ada@example.com", "another-pass"); !errors.Is(err, core.ErrValidation) {
		t.Errorf("duplicate register err = %v, want validation", err)
	}
	if _, err := svc.Register(ctx, "Bo", "bo@example.com", "short"); !errors.Is(err, core.ErrValidation) {
		t.Errorf("short password err = %v, want validation", err)
	}

	if _, err := svc.Authenticate(ctx, "ada@example.com", "correct-horse"); err != nil {
		t.Errorf("Authenticate: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "ada@example.com", "wrong-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody@example.com", "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user err = %v", err)
	}
}

func TestDocumentService_Upload(t *testing.T) {
	svc, db, blobs, q := newDocService()

	doc, err := svc.Upload(context.Background(), "u1", "../Sprint Plan.txt", "", []byte("Ship the beta."), models.DefaultAnalysisOptions())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	wantKey := "users/u1/documents/" + doc.ID + "/Sprint_Plan.txt"
	if doc.BlobKey != wantKey {
		t.Errorf("blob key = %q, want %q", doc.BlobKey, wantKey)
	}
	if _, ok := blobs.stored[wantKey]; !ok {
		t.Error("blob not stored")
	}
	if doc.ContentType != "text/plain" || doc.Status != models.DocumentStatusUploaded {
		t.Errorf("doc = %+v", doc)
	}
	job := db.jobs[doc.ID]
	if job == nil || job.State != models.JobUploaded || !job.Options.IndexEmbeddings {
		t.Errorf("job = %+v", job)
	}
	if len(q.enqueued) != 1 || q.enqueued[0].BlobKey != wantKey {
		t.Errorf("enqueued = %+v", q.enqueued)
	}
}

func TestDocumentService_UploadValidation(t *testing.T) {
	svc, _, _, q := newDocService()
	ctx := context.Background()
	opts := models.DefaultAnalysisOptions()

	cases := []struct {
		name string
		file string
		data []byte
		opts models.AnalysisOptions
	}{
		{"empty", "a.txt", nil, opts},
		{"unsupported", "a.exe", []byte("MZ"), opts},
		{"too large", "a.txt", make([]byte, 2<<20), opts},
		{"no analyses", "a.txt", []byte("x"), models.AnalysisOptions{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Upload(ctx, "u1", tc.file, "", tc.data, tc.opts); !errors.Is(err, core.ErrValidation) {
				t.Fatalf("err = %v, want validation", err)
			}
		})
	}
	if len(q.enqueued) != 0 {
		t.Errorf("invalid uploads were enqueued: %v", q.enqueued)
	}
}

func TestDocumentService_OwnershipAndLifecycle(t *testing.T) {
	svc, db, blobs, q := newDocService()
	ctx := context.Background()
	db.docs["d1"] = &models.Document{ID: "d1", UserID: "u1", FileName: "plan.pdf", BlobKey: "users/u1/documents/d1/plan.pdf"}
	db.jobs["d1"] = &models.ProcessingJob{DocumentID: "d1", State: models.JobCompleted, Checkpoint: models.Checkpoint{{Name: "extract"}}}

	if _, err := svc.Get(ctx, "u2", "d1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("foreign Get err = %v, want not found", err)
	}
	view, err := svc.Get(ctx, "u1", "d1")
	if err != nil || view.Job == nil {
		t.Fatalf("Get: %+v, %v", view, err)
	}

	st, err := svc.Process(ctx, "u1", "d1")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if st.State != models.JobCompleted || len(q.enqueued) != 0 {
		t.Errorf("completed job was re-enqueued: %+v %v", st, q.enqueued)
	}

	db.jobs["d1"].State = models.JobFailed
	if _, err := svc.Process(ctx, "u1", "d1"); err != nil {
		t.Fatalf("Process failed job: %v", err)
	}
	if len(q.enqueued) != 1 {
		t.Errorf("failed job not enqueued")
	}

	if chunks, err := svc.Chunks(ctx, "u1", "d1"); err != nil || chunks == nil {
		t.Errorf("Chunks = %v, %v", chunks, err)
	}
	if _, err := svc.Chunks(ctx, "u2", "d1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("foreign Chunks err = %v", err)
	}

	if _, _, err := svc.Export(ctx, "u1", "d1"); !errors.Is(err, core.ErrValidation) {
		t.Errorf("export without analysis err = %v", err)
	}
	db.docs["d1"].Analysis = &models.DocumentAnalysis{ExecutiveSummary: "ok"}
	data, name, err := svc.Export(ctx, "u1", "d1")
	if err != nil || string(data) != "xlsx" || name != "plan-analysis.xlsx" {
		t.Errorf("Export = %q %q %v", data, name, err)
	}

	if err := svc.Delete(ctx, "u2", "d1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("foreign Delete err = %v", err)
	}
	if err := svc.Delete(ctx, "u1", "d1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(q.cancelled) != 1 || len(blobs.deleted) != 1 || db.docs["d1"] != nil {
		t.Errorf("delete incomplete: cancelled=%v blobs=%v", q.cancelled, blobs.deleted)
	}
}

func TestDocumentService_ProcessWhileRunning(t *testing.T) {
	svc, db, _, q := newDocService()
	ctx := context.Background()
	db.docs["d1"] = &models.Document{ID: "d1", UserID: "u1", FileName: "plan.pdf", BlobKey: "users/u1/documents/d1/plan.pdf"}
	db.jobs["d1"] = &models.ProcessingJob{DocumentID: "d1", State: models.JobAnalyzing, Checkpoint: models.Checkpoint{{Name: "extract"}}}
	q.running = map[string]bool{"d1": true}

	st, err := svc.Process(ctx, "u1", "d1")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if st.State != models.JobAnalyzing {
		t.Errorf("state = %s, want %s", st.State, models.JobAnalyzing)
	}
	if len(q.enqueued) != 0 {
		t.Errorf("running job was enqueued again: %v", q.enqueued)
	}
}

type fixedEmbedder struct{}

func (fixedEmbedder) Model() string { return "m" }

func (fixedEmbedder) Embed(context.Context, string, string) (*embedding.Embedding, error) {
	return &embedding.Embedding{Vector: []float32{0.1, 0.2}}, nil
}

type qaAgents struct{ input map[string]any }

func (a *qaAgents) Dispatch(_ context.Context, name string, input map[string]any) (*agents.Result, error) {
	a.input = input
	return &agents.Result{
		Agent:  agents.Name(name),
		Output: map[string]any{"answer": "Bob owns the plan.", "confidence": 0.8, "sources": []any{2.0, 9.0}},
		Parsed: true,
		Cost:   0.002,
	}, nil
}

func TestSearchService_AskUsesCitedPassages(t *testing.T) {
	db := newMemDB()
	db.docs["d1"] = &models.Document{ID: "d1", UserID: "u1"}
	db.hits = []models.SearchHit{
		{DocumentChunk: models.DocumentChunk{ID: "c1", Text: "Budget approved."}},
		{DocumentChunk: models.DocumentChunk{ID: "c2", Text: "Bob owns the plan."}},
	}
	qa := &qaAgents{}
	svc := NewSearchService(db, fixedEmbedder{}, qa, discard)

	ans, err := svc.Ask(context.Background(), "u1", "d1", "Who owns the plan?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Answer != "Bob owns the plan." || !ans.Parsed {
		t.Errorf("answer = %+v", ans)
	}
	if len(ans.Sources) != 1 || ans.Sources[0].ID != "c2" {
		t.Errorf("sources = %+v, want only c2", ans.Sources)
	}
	if qa.input["question"] != "Who owns the plan?" {
		t.Errorf("qa input = %v", qa.input)
	}

	if _, err := svc.Ask(context.Background(), "u2", "d1", "Who?"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("foreign Ask err = %v, want not found", err)
	}
}

func TestSearchService_SearchValidatesAndClamps(t *testing.T) {
	db := newMemDB()
	svc := NewSearchService(db, fixedEmbedder{}, &qaAgents{}, discard)

	if _, err := svc.Search(context.Background(), "u1", "  ", "", 5); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	if _, err := svc.Search(context.Background(), "u1", "budget", "", 500); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(db.lastVec) != 2 {
		t.Errorf("query vector not passed through: %v", db.lastVec)
	}
}
