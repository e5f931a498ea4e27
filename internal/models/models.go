package models

import (
	"encoding/json"
	"time"

	"github.com/markdave123-py/docintel/internal/core"
)

// User represents an authenticated user of the system.
type User struct {
	ID           string    `db:"id" json:"id"`
	FirstName    string    `db:"first_name" json:"first_name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Document represents a user-uploaded project document.
type Document struct {
	ID          string            `db:"id" json:"id"`
	UserID      string            `db:"user_id" json:"user_id"`
	FileName    string            `db:"file_name" json:"file_name"`
	StorageURL  string            `db:"storage_url" json:"storage_url"`
	BlobKey     string            `db:"blob_key" json:"blob_key"`
	ContentType string            `db:"content_type" json:"content_type"`
	Status      string            `db:"status" json:"status"` // uploaded | processing | ready | failed
	Analysis    *DocumentAnalysis `db:"analysis" json:"analysis,omitempty"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

const (
	DocumentStatusUploaded   = "uploaded"
	DocumentStatusProcessing = "processing"
	DocumentStatusReady      = "ready"
	DocumentStatusFailed     = "failed"
)

// DocumentChunk represents one text chunk from a document.
type DocumentChunk struct {
	ID         string    `db:"id" json:"id"`
	DocumentID string    `db:"document_id" json:"document_id"`
	Text       string    `db:"text" json:"text"`
	Embedding  []float32 `db:"embedding" json:"-"` // pgvector column
	Position   int       `db:"position" json:"position"`
	TokenCount int       `db:"token_count" json:"token_count"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// SearchHit is a chunk returned by vector search with its cosine distance.
type SearchHit struct {
	DocumentChunk
	FileName string  `json:"file_name"`
	Distance float64 `json:"distance"`
}

// JobState is the processing state of one document analysis run.
type JobState string

const (
	JobUploaded   JobState = "UPLOADED"
	JobExtracting JobState = "EXTRACTING"
	JobExtracted  JobState = "EXTRACTED"
	JobAnalyzing  JobState = "ANALYZING"
	JobAnalyzed   JobState = "ANALYZED"
	JobCompleted  JobState = "COMPLETED"
	JobFailed     JobState = "FAILED"
	JobCancelled  JobState = "CANCELLED"
)

// Terminal reports whether no further transition happens without an explicit re-invocation.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// AnalysisOptions selects which analyses run for a document.
type AnalysisOptions struct {
	GenerateSummary bool `json:"generate_summary"`
	ExtractEntities bool `json:"extract_entities"`
	ExtractActions  bool `json:"extract_actions"`
	ExtractRisks    bool `json:"extract_risks"`
	IndexEmbeddings bool `json:"index_embeddings"`
}

// DefaultAnalysisOptions enables every analysis.
func DefaultAnalysisOptions() AnalysisOptions {
	return AnalysisOptions{
		GenerateSummary: true,
		ExtractEntities: true,
		ExtractActions:  true,
		ExtractRisks:    true,
		IndexEmbeddings: true,
	}
}

// StepRecord is one completed (or individually failed) step in a job checkpoint.
type StepRecord struct {
	Name        string          `json:"name"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	Cost        float64         `json:"cost"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Checkpoint is the ordered list of recorded steps.
type Checkpoint []StepRecord

// Find returns the record for step name, if any.
func (c Checkpoint) Find(name string) (StepRecord, bool) {
	for _, r := range c {
		if r.Name == name {
			return r, true
		}
	}
	return StepRecord{}, false
}

func (c Checkpoint) Has(name string) bool {
	_, ok := c.Find(name)
	return ok
}

// Names lists recorded step names in order.
func (c Checkpoint) Names() []string {
	out := make([]string, len(c))
	for i, r := range c {
		out[i] = r.Name
	}
	return out
}

// ProcessingJob tracks one document's analysis run. It is persisted after every transition.
type ProcessingJob struct {
	DocumentID   string          `db:"document_id" json:"document_id"`
	UserID       string          `db:"user_id" json:"user_id"`
	State        JobState        `db:"state" json:"state"`
	BlobKey      string          `db:"blob_key" json:"blob_key"`
	ContentType  string          `db:"content_type" json:"content_type"`
	Options      AnalysisOptions `db:"options" json:"options"`
	Checkpoint   Checkpoint      `db:"checkpoint" json:"checkpoint"`
	ErrorMessage string          `db:"error_message" json:"error,omitempty"`
	FailedStep   string          `db:"failed_step" json:"failed_step,omitempty"`
	TotalCost    float64         `db:"total_cost" json:"total_cost"`
	StartedAt    time.Time       `db:"started_at" json:"started_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// ActionItem is a task extracted from a document.
type ActionItem struct {
	Description string `json:"description"`
	Owner       string `json:"owner,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Status      string `json:"status,omitempty"`
}

// Risk is a project risk extracted from a document.
type Risk struct {
	Description string `json:"description"`
	Severity    string `json:"severity,omitempty"`
	Likelihood  string `json:"likelihood,omitempty"`
	Mitigation  string `json:"mitigation,omitempty"`
}

// DocumentAnalysis is the aggregate result of a completed job.
// Analyses that failed are listed in FailedAnalyses with their error and left empty.
type DocumentAnalysis struct {
	ExecutiveSummary string            `json:"executive_summary,omitempty"`
	KeyPoints        []string          `json:"key_points,omitempty"`
	ActionItems      []ActionItem      `json:"action_items,omitempty"`
	Risks            []Risk            `json:"risks,omitempty"`
	Entities         []core.Entity     `json:"entities,omitempty"`
	ChunksIndexed    int               `json:"chunks_indexed,omitempty"`
	Pages            int               `json:"pages"`
	FailedAnalyses   map[string]string `json:"failed_analyses,omitempty"`
	TotalCost        float64           `json:"total_cost"`
	CompletedAt      time.Time         `json:"completed_at"`
}
