package processing_engine

import (
	"context"

	"github.com/markdave123-py/docintel/internal/core/agents"
	"github.com/markdave123-py/docintel/internal/core/embedding"
	"github.com/markdave123-py/docintel/internal/core/gateway"
	"github.com/markdave123-py/docintel/internal/models"
)

// JobStore is the persistence the workflow needs.
type JobStore interface {
	GetJob(ctx context.Context, documentID string) (*models.ProcessingJob, error)
	SaveJob(ctx context.Context, job *models.ProcessingJob) error
	UpdateDocumentStatus(ctx context.Context, id string, status string) error
	SaveDocumentAnalysis(ctx context.Context, id string, analysis *models.DocumentAnalysis) error
	ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error
	SaveDocumentEmbedding(ctx context.Context, documentID, model string, vec []float32) error
}

type Extractor interface {
	ExtractText(ctx context.Context, ref gateway.BlobRef) (*gateway.ExtractionResult, error)
}

type EntityAnalyzer interface {
	AnalyzeEntities(ctx context.Context, text string) (*gateway.EntityResult, error)
}

type AgentDispatcher interface {
	Dispatch(ctx context.Context, name string, input map[string]any) (*agents.Result, error)
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string, model string) ([]embedding.Embedding, error)
	Model() string
}

type Notifier interface {
	PublishProgress(ctx context.Context, documentID, userID, step string, percentage int)
	PublishFailure(ctx context.Context, documentID, userID, step, message string)
	Forget(documentID string)
}
