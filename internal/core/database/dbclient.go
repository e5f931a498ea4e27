package db

import (
	"context"

	"github.com/markdave123-py/docintel/internal/models"
)

// DbClient is the persistence surface used by services and the processing engine.
// Document and job lookups return core.ErrNotFound for missing rows.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status string) error
	SaveDocumentAnalysis(ctx context.Context, id string, analysis *models.DocumentAnalysis) error
	DeleteDocument(ctx context.Context, id string) error

	ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error)
	SearchDocumentChunks(ctx context.Context, docID string, queryVec []float32, limit int) ([]models.SearchHit, error)
	SearchUserChunks(ctx context.Context, userID string, queryVec []float32, limit int) ([]models.SearchHit, error)
	SaveDocumentEmbedding(ctx context.Context, documentID, model string, vec []float32) error

	GetJob(ctx context.Context, documentID string) (*models.ProcessingJob, error)
	SaveJob(ctx context.Context, job *models.ProcessingJob) error

	Close() error
}
