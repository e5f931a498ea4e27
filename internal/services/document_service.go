package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/docintel/internal/core"
	"github.com/markdave123-py/docintel/internal/core/extraction"
	"github.com/markdave123-py/docintel/internal/core/gateway"
	"github.com/markdave123-py/docintel/internal/core/processing_engine"
	"github.com/markdave123-py/docintel/internal/models"
)

type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error)
	GetJob(ctx context.Context, documentID string) (*models.ProcessingJob, error)
	SaveJob(ctx context.Context, job *models.ProcessingJob) error
}

type BlobStore interface {
	StoreBlob(ctx context.Context, data []byte, name, owner, contentType string) (*gateway.StoredBlob, error)
	DeleteBlob(ctx context.Context, key string) error
}

// Queue schedules and cancels processing jobs.
type Queue interface {
	Enqueue(ctx context.Context, req processing_engine.Request) error
	Cancel(ctx context.Context, documentID string) error
}

type Exporter interface {
	AnalysisXLSX(doc *models.Document) ([]byte, error)
}

// DocumentView is a document together with its processing job.
type DocumentView struct {
	*models.Document
	Job *models.ProcessingJob `json:"job,omitempty"`
}

// JobStatus is the client-facing summary of a job.
type JobStatus struct {
	DocumentID string          `json:"document_id"`
	State      models.JobState `json:"state"`
	FailedStep string          `json:"failed_step,omitempty"`
	Error      string          `json:"error,omitempty"`
	Steps      []string        `json:"steps"`
	TotalCost  float64         `json:"total_cost"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type DocumentService struct {
	db       DocumentStore
	blobs    BlobStore
	queue    Queue
	exporter Exporter
	maxBytes int64
	logger   *slog.Logger
}

func NewDocumentService(db DocumentStore, blobs BlobStore, queue Queue, exporter Exporter, maxBytes int64, logger *slog.Logger) *DocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentService{
		db:       db,
		blobs:    blobs,
		queue:    queue,
		exporter: exporter,
		maxBytes: maxBytes,
		logger:   logger.With(slog.String("component", "documents")),
	}
}

// Upload stores the file, creates the document and its job, and schedules processing.
func (s *DocumentService) Upload(ctx context.Context, userID, fileName, declaredType string, data []byte, opts models.AnalysisOptions) (*models.Document, error) {
	fileName = filepath.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." || fileName == "/" {
		return nil, core.NewValidationError("file", "name is required")
	}
	if len(data) == 0 {
		return nil, core.NewValidationError("file", "is empty")
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, core.NewValidationError("file", "exceeds %d bytes", s.maxBytes)
	}
	contentType := extraction.DetectContentType(declaredType, fileName)
	if !extraction.Supported[contentType] {
		return nil, core.NewValidationError("file", "content type %q is not supported", contentType)
	}
	if !opts.GenerateSummary && !opts.ExtractEntities && !opts.ExtractActions && !opts.ExtractRisks && !opts.IndexEmbeddings {
		return nil, core.NewValidationError("options", "at least one analysis must be enabled")
	}

	docID := uuid.NewString()
	blob, err := s.blobs.StoreBlob(ctx, data, path.Join(docID, fileName), userID, contentType)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	now := time.Now().UTC()
	doc := &models.Document{
		ID:          docID,
		UserID:      userID,
		FileName:    fileName,
		StorageURL:  blob.URL,
		BlobKey:     blob.Key,
		ContentType: contentType,
		Status:      models.DocumentStatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	job := &models.ProcessingJob{
		DocumentID:  docID,
		UserID:      userID,
		State:       models.JobUploaded,
		BlobKey:     blob.Key,
		ContentType: contentType,
		Options:     opts,
		Checkpoint:  models.Checkpoint{},
		StartedAt:   now,
	}
	if err := s.db.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := s.queue.Enqueue(ctx, requestFor(doc, job)); err != nil {
		return nil, fmt.Errorf("schedule processing: %w", err)
	}

	s.logger.Info("document uploaded",
		slog.String("document_id", docID),
		slog.String("user_id", userID),
		slog.String("content_type", contentType),
		slog.Int("bytes", len(data)),
	)
	return doc, nil
}

func requestFor(doc *models.Document, job *models.ProcessingJob) processing_engine.Request {
	return processing_engine.Request{
		DocumentID:  doc.ID,
		UserID:      doc.UserID,
		BlobKey:     doc.BlobKey,
		ContentType: doc.ContentType,
		Options:     job.Options,
	}
}

// owned loads a document and hides other users' documents as not found.
func (s *DocumentService) owned(ctx context.Context, userID, id string) (*models.Document, error) {
	doc, err := s.db.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return doc, nil
}

func (s *DocumentService) job(ctx context.Context, id string) (*models.ProcessingJob, error) {
	job, err := s.db.GetJob(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	return job, err
}

func (s *DocumentService) Get(ctx context.Context, userID, id string) (*DocumentView, error) {
	doc, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	job, err := s.job(ctx, id)
	if err != nil {
		return nil, err
	}
	return &DocumentView{Document: doc, Job: job}, nil
}

func (s *DocumentService) List(ctx context.Context, userID string) ([]models.Document, error) {
	return s.db.ListDocumentsByUser(ctx, userID)
}

// Process re-invokes the workflow. Completed jobs are returned untouched and
// failed ones resume after their last recorded step.
func (s *DocumentService) Process(ctx context.Context, userID, id string) (*JobStatus, error) {
	doc, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	job, err := s.job(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		job = &models.ProcessingJob{Options: models.DefaultAnalysisOptions()}
	} else if job.State == models.JobCompleted {
		return statusOf(job), nil
	} else if job.State == models.JobCancelled {
		return nil, core.NewValidationError("document", "processing was cancelled")
	}
	if err := s.queue.Enqueue(ctx, requestFor(doc, job)); errors.Is(err, core.ErrInProgress) {
		// a worker already owns the job; report where it is
		current, err := s.job(ctx, id)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return &JobStatus{DocumentID: id, State: models.JobUploaded, Steps: []string{}}, nil
		}
		return statusOf(current), nil
	} else if err != nil {
		return nil, fmt.Errorf("schedule processing: %w", err)
	}
	s.logger.Info("processing requested", slog.String("document_id", id), slog.String("state", string(job.State)))

	if job.DocumentID == "" {
		return &JobStatus{DocumentID: id, State: models.JobUploaded, Steps: []string{}}, nil
	}
	return statusOf(job), nil
}

func (s *DocumentService) Status(ctx context.Context, userID, id string) (*JobStatus, error) {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return nil, err
	}
	job, err := s.db.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return statusOf(job), nil
}

func statusOf(job *models.ProcessingJob) *JobStatus {
	return &JobStatus{
		DocumentID: job.DocumentID,
		State:      job.State,
		FailedStep: job.FailedStep,
		Error:      job.ErrorMessage,
		Steps:      job.Checkpoint.Names(),
		TotalCost:  job.TotalCost,
		UpdatedAt:  job.UpdatedAt,
	}
}

// Delete cancels any running job, then removes the blob and every row of the document.
func (s *DocumentService) Delete(ctx context.Context, userID, id string) error {
	doc, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.queue.Cancel(ctx, id); err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if doc.BlobKey != "" {
		if err := s.blobs.DeleteBlob(ctx, doc.BlobKey); err != nil {
			s.logger.Warn("blob delete failed", slog.String("document_id", id), slog.Any("error", err))
		}
	}
	if err := s.db.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	s.logger.Info("document deleted", slog.String("document_id", id))
	return nil
}

// Chunks lists the indexed chunks of a document in position order.
func (s *DocumentService) Chunks(ctx context.Context, userID, id string) ([]models.DocumentChunk, error) {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return nil, err
	}
	chunks, err := s.db.GetChunksByDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if chunks == nil {
		chunks = []models.DocumentChunk{}
	}
	return chunks, nil
}

// Export renders the analysis workbook and a download file name.
func (s *DocumentService) Export(ctx context.Context, userID, id string) ([]byte, string, error) {
	doc, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, "", err
	}
	if doc.Analysis == nil {
		return nil, "", core.NewValidationError("document", "analysis is not ready")
	}
	data, err := s.exporter.AnalysisXLSX(doc)
	if err != nil {
		return nil, "", fmt.Errorf("export: %w", err)
	}
	name := strings.TrimSuffix(doc.FileName, filepath.Ext(doc.FileName)) + "-analysis.xlsx"
	return data, name, nil
}
