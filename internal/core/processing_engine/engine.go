package processing_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/markdave123-py/docintel/internal/core"
	"github.com/markdave123-py/docintel/internal/models"
)

// Runner is what the engine's workers execute.
type Runner interface {
	Run(ctx context.Context, req Request) (*models.ProcessingJob, error)
}

// Engine is an in-memory job queue drained by a fixed pool of workers.
type Engine struct {
	runner     Runner
	store      JobStore
	jobs       chan Request
	jobTimeout time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{} // queued or running
}

// NewEngine constructs the engine with a bounded job queue.
func NewEngine(runner Runner, store JobStore, queueSize int, jobTimeout time.Duration, logger *slog.Logger) *Engine {
	if queueSize <= 0 {
		queueSize = 64
	}
	if jobTimeout <= 0 {
		jobTimeout = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		runner:     runner,
		store:      store,
		jobs:       make(chan Request, queueSize),
		jobTimeout: jobTimeout,
		logger:     logger.With(slog.String("component", "engine")),
		pending:    map[string]struct{}{},
	}
}

// Start runs numWorkers goroutines reading from the jobs channel until ctx ends.
func (e *Engine) Start(ctx context.Context, numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	for w := 1; w <= numWorkers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					e.logger.Info("worker shutting down", slog.Int("worker", w))
					return
				case req := <-e.jobs:
					e.process(ctx, w, req)
				}
			}
		}(w)
	}
}

func (e *Engine) process(ctx context.Context, worker int, req Request) {
	defer e.done(req.DocumentID)

	jctx, cancel := context.WithTimeout(ctx, e.jobTimeout)
	defer cancel()

	log := e.logger.With(slog.Int("worker", worker), slog.String("document_id", req.DocumentID))
	log.Info("processing document")

	job, err := e.runner.Run(jctx, req)
	switch {
	case errors.Is(err, core.ErrJobCancelled):
		log.Info("job cancelled")
	case errors.Is(err, core.ErrInProgress):
		log.Info("job already running")
	case err != nil:
		log.Error("processing failed", slog.Any("error", err))
	default:
		log.Info("processing finished", slog.String("state", string(job.State)), slog.Float64("cost", job.TotalCost))
	}
}

// Enqueue schedules a document for processing. It blocks while the queue is full.
// A document that is already queued or running is refused with core.ErrInProgress.
func (e *Engine) Enqueue(ctx context.Context, req Request) error {
	if req.DocumentID == "" {
		return core.NewValidationError("document_id", "is required")
	}

	e.mu.Lock()
	if _, busy := e.pending[req.DocumentID]; busy {
		e.mu.Unlock()
		return fmt.Errorf("enqueue %s: %w", req.DocumentID, core.ErrInProgress)
	}
	e.pending[req.DocumentID] = struct{}{}
	e.mu.Unlock()

	select {
	case e.jobs <- req:
		return nil
	case <-ctx.Done():
		e.done(req.DocumentID)
		return fmt.Errorf("enqueue %s: %w", req.DocumentID, ctx.Err())
	}
}

func (e *Engine) done(documentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, documentID)
}

// Pending reports whether documentID is queued or running.
func (e *Engine) Pending(documentID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pending[documentID]
	return ok
}

// Cancel marks the job CANCELLED so a running workflow stops before persisting
// anything else. In-flight hosted calls are left to finish or time out.
func (e *Engine) Cancel(ctx context.Context, documentID string) error {
	job, err := e.store.GetJob(ctx, documentID)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.State == models.JobCancelled {
		return nil
	}
	job.State = models.JobCancelled
	if err := e.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	e.logger.Info("job cancelled", slog.String("document_id", documentID))
	return nil
}
