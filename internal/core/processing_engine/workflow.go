// Package processing_engine runs the checkpointed document analysis workflow
// and the worker pool that feeds it.
package processing_engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/docintel/internal/core"
	"github.com/markdave123-py/docintel/internal/core/embedding"
	"github.com/markdave123-py/docintel/internal/core/gateway"
	"github.com/markdave123-py/docintel/internal/models"
)

// Checkpoint step names.
const (
	StepExtract    = "extract"
	StepSummary    = "summary"
	StepEntities   = "entities"
	StepActions    = "actions"
	StepRisks      = "risks"
	StepEmbeddings = "embeddings"
	StepAggregate  = "aggregate"
)

// Request starts or resumes the job of one document.
type Request struct {
	DocumentID  string                 `json:"document_id"`
	UserID      string                 `json:"user_id"`
	BlobKey     string                 `json:"blob_key"`
	ContentType string                 `json:"content_type"`
	Options     models.AnalysisOptions `json:"options"`
}

type Deps struct {
	Store    JobStore
	Extract  Extractor
	Entities EntityAnalyzer
	Agents   AgentDispatcher
	Embedder Embedder
	Notifier Notifier
	Logger   *slog.Logger
	// Search-index chunking.
	ChunkTokens   int
	ChunkOverlap  int
	SummaryLength string
	Now           func() time.Time
}

type Workflow struct {
	store         JobStore
	extract       Extractor
	entities      EntityAnalyzer
	agents        AgentDispatcher
	embedder      Embedder
	notifier      Notifier
	logger        *slog.Logger
	chunkTokens   int
	chunkOverlap  int
	summaryLength string
	now           func() time.Time

	// documents with a Run in progress
	mu     sync.Mutex
	active map[string]struct{}
}

func NewWorkflow(d Deps) *Workflow {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.ChunkTokens <= 0 {
		d.ChunkTokens = 500
	}
	if d.ChunkOverlap < 0 {
		d.ChunkOverlap = 0
	} else if d.ChunkOverlap == 0 {
		d.ChunkOverlap = 50
	}
	if d.SummaryLength == "" {
		d.SummaryLength = "standard"
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Workflow{
		store:         d.Store,
		extract:       d.Extract,
		entities:      d.Entities,
		agents:        d.Agents,
		embedder:      d.Embedder,
		notifier:      d.Notifier,
		logger:        d.Logger.With(slog.String("component", "workflow")),
		chunkTokens:   d.ChunkTokens,
		chunkOverlap:  d.ChunkOverlap,
		summaryLength: d.SummaryLength,
		now:           d.Now,
		active:        map[string]struct{}{},
	}
}

// claim marks documentID as running in this process. A job has one owner at a time.
func (w *Workflow) claim(documentID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.active[documentID]; busy {
		return false
	}
	w.active[documentID] = struct{}{}
	return true
}

func (w *Workflow) release(documentID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.active, documentID)
}

// run is the mutable state of one Run call. mu guards job.
type run struct {
	w    *Workflow
	mu   sync.Mutex
	job  *models.ProcessingJob
	prog *progress
	log  *slog.Logger
}

// Run drives a document from its current checkpoint to COMPLETED. Completed jobs
// return immediately, failed jobs resume after their last recorded step, and
// cancelled jobs are refused.
func (w *Workflow) Run(ctx context.Context, req Request) (*models.ProcessingJob, error) {
	if req.DocumentID == "" {
		return nil, core.NewValidationError("document_id", "is required")
	}
	if !w.claim(req.DocumentID) {
		return nil, fmt.Errorf("document %s: %w", req.DocumentID, core.ErrInProgress)
	}
	defer w.release(req.DocumentID)

	job, err := w.store.GetJob(ctx, req.DocumentID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		if req.BlobKey == "" {
			return nil, core.NewValidationError("blob_key", "is required")
		}
		job = &models.ProcessingJob{
			DocumentID:  req.DocumentID,
			UserID:      req.UserID,
			State:       models.JobUploaded,
			BlobKey:     req.BlobKey,
			ContentType: req.ContentType,
			Options:     req.Options,
			Checkpoint:  models.Checkpoint{},
			StartedAt:   w.now().UTC(),
		}
		if err := w.store.SaveJob(ctx, job); err != nil {
			return nil, fmt.Errorf("create job: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("load job: %w", err)
	}

	switch job.State {
	case models.JobCompleted:
		return job, nil
	case models.JobCancelled:
		return job, fmt.Errorf("document %s: %w", job.DocumentID, core.ErrJobCancelled)
	case models.JobFailed:
		job.ErrorMessage = ""
		job.FailedStep = ""
	}

	r := &run{
		w:   w,
		job: job,
		prog: &progress{
			notifier: w.notifier,
			docID:    job.DocumentID,
			userID:   job.UserID,
		},
		log: w.logger.With(slog.String("document_id", job.DocumentID)),
	}
	defer w.notifier.Forget(job.DocumentID)

	r.log.Info("workflow started",
		slog.String("state", string(job.State)),
		slog.Any("checkpoint", job.Checkpoint.Names()),
	)
	if err := w.store.UpdateDocumentStatus(ctx, job.DocumentID, models.DocumentStatusProcessing); err != nil {
		r.log.Warn("document status update failed", slog.Any("error", err))
	}

	if err := r.execute(ctx); err != nil {
		snap := r.snapshot()
		if errors.Is(err, core.ErrJobCancelled) {
			r.log.Info("workflow stopped: job cancelled")
			snap.State = models.JobCancelled
		}
		return snap, err
	}
	r.log.Info("workflow completed", slog.Float64("total_cost", r.job.TotalCost))
	return r.snapshot(), nil
}

func (r *run) execute(ctx context.Context) error {
	text, pages, err := r.extractStep(ctx)
	if err != nil {
		return r.fail(ctx, StepExtract, err)
	}

	if err := r.analyze(ctx, text); err != nil {
		return r.fail(ctx, "analyze", err)
	}

	if err := r.aggregate(ctx, pages); err != nil {
		return r.fail(ctx, StepAggregate, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.transitionLocked(ctx, models.JobCompleted); err != nil {
		return r.failLocked(ctx, StepAggregate, err)
	}
	r.prog.set(ctx, "completed", pctCompleted)
	return nil
}

func (r *run) extractStep(ctx context.Context) (string, int, error) {
	if rec, ok := r.job.Checkpoint.Find(StepExtract); ok {
		var out gateway.ExtractionResult
		if err := json.Unmarshal(rec.Output, &out); err != nil {
			return "", 0, fmt.Errorf("decode extract checkpoint: %w", err)
		}
		r.log.Debug("step skipped", slog.String("step", StepExtract))
		return out.Text, out.Pages, nil
	}

	if err := r.transition(ctx, models.JobExtracting, "extracting", pctExtracting); err != nil {
		return "", 0, err
	}
	res, err := r.w.extract.ExtractText(ctx, gateway.BlobRef{Key: r.job.BlobKey, ContentType: r.job.ContentType})
	if err != nil {
		return "", 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.recordLocked(ctx, StepExtract, res, res.Cost, nil); err != nil {
		return "", 0, err
	}
	r.job.State = models.JobExtracted
	if err := r.saveLocked(ctx); err != nil {
		return "", 0, err
	}
	r.prog.set(ctx, "extracted", pctExtracted)
	return res.Text, res.Pages, nil
}

type unit struct {
	step string
	fn   func(ctx context.Context, text string) (any, float64, error)
}

func (r *run) units() []unit {
	o := r.job.Options
	var us []unit
	if o.GenerateSummary {
		us = append(us, unit{StepSummary, r.summary})
	}
	if o.ExtractEntities {
		us = append(us, unit{StepEntities, r.entities})
	}
	if o.ExtractActions {
		us = append(us, unit{StepActions, r.actions})
	}
	if o.ExtractRisks {
		us = append(us, unit{StepRisks, r.risks})
	}
	if o.IndexEmbeddings {
		us = append(us, unit{StepEmbeddings, r.embeddings})
	}
	return us
}

// analyze runs the enabled units concurrently. A unit failure is recorded on its
// own step and never stops its siblings; only persistence errors abort the phase.
func (r *run) analyze(ctx context.Context, text string) error {
	us := r.units()
	r.prog.units = len(us)

	if err := r.transition(ctx, models.JobAnalyzing, "analyzing", pctAnalyzing); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, u := range us {
		if r.recorded(u.step) {
			r.log.Debug("step skipped", slog.String("step", u.step))
			r.prog.unitDone(ctx, u.step)
			continue
		}
		g.Go(func() error {
			out, cost, err := u.fn(gctx, text)
			if err != nil {
				if errors.Is(err, core.ErrJobCancelled) || gctx.Err() != nil {
					return err
				}
				r.log.Warn("analysis unit failed", slog.String("step", u.step), slog.Any("error", err))
			}

			r.mu.Lock()
			defer r.mu.Unlock()
			if err := r.recordLocked(gctx, u.step, out, cost, err); err != nil {
				return err
			}
			r.prog.unitDone(gctx, u.step)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return r.transition(ctx, models.JobAnalyzed, "analyzed", pctAnalyzed)
}

func (r *run) recorded(step string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.Checkpoint.Has(step)
}

func (r *run) aggregate(ctx context.Context, pages int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.job.Checkpoint.Has(StepAggregate) {
		return nil
	}
	analysis, err := buildAnalysis(r.job.Checkpoint, pages)
	if err != nil {
		return err
	}
	analysis.CompletedAt = r.w.now().UTC()

	if err := r.checkActive(ctx); err != nil {
		return err
	}
	if err := r.w.store.SaveDocumentAnalysis(ctx, r.job.DocumentID, analysis); err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return r.recordLocked(ctx, StepAggregate, analysis, 0, nil)
}

// buildAnalysis folds the checkpoint into the document-level result.
func buildAnalysis(cp models.Checkpoint, pages int) (*models.DocumentAnalysis, error) {
	a := &models.DocumentAnalysis{Pages: pages}
	for _, rec := range cp {
		a.TotalCost += rec.Cost
		if rec.Error != "" {
			if a.FailedAnalyses == nil {
				a.FailedAnalyses = map[string]string{}
			}
			a.FailedAnalyses[rec.Name] = rec.Error
			continue
		}
		var err error
		switch rec.Name {
		case StepSummary:
			var s summaryOutput
			err = json.Unmarshal(rec.Output, &s)
			a.ExecutiveSummary, a.KeyPoints = s.ExecutiveSummary, s.KeyPoints
		case StepEntities:
			err = json.Unmarshal(rec.Output, &a.Entities)
		case StepActions:
			err = json.Unmarshal(rec.Output, &a.ActionItems)
		case StepRisks:
			err = json.Unmarshal(rec.Output, &a.Risks)
		case StepEmbeddings:
			var e embeddingsOutput
			err = json.Unmarshal(rec.Output, &e)
			a.ChunksIndexed = e.Chunks
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s checkpoint: %w", rec.Name, err)
		}
	}
	return a, nil
}

// transition persists a new state and publishes its milestone.
func (r *run) transition(ctx context.Context, state models.JobState, step string, pct int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.transitionLocked(ctx, state); err != nil {
		return err
	}
	r.prog.set(ctx, step, pct)
	return nil
}

func (r *run) transitionLocked(ctx context.Context, state models.JobState) error {
	r.job.State = state
	return r.saveLocked(ctx)
}

// recordLocked appends a step to the checkpoint and persists the job.
func (r *run) recordLocked(ctx context.Context, step string, out any, cost float64, stepErr error) error {
	rec := models.StepRecord{Name: step, Cost: cost, CompletedAt: r.w.now().UTC()}
	if stepErr != nil {
		rec.Error = stepErr.Error()
	} else if out != nil {
		raw, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("encode %s output: %w", step, err)
		}
		rec.Output = raw
	}
	r.job.Checkpoint = append(r.job.Checkpoint, rec)
	r.job.TotalCost += cost
	return r.saveLocked(ctx)
}

// saveLocked re-reads the job row first: a cancelled or deleted job is never written.
func (r *run) saveLocked(ctx context.Context) error {
	if err := r.checkActive(ctx); err != nil {
		return err
	}
	if err := r.w.store.SaveJob(ctx, r.job); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

func (r *run) checkActive(ctx context.Context) error {
	cur, err := r.w.store.GetJob(ctx, r.job.DocumentID)
	if errors.Is(err, core.ErrNotFound) || (err == nil && cur.State == models.JobCancelled) {
		return fmt.Errorf("document %s: %w", r.job.DocumentID, core.ErrJobCancelled)
	}
	if err != nil {
		return fmt.Errorf("reload job: %w", err)
	}
	return nil
}

func (r *run) fail(ctx context.Context, step string, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failLocked(ctx, step, err)
}

func (r *run) failLocked(ctx context.Context, step string, err error) error {
	if errors.Is(err, core.ErrJobCancelled) {
		return err
	}
	var stepErr *core.WorkflowStepError
	if errors.As(err, &stepErr) {
		step = stepErr.Step
	} else {
		stepErr = &core.WorkflowStepError{Step: step, Err: err}
	}

	r.job.State = models.JobFailed
	r.job.FailedStep = step
	r.job.ErrorMessage = err.Error()
	r.log.Error("workflow failed", slog.String("step", step), slog.Any("error", err))

	// the failure must be recorded even when ctx is what failed
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	if serr := r.saveLocked(ctx); serr != nil {
		r.log.Error("persist failed job", slog.Any("error", serr))
		if errors.Is(serr, core.ErrJobCancelled) {
			return serr
		}
	}
	if uerr := r.w.store.UpdateDocumentStatus(ctx, r.job.DocumentID, models.DocumentStatusFailed); uerr != nil {
		r.log.Warn("document status update failed", slog.Any("error", uerr))
	}
	r.w.notifier.PublishFailure(ctx, r.job.DocumentID, r.job.UserID, step, err.Error())
	return stepErr
}

func (r *run) snapshot() *models.ProcessingJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r.job
	cp.Checkpoint = append(models.Checkpoint(nil), r.job.Checkpoint...)
	return &cp
}

// Unit outputs as stored in the checkpoint.

type summaryOutput struct {
	ExecutiveSummary string   `json:"executive_summary"`
	KeyPoints        []string `json:"key_points"`
	Parsed           bool     `json:"parsed"`
}

type embeddingsOutput struct {
	Chunks  int    `json:"chunks"`
	Skipped int    `json:"skipped,omitempty"`
	Model   string `json:"model"`
}

func (r *run) summary(ctx context.Context, text string) (any, float64, error) {
	res, err := r.w.agents.Dispatch(ctx, "summary", map[string]any{"text": text, "length": r.w.summaryLength})
	if err != nil {
		return nil, 0, err
	}
	out := summaryOutput{Parsed: res.Parsed}
	if err := res.Decode(&out); err != nil {
		return nil, res.Cost, err
	}
	out.Parsed = res.Parsed
	return out, res.Cost, nil
}

func (r *run) entities(ctx context.Context, text string) (any, float64, error) {
	res, err := r.w.entities.AnalyzeEntities(ctx, text)
	if err != nil {
		return nil, 0, err
	}
	return res.Entities, res.Cost, nil
}

func (r *run) actions(ctx context.Context, text string) (any, float64, error) {
	res, err := r.w.agents.Dispatch(ctx, "action_item", map[string]any{"text": text})
	if err != nil {
		return nil, 0, err
	}
	var out struct {
		ActionItems []models.ActionItem `json:"action_items"`
	}
	if err := res.Decode(&out); err != nil {
		return nil, res.Cost, err
	}
	if out.ActionItems == nil {
		out.ActionItems = []models.ActionItem{}
	}
	return out.ActionItems, res.Cost, nil
}

func (r *run) risks(ctx context.Context, text string) (any, float64, error) {
	res, err := r.w.agents.Dispatch(ctx, "analysis", map[string]any{"text": text, "analysis_type": "risks"})
	if err != nil {
		return nil, 0, err
	}
	var out struct {
		Risks []models.Risk `json:"risks"`
	}
	if err := res.Decode(&out); err != nil {
		return nil, res.Cost, err
	}
	if out.Risks == nil {
		out.Risks = []models.Risk{}
	}
	return out.Risks, res.Cost, nil
}

// embeddings indexes the text for search and stores the document-level mean vector.
func (r *run) embeddings(ctx context.Context, text string) (any, float64, error) {
	chunks := embedding.SplitText(text, r.w.chunkTokens, r.w.chunkOverlap)
	if len(chunks) == 0 {
		return embeddingsOutput{Model: r.w.embedder.Model()}, 0, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	model := r.w.embedder.Model()
	embs, err := r.w.embedder.EmbedBatch(ctx, texts, model)
	var partial *embedding.BatchError
	if err != nil && !errors.As(err, &partial) {
		return nil, 0, err
	}
	if partial != nil && len(partial.Failed) == len(chunks) {
		return nil, 0, err
	}

	var cost float64
	rows := make([]models.DocumentChunk, 0, len(chunks))
	vecs := make([][]float32, 0, len(chunks))
	for i, c := range chunks {
		if partial != nil && partial.Failed[i] != nil {
			continue
		}
		cost += embs[i].Cost
		vecs = append(vecs, embs[i].Vector)
		rows = append(rows, models.DocumentChunk{
			ID:         uuid.NewString(),
			DocumentID: r.job.DocumentID,
			Text:       c.Text,
			Embedding:  embs[i].Vector,
			Position:   c.Position,
			TokenCount: c.Tokens,
		})
	}
	skipped := len(chunks) - len(rows)
	if skipped > 0 {
		r.log.Warn("indexing without some chunks", slog.Int("skipped", skipped), slog.Any("error", err))
	}
	mean, err := embedding.Mean(vecs)
	if err != nil {
		return nil, cost, err
	}

	// late results: do not index a document that went away meanwhile
	if err := r.checkActive(ctx); err != nil {
		return nil, cost, err
	}
	if err := r.w.store.ReplaceDocumentChunks(ctx, r.job.DocumentID, rows); err != nil {
		return nil, cost, fmt.Errorf("store chunks: %w", err)
	}
	if err := r.w.store.SaveDocumentEmbedding(ctx, r.job.DocumentID, model, mean); err != nil {
		return nil, cost, fmt.Errorf("store document embedding: %w", err)
	}
	return embeddingsOutput{Chunks: len(rows), Skipped: skipped, Model: model}, cost, nil
}
