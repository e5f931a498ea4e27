package processing_engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/markdave123-py/docintel/internal/core"
	"github.com/markdave123-py/docintel/internal/models"
)

type chanRunner struct{ got chan Request }

func (c *chanRunner) Run(_ context.Context, req Request) (*models.ProcessingJob, error) {
	c.got <- req
	return &models.ProcessingJob{DocumentID: req.DocumentID, State: models.JobCompleted}, nil
}

func TestEngine_WorkersDrainQueue(t *testing.T) {
	runner := &chanRunner{got: make(chan Request, 3)}
	eng := NewEngine(runner, newMemStore(), 3, time.Second, discard)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx, 2)

	for _, id := range []string{"a", "b", "c"} {
		if err := eng.Enqueue(ctx, Request{DocumentID: id}); err != nil {
			t.Fatalf("Enqueue(%s): %v", id, err)
		}
	}
	seen := map[string]bool{}
	for range 3 {
		select {
		case req := <-runner.got:
			seen[req.DocumentID] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d jobs processed", len(seen))
		}
	}
	if len(seen) != 3 {
		t.Errorf("processed %v", seen)
	}
}

func TestEngine_EnqueueValidationAndBackpressure(t *testing.T) {
	eng := NewEngine(&chanRunner{got: make(chan Request, 1)}, newMemStore(), 1, time.Second, discard)

	if err := eng.Enqueue(context.Background(), Request{}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if err := eng.Enqueue(context.Background(), Request{DocumentID: "a"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := eng.Enqueue(ctx, Request{DocumentID: "b"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled on full queue", err)
	}
}

func TestEngine_Cancel(t *testing.T) {
	store := newMemStore()
	store.put(&models.ProcessingJob{DocumentID: "doc-1", State: models.JobAnalyzing})
	eng := NewEngine(&chanRunner{}, store, 1, time.Second, discard)

	if err := eng.Cancel(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := store.job("doc-1").State; got != models.JobCancelled {
		t.Errorf("state = %s, want CANCELLED", got)
	}
	if err := eng.Cancel(context.Background(), "missing"); err != nil {
		t.Errorf("Cancel(missing) = %v, want nil", err)
	}
}

type blockingRunner struct {
	started chan Request
	release chan struct{}
}

func (b *blockingRunner) Run(ctx context.Context, req Request) (*models.ProcessingJob, error) {
	b.started <- req
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &models.ProcessingJob{DocumentID: req.DocumentID, State: models.JobCompleted}, nil
}

func TestEngine_RefusesDocumentAlreadyInFlight(t *testing.T) {
	runner := &blockingRunner{started: make(chan Request, 2), release: make(chan struct{})}
	eng := NewEngine(runner, newMemStore(), 4, time.Minute, discard)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx, 2)

	if err := eng.Enqueue(ctx, Request{DocumentID: "a"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	if err := eng.Enqueue(ctx, Request{DocumentID: "a"}); !errors.Is(err, core.ErrInProgress) {
		t.Fatalf("duplicate Enqueue err = %v, want in progress", err)
	}
	if err := eng.Enqueue(ctx, Request{DocumentID: "b"}); err != nil {
		t.Fatalf("Enqueue(b): %v", err)
	}
	close(runner.release)

	deadline := time.Now().Add(5 * time.Second)
	for eng.Pending("a") {
		if time.Now().After(deadline) {
			t.Fatal("a still pending after its run finished")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := eng.Enqueue(ctx, Request{DocumentID: "a"}); err != nil {
		t.Errorf("Enqueue after completion: %v", err)
	}
}

func TestEngine_CancelledEnqueueReleasesDocument(t *testing.T) {
	eng := NewEngine(&chanRunner{}, newMemStore(), 1, time.Second, discard)
	if err := eng.Enqueue(context.Background(), Request{DocumentID: "a"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := eng.Enqueue(ctx, Request{DocumentID: "b"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if eng.Pending("b") {
		t.Error("b left pending after a cancelled enqueue")
	}
}
