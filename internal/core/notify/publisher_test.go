package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type sent struct {
	channel string
	payload []byte
}

type recordingTransport struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (r *recordingTransport) Publish(_ context.Context, channel string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{channel, payload})
	return r.err
}

func (r *recordingTransport) on(channel string) []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sent
	for _, m := range r.msgs {
		if m.channel == channel {
			out = append(out, m)
		}
	}
	return out
}

type cloudEvent struct {
	SpecVersion string          `json:"specversion"`
	Type        string          `json:"type"`
	Subject     string          `json:"subject"`
	Data        json.RawMessage `json:"data"`
}

func newTestPublisher(tr Transport, now func() time.Time) *Publisher {
	return NewPublisher(tr, Options{Now: now, Logger: discard})
}

func TestDuplicateProgressDeliveredOnce(t *testing.T) {
	tr := &recordingTransport{}
	p := newTestPublisher(tr, nil)

	p.PublishProgress(context.Background(), "doc_1", "user_1", "extract", 20)
	p.PublishProgress(context.Background(), "doc_1", "user_1", "extract", 20)

	if got := len(tr.on("doc.doc_1")); got != 1 {
		t.Fatalf("doc channel got %d events, want 1", got)
	}
	if got := len(tr.on("user.user_1")); got != 1 {
		t.Fatalf("user channel got %d events, want 1", got)
	}
}

func TestPayloadIsCloudEvent(t *testing.T) {
	tr := &recordingTransport{}
	p := newTestPublisher(tr, nil)
	p.PublishProgress(context.Background(), "d", "u", "analyzing", 40)

	var ce cloudEvent
	if err := json.Unmarshal(tr.on("doc.d")[0].payload, &ce); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if ce.SpecVersion != "1.0" || ce.Type != EventProgress || ce.Subject != "d" {
		t.Fatalf("envelope = %+v", ce)
	}
	var ev ProgressEvent
	if err := json.Unmarshal(ce.Data, &ev); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if ev.Percentage != 40 || ev.Step != "analyzing" || ev.DedupKey != DedupKey("analyzing", 40) {
		t.Fatalf("event = %+v", ev)
	}
}

func TestDedupWindowExpires(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := &recordingTransport{}
	p := newTestPublisher(tr, func() time.Time { return now })

	p.PublishProgress(context.Background(), "d", "", "extract", 10)
	now = now.Add(DefaultDedupWindow)
	p.PublishProgress(context.Background(), "d", "", "extract", 10)

	if got := len(tr.on("doc.d")); got != 2 {
		t.Fatalf("got %d events, want 2 after the window", got)
	}
	if len(tr.on("user.")) != 0 {
		t.Fatal("no user channel without a user id")
	}
}

func TestForgetResetsDedup(t *testing.T) {
	tr := &recordingTransport{}
	p := newTestPublisher(tr, nil)

	p.PublishProgress(context.Background(), "d", "u", "completed", 100)
	p.Forget("d")
	p.PublishProgress(context.Background(), "d", "u", "completed", 100)

	if got := len(tr.on("doc.d")); got != 2 {
		t.Fatalf("got %d events, want 2", got)
	}
}

func TestDedupIsPerDocument(t *testing.T) {
	tr := &recordingTransport{}
	p := newTestPublisher(tr, nil)
	p.PublishProgress(context.Background(), "a", "u", "extract", 10)
	p.PublishProgress(context.Background(), "b", "u", "extract", 10)
	if len(tr.on("doc.a")) != 1 || len(tr.on("doc.b")) != 1 {
		t.Fatal("each document should get its event")
	}
}

func TestTransportErrorsAreSwallowed(t *testing.T) {
	tr := &recordingTransport{err: errors.New("broker down")}
	p := newTestPublisher(tr, nil)

	p.PublishProgress(context.Background(), "d", "u", "extract", 10)
	p.PublishFailure(context.Background(), "d", "u", "extract", "boom")
	p.PublishFailure(context.Background(), "d", "u", "extract", "boom")

	if got := len(tr.on("doc.d")); got != 3 {
		t.Fatalf("attempted %d publishes on doc channel, want 3", got)
	}
}
