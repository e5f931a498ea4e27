// Package notify publishes document progress events to per-document and per-user channels.
package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

const (
	EventProgress = "com.docintel.document.progress"
	EventFailed   = "com.docintel.document.failed"

	DefaultDedupWindow = 10 * time.Minute
	publishTimeout     = 5 * time.Second
)

// Transport delivers one payload to a named channel.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type ProgressEvent struct {
	DocumentID string    `json:"document_id"`
	UserID     string    `json:"user_id"`
	Step       string    `json:"step"`
	Percentage int       `json:"percentage"`
	Timestamp  time.Time `json:"timestamp"`
	DedupKey   string    `json:"dedup_key"`
}

type FailureEvent struct {
	DocumentID string    `json:"document_id"`
	UserID     string    `json:"user_id"`
	Step       string    `json:"step"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

type Options struct {
	// Window is how long an identical (document, step, percentage) event is suppressed.
	Window time.Duration
	Source string
	Now    func() time.Time
	Logger *slog.Logger
}

// Publisher is best-effort: transport failures are logged, never returned.
type Publisher struct {
	transport Transport
	window    time.Duration
	source    string
	now       func() time.Time
	logger    *slog.Logger

	mu   sync.Mutex
	seen map[string]map[string]time.Time // document -> dedup key -> sent at
}

func NewPublisher(t Transport, opts Options) *Publisher {
	if opts.Window <= 0 {
		opts.Window = DefaultDedupWindow
	}
	if opts.Source == "" {
		opts.Source = "/docintel/processing"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Publisher{
		transport: t,
		window:    opts.Window,
		source:    opts.Source,
		now:       opts.Now,
		logger:    opts.Logger.With(slog.String("component", "notify")),
		seen:      make(map[string]map[string]time.Time),
	}
}

// DedupKey is sha256 of step and percentage.
func DedupKey(step string, percentage int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", step, percentage)))
	return hex.EncodeToString(sum[:])
}

func DocumentChannel(documentID string) string { return "doc." + documentID }
func UserChannel(userID string) string         { return "user." + userID }

// PublishProgress sends a progress event unless an identical one went out within the window.
func (p *Publisher) PublishProgress(ctx context.Context, documentID, userID, step string, percentage int) {
	if percentage < 0 || percentage > 100 {
		p.logger.Warn("progress percentage out of range, clamping",
			slog.String("document_id", documentID), slog.Int("percentage", percentage))
		percentage = min(max(percentage, 0), 100)
	}

	now := p.now()
	key := DedupKey(step, percentage)
	if !p.markSent(documentID, key, now) {
		p.logger.Debug("duplicate progress event suppressed",
			slog.String("document_id", documentID), slog.String("step", step), slog.Int("percentage", percentage))
		return
	}

	p.send(ctx, EventProgress, documentID, userID, ProgressEvent{
		DocumentID: documentID,
		UserID:     userID,
		Step:       step,
		Percentage: percentage,
		Timestamp:  now,
		DedupKey:   key,
	})
}

// PublishFailure reports a failed job. Failures are never de-duplicated.
func (p *Publisher) PublishFailure(ctx context.Context, documentID, userID, step, message string) {
	p.send(ctx, EventFailed, documentID, userID, FailureEvent{
		DocumentID: documentID,
		UserID:     userID,
		Step:       step,
		Message:    message,
		Timestamp:  p.now(),
	})
}

// Forget drops the dedup state of a document at the end of a job run.
func (p *Publisher) Forget(documentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.seen, documentID)
}

func (p *Publisher) markSent(documentID, key string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	set := p.seen[documentID]
	if set == nil {
		set = make(map[string]time.Time)
		p.seen[documentID] = set
	}
	for k, at := range set {
		if now.Sub(at) >= p.window {
			delete(set, k)
		}
	}
	if _, dup := set[key]; dup {
		return false
	}
	set[key] = now
	return true
}

func (p *Publisher) send(ctx context.Context, eventType, documentID, userID string, data any) {
	payload, err := envelope(eventType, p.source, documentID, p.now(), data)
	if err != nil {
		p.logger.Error("encode event", slog.String("type", eventType), slog.Any("error", err))
		return
	}

	channels := []string{DocumentChannel(documentID)}
	if userID != "" {
		channels = append(channels, UserChannel(userID))
	}
	for _, ch := range channels {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		err := p.transport.Publish(pctx, ch, payload)
		cancel()
		if err != nil {
			p.logger.Warn("publish failed",
				slog.String("channel", ch), slog.String("type", eventType), slog.Any("error", err))
		}
	}
}

// envelope wraps data in a structured-mode CloudEvents JSON document.
func envelope(eventType, source, subject string, at time.Time, data any) ([]byte, error) {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource(source)
	e.SetType(eventType)
	e.SetSubject(subject)
	e.SetTime(at)
	if err := e.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}
