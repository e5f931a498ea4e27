// Package retry runs hosted-API calls under a bounded retry policy and
// classifies their failures as transient or fatal.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/markdave123-py/docintel/internal/core"
)

// Policy bounds retries for one call.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// AttemptTimeout caps each individual attempt. Zero leaves the caller's deadline alone.
	AttemptTimeout time.Duration
	// Jitter applies full jitter to the exponential delay.
	Jitter bool
}

// DefaultPolicy is 3 attempts, 500ms doubling up to 8s, 60s per attempt.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		AttemptTimeout: 60 * time.Second,
		Jitter:         true,
	}
}

// Delay returns the wait before retry attempt n (1-indexed):
// min(InitialBackoff * 2^(n-1), MaxBackoff), optionally jittered into [0, d].
func (p Policy) Delay(attempt int) time.Duration {
	if p.InitialBackoff <= 0 {
		return 0
	}
	d := float64(p.InitialBackoff) * math.Pow(2, float64(attempt-1))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	if p.Jitter {
		d = rand.Float64() * d //nolint:gosec // jitter does not need crypto rand
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, fails fatally, or MaxAttempts is exhausted.
// Every returned error is a *core.ServiceError so callers can test it with
// errors.Is(err, core.ErrTransient) / core.ErrFatal. Validation errors pass through untouched.
func Do[T any](ctx context.Context, p Policy, op string, logger *slog.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if logger == nil {
		logger = slog.Default()
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var (
		lastErr error
		tried   int
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		tried = attempt
		out, err := call(ctx, p.AttemptTimeout, fn)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, core.ErrValidation) {
			return zero, err
		}
		if !IsTransient(err) {
			return zero, &core.ServiceError{Op: op, Transient: false, Attempts: attempt, Err: err}
		}
		lastErr = err

		// the caller's own context ending is not something we can wait out
		if ctx.Err() != nil {
			break
		}
		if attempt == attempts {
			break
		}

		wait := p.Delay(attempt)
		logger.Warn("retrying transient failure",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
			slog.Any("error", err),
		)
		select {
		case <-ctx.Done():
			return zero, &core.ServiceError{Op: op, Transient: true, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(wait):
		}
	}
	return zero, &core.ServiceError{Op: op, Transient: true, Attempts: tried, Err: lastErr}
}

func call[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx)
}
