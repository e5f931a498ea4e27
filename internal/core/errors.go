package core

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. Typed errors below match them through errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrTransient    = errors.New("transient service error")
	ErrFatal        = errors.New("fatal service error")
	ErrParse        = errors.New("model response is not valid JSON")
	ErrCircuitOpen  = errors.New("circuit open")
	ErrRateLimited  = errors.New("rate limited")
	ErrStepFailed   = errors.New("workflow step failed")
	ErrNotFound     = errors.New("resource not found")
	ErrJobCancelled = errors.New("job cancelled")
	ErrInProgress   = errors.New("job already in progress")
)

// ValidationError reports bad caller input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ServiceError wraps a failure from a hosted API call.
// Transient errors are eligible for retry; everything else is fatal.
type ServiceError struct {
	Op        string
	Transient bool
	Attempts  int
	Err       error
}

func (e *ServiceError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	if e.Attempts > 1 {
		return fmt.Sprintf("%s: %s error after %d attempts: %v", e.Op, kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, kind, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func (e *ServiceError) Is(target error) bool {
	if e.Transient {
		return target == ErrTransient
	}
	return target == ErrFatal
}

// CircuitOpenError is returned while an agent's breaker rejects calls.
type CircuitOpenError struct {
	Agent      string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("agent %s temporarily unavailable: circuit open, retry after %s", e.Agent, e.RetryAfter.Round(time.Second))
}

func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// RateLimitedError is caller-visible backpressure from a per-agent limiter.
type RateLimitedError struct {
	Agent string
	Limit int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("agent %s rate limit exceeded (%d requests/min)", e.Agent, e.Limit)
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// WorkflowStepError names the processing step that failed after retries.
type WorkflowStepError struct {
	Step string
	Err  error
}

func (e *WorkflowStepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *WorkflowStepError) Unwrap() error { return e.Err }

func (e *WorkflowStepError) Is(target error) bool { return target == ErrStepFailed }
