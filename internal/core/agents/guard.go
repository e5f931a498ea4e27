package agents

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/markdave123-py/docintel/internal/core"
)

type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// BreakerStatus is a point-in-time copy of one agent's breaker.
type BreakerStatus struct {
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenedAt            *time.Time   `json:"opened_at,omitempty"`
}

type breaker struct {
	state    BreakerState
	failures int
	openedAt time.Time
	trial    bool // half-open trial call in flight
}

type GuardConfig struct {
	// Threshold consecutive failures open the breaker.
	Threshold int
	Cooldown  time.Duration
	// RatesPerMinute caps admitted calls per agent. Missing or zero means unlimited.
	RatesPerMinute map[Name]int
	Now            func() time.Time
}

// DefaultRates are the per-agent request caps per minute.
func DefaultRates() map[Name]int {
	return map[Name]int{Summary: 40, Entity: 50, ActionItem: 45, QA: 50, Analysis: 40}
}

// Guard holds the rate limiters and circuit breakers shared by every caller of a Dispatcher.
// It is safe for concurrent use.
type Guard struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	rates     map[Name]int
	limiters  map[Name]*rate.Limiter
	breakers  map[Name]*breaker
}

func NewGuard(cfg GuardConfig) *Guard {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RatesPerMinute == nil {
		cfg.RatesPerMinute = DefaultRates()
	}
	g := &Guard{
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		now:       cfg.Now,
		rates:     cfg.RatesPerMinute,
		limiters:  make(map[Name]*rate.Limiter),
		breakers:  make(map[Name]*breaker),
	}
	for name, rpm := range cfg.RatesPerMinute {
		if rpm > 0 {
			g.limiters[name] = rate.NewLimiter(rate.Limit(float64(rpm)/60), rpm)
		}
	}
	return g
}

func (g *Guard) breakerFor(name Name) *breaker {
	b := g.breakers[name]
	if b == nil {
		b = &breaker{state: StateClosed}
		g.breakers[name] = b
	}
	return b
}

// Admit decides whether a call to name may proceed. Breaker rejections do not
// spend a rate token and rate rejections do not spend the half-open trial.
func (g *Guard) Admit(name Name) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	b := g.breakerFor(name)

	trial := false
	switch b.state {
	case StateOpen:
		elapsed := now.Sub(b.openedAt)
		if elapsed < g.cooldown {
			return &core.CircuitOpenError{Agent: string(name), RetryAfter: g.cooldown - elapsed}
		}
		trial = true
	case StateHalfOpen:
		if b.trial {
			return &core.CircuitOpenError{Agent: string(name), RetryAfter: time.Second}
		}
		trial = true
	}

	if lim := g.limiters[name]; lim != nil && !lim.AllowN(now, 1) {
		return &core.RateLimitedError{Agent: string(name), Limit: g.rates[name]}
	}

	if trial {
		b.state = StateHalfOpen
		b.trial = true
	}
	return nil
}

// Record reports the outcome of an admitted call. Validation failures and caller
// cancellation leave the breaker untouched apart from freeing a half-open trial.
func (g *Guard) Record(name Name, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	b := g.breakerFor(name)
	switch {
	case err == nil && b.state == StateOpen:
		// a call admitted before the breaker tripped; the cool-down still applies
	case err == nil:
		b.state = StateClosed
		b.failures = 0
		b.trial = false
	case errors.Is(err, core.ErrValidation), errors.Is(err, context.Canceled):
		b.trial = false
	default:
		b.failures++
		if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= g.threshold) {
			b.state = StateOpen
			b.openedAt = g.now()
		}
		b.trial = false
	}
}

func (g *Guard) Status(name Name) BreakerStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	b := g.breakerFor(name)
	st := BreakerStatus{State: b.state, ConsecutiveFailures: b.failures}
	if b.state != StateClosed {
		t := b.openedAt
		st.OpenedAt = &t
	}
	if b.state == StateOpen && g.now().Sub(b.openedAt) >= g.cooldown {
		st.State = StateHalfOpen
	}
	return st
}
