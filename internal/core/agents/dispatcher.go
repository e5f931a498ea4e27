package agents

import (
	"context"
	"log/slog"
	"time"

	"github.com/markdave123-py/docintel/internal/core"
)

// Dispatcher routes tasks to agents by name through a shared Guard.
type Dispatcher struct {
	agents map[Name]Agent
	gen    Generator
	guard  *Guard
	logger *slog.Logger
}

func NewDispatcher(gen Generator, guard *Guard, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if guard == nil {
		guard = NewGuard(GuardConfig{})
	}
	d := &Dispatcher{
		agents: make(map[Name]Agent, len(Names)),
		gen:    gen,
		guard:  guard,
		logger: logger.With(slog.String("component", "agents")),
	}
	for _, a := range []Agent{SummaryAgent{}, EntityAgent{}, ActionItemAgent{}, QAAgent{}, AnalysisAgent{}} {
		d.agents[a.Name()] = a
	}
	return d
}

func (d *Dispatcher) Guard() *Guard { return d.guard }

// Dispatch validates input, checks the agent's breaker and rate limit, then runs it.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, input map[string]any) (*Result, error) {
	agent, ok := d.agents[Name(name)]
	if !ok {
		return nil, core.NewValidationError("agent", "unknown agent %q", name)
	}
	if input == nil {
		input = map[string]any{}
	}
	if err := agent.Validate(input); err != nil {
		return nil, err
	}
	if err := d.guard.Admit(agent.Name()); err != nil {
		d.logger.Warn("agent call rejected", slog.String("agent", name), slog.Any("error", err))
		return nil, err
	}

	start := time.Now()
	res, err := agent.Process(ctx, d.gen, input)
	d.guard.Record(agent.Name(), err)
	if err != nil {
		d.logger.Error("agent call failed",
			slog.String("agent", name),
			slog.Duration("took", time.Since(start)),
			slog.Any("error", err),
		)
		return nil, err
	}

	lvl := slog.LevelInfo
	if !res.Parsed {
		lvl = slog.LevelWarn
	}
	d.logger.Log(ctx, lvl, "agent call completed",
		slog.String("agent", name),
		slog.Bool("parsed", res.Parsed),
		slog.Float64("cost", res.Cost),
		slog.Duration("took", time.Since(start)),
	)
	return res, nil
}
