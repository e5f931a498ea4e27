package processing_engine

import (
	"context"
	"sync"
)

// Progress milestones.
const (
	pctExtracting = 10
	pctExtracted  = 30
	pctAnalyzing  = 40
	pctUnits      = 40 // shared by the analysis units
	pctAnalyzed   = 85
	pctCompleted  = 100
)

// progress publishes a non-decreasing percentage for one job run.
// Computing and publishing happen under one lock so subscribers never see it go back.
type progress struct {
	mu       sync.Mutex
	notifier Notifier
	docID    string
	userID   string
	pct      int
	units    int
	done     int
}

func (p *progress) set(ctx context.Context, step string, pct int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publish(ctx, step, pct)
}

// unitDone advances by one unit's share of the analysis band.
func (p *progress) unitDone(ctx context.Context, step string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	if p.units == 0 {
		return
	}
	p.publish(ctx, step, pctAnalyzing+pctUnits*p.done/p.units)
}

func (p *progress) publish(ctx context.Context, step string, pct int) {
	if pct < p.pct {
		pct = p.pct
	}
	p.pct = pct
	p.notifier.PublishProgress(ctx, p.docID, p.userID, step, pct)
}
