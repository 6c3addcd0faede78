package fleet

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/julesfleet/julesfleet/internal/common/logger"
	"github.com/julesfleet/julesfleet/internal/events/bus"
	"github.com/julesfleet/julesfleet/internal/forge"
)

// Labels managed by the orchestrator. Configure creates or deletes the set;
// dispatch and merge key off individual names.
const (
	LabelFleet      = "fleet"
	LabelMergeReady = "fleet-merge-ready"
	LabelInsight    = "fleet-insight"
	LabelAssessment = "fleet-assessment"
)

func managedLabels() []forge.Label {
	return []forge.Label{
		{Name: LabelFleet, Color: "1d76db", Description: "Issue managed by the fleet orchestrator"},
		{Name: LabelMergeReady, Color: "0e8a16", Description: "PR ready for the sequential merge pipeline"},
		{Name: LabelInsight, Color: "fbca04", Description: "Analyzer insight signal"},
		{Name: LabelAssessment, Color: "d93f0b", Description: "Analyzer assessment signal"},
	}
}

// Orchestrator runs the fleet handlers against one repository.
type Orchestrator struct {
	forge      *forge.Client
	dispatcher SessionDispatcher
	bus        bus.EventBus
	baseBranch string
	logger     *logger.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// New builds an orchestrator. baseBranch is the default merge target when a
// handler input leaves it empty.
func New(forgeClient *forge.Client, dispatcher SessionDispatcher, eventBus bus.EventBus, baseBranch string, log *logger.Logger) *Orchestrator {
	if baseBranch == "" {
		baseBranch = "main"
	}
	return &Orchestrator{
		forge:      forgeClient,
		dispatcher: dispatcher,
		bus:        eventBus,
		baseBranch: baseBranch,
		logger:     log.WithFields(zap.String("component", "fleet")),
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (o *Orchestrator) resolveBase(branch string) string {
	if branch != "" {
		return branch
	}
	return o.baseBranch
}

// publish emits an orchestration event; delivery failures are logged, never
// surfaced to handler callers.
func (o *Orchestrator) publish(ctx context.Context, subject, eventType string, data map[string]any) {
	if o.bus == nil {
		return
	}
	if err := o.bus.Publish(ctx, subject, bus.NewEvent(eventType, "fleet", data)); err != nil {
		o.logger.Warn("event publish failed", zap.String("subject", subject), zap.Error(err))
	}
}
