package reconciler

import (
	"context"

	"github.com/nexushq/nexus/internal/config"
	"github.com/nexushq/nexus/internal/registry"
	"github.com/nexushq/nexus/internal/routing"
	"github.com/nexushq/nexus/internal/scorer"
)

// localSoftCap is the pending-request count at or above which an otherwise
// capable agent is considered saturated rather than simply busy, used only
// to decide whether to offer a queue slot instead of rejecting outright.
const localSoftCap = 4

// SchedulerReconciler is the pipeline's terminal stage: it filters to
// healthy, capable candidates, then either routes, queues, or rejects.
type SchedulerReconciler struct {
	reg          *registry.Registry
	strategy     string
	weights      config.ScoreWeights
	queueEnabled bool
}

func NewSchedulerReconciler(reg *registry.Registry, strategy string, weights config.ScoreWeights, queueEnabled bool) *SchedulerReconciler {
	return &SchedulerReconciler{reg: reg, strategy: strategy, weights: weights, queueEnabled: queueEnabled}
}

func (s *SchedulerReconciler) Name() string { return "SchedulerReconciler" }

// Reschedule re-runs this stage alone against an already-annotated intent
// (one that already passed privacy/budget/tier) and returns its fresh
// Decision. This is what the queue drain loop and the proxy retry loop call
// instead of Process directly, satisfying queue.Scheduler.
func (s *SchedulerReconciler) Reschedule(ctx context.Context, intent *routing.Intent) routing.Decision {
	s.Process(ctx, intent)
	return intent.Decision
}

func (s *SchedulerReconciler) Process(_ context.Context, intent *routing.Intent) {
	var healthyCapable []*registry.Agent
	var saturated []*registry.Agent

	for _, id := range intent.RemainingCandidates() {
		agent := s.reg.Get(id)
		if agent == nil {
			continue
		}
		if !s.isServing(agent) {
			intent.Exclude(id, s.Name(), "unhealthy", "wait for the backend to recover or route elsewhere")
			continue
		}
		if !s.capable(agent, intent) {
			intent.Exclude(id, s.Name(), "capability_mismatch", "route to a backend whose model advertises the required capability or context window")
			continue
		}
		if agent.Pending() >= localSoftCap {
			saturated = append(saturated, agent)
			continue
		}
		healthyCapable = append(healthyCapable, agent)
	}

	if len(healthyCapable) > 0 {
		biasAgainstCloud := intent.BudgetStatus == routing.BudgetSoftLimit
		chosen, reason := scorer.Select(s.strategy, healthyCapable, s.weights, intent.RequestID, biasAgainstCloud)
		if intent.RouteReason == "" {
			intent.RouteReason = reason
		} else {
			intent.RouteReason = intent.RouteReason + ":" + reason
		}
		intent.Decision = routing.Decision{
			Kind:        routing.DecisionRoute,
			AgentID:     chosen.ID,
			ActualModel: intent.ResolvedModel,
		}
		return
	}

	if len(saturated) > 0 && s.queueEnabled {
		minPending := saturated[0].Pending()
		ema := saturated[0].EMALatencyMs()
		for _, a := range saturated[1:] {
			if a.Pending() < minPending {
				minPending = a.Pending()
				ema = a.EMALatencyMs()
			}
		}
		intent.Decision = routing.Decision{
			Kind:            routing.DecisionQueue,
			EstimatedWaitMs: int64(minPending) * int64(ema),
			QueueReason:     "all capable backends are saturated",
			Reasons:         intent.RejectionReasons,
		}
		return
	}

	intent.Decision = routing.Decision{Kind: routing.DecisionReject, Reasons: intent.RejectionReasons}
}

func (s *SchedulerReconciler) isServing(a *registry.Agent) bool {
	switch a.Status() {
	case registry.StatusHealthy, registry.StatusUnknown:
		return true
	default:
		return false
	}
}

func (s *SchedulerReconciler) capable(a *registry.Agent, intent *routing.Intent) bool {
	for _, m := range a.Models() {
		if m.ID != intent.ResolvedModel {
			continue
		}
		if intent.NeedsVision && !m.SupportsVision {
			return false
		}
		if intent.NeedsTools && !m.SupportsTools {
			return false
		}
		if intent.NeedsJSONMode && !m.SupportsJSONMode {
			return false
		}
		if uint32(m.ContextWindow) < intent.EstimatedPromptTokens {
			return false
		}
		return true
	}
	return false
}
