package reconciler

import (
	"context"

	"github.com/nexushq/nexus/internal/config"
	"github.com/nexushq/nexus/internal/registry"
	"github.com/nexushq/nexus/internal/routing"
)

// CostEstimator prices a request against a per-model pricing table. ok=false
// means no pricing entry exists (treated as a free, local backend).
type CostEstimator interface {
	EstimateCost(model string, promptTokens, completionTokens int) (usd float64, ok bool)
}

// UsageTracker reports the caller's cumulative spend for the current
// budgeting window.
type UsageTracker interface {
	UsedUSD() float64
}

// BudgetReconciler estimates the request's cost, classifies it against the
// configured soft/hard limits, and — on a hard limit — excludes cloud or all
// candidates per the configured action.
type BudgetReconciler struct {
	reg     *registry.Registry
	cfg     config.BudgetConfig
	pricing CostEstimator
	usage   UsageTracker
}

func NewBudgetReconciler(reg *registry.Registry, cfg config.BudgetConfig, _ TokenEstimator) *BudgetReconciler {
	return &BudgetReconciler{reg: reg, cfg: cfg}
}

// WithPricing and WithUsage let the server wire in the real cost table and
// usage tracker once they exist, keeping the constructor signature stable
// for the pipeline's early, pricing-agnostic wiring.
func (s *BudgetReconciler) WithPricing(p CostEstimator) *BudgetReconciler { s.pricing = p; return s }
func (s *BudgetReconciler) WithUsage(u UsageTracker) *BudgetReconciler    { s.usage = u; return s }

func (s *BudgetReconciler) Name() string { return "BudgetReconciler" }

func (s *BudgetReconciler) Process(_ context.Context, intent *routing.Intent) {
	if !s.cfg.Enabled {
		intent.BudgetStatus = routing.BudgetOk
		return
	}

	if s.pricing != nil {
		// Expected completion length is unknowable before the backend
		// responds; assume parity with the prompt as a conservative estimate.
		expectedCompletion := int(intent.EstimatedPromptTokens)
		if usd, ok := s.pricing.EstimateCost(intent.ResolvedModel, int(intent.EstimatedPromptTokens), expectedCompletion); ok {
			intent.CostEstimateUSD = usd
		}
	}

	used := 0.0
	if s.usage != nil {
		used = s.usage.UsedUSD()
	}

	switch {
	case s.cfg.HardLimitUSD > 0 && used >= s.cfg.HardLimitUSD:
		intent.BudgetStatus = routing.BudgetHardLimit
	case s.cfg.SoftLimitUSD > 0 && used >= s.cfg.SoftLimitUSD:
		intent.BudgetStatus = routing.BudgetSoftLimit
	default:
		intent.BudgetStatus = routing.BudgetOk
	}

	switch intent.BudgetStatus {
	case routing.BudgetHardLimit:
		switch s.cfg.HardLimitAction {
		case config.BudgetActionBlockCloud:
			s.excludeCloud(intent)
		case config.BudgetActionBlockAll:
			s.excludeAll(intent)
		case config.BudgetActionWarn, "":
			// advisory only; scorer is not biased further here
		}
	case routing.BudgetSoftLimit:
		// SoftLimit does not exclude; SchedulerReconciler's smart scorer
		// biases toward local backends via the caller-visible BudgetStatus.
	}
}

func (s *BudgetReconciler) excludeCloud(intent *routing.Intent) {
	for _, id := range intent.RemainingCandidates() {
		agent := s.reg.Get(id)
		if agent != nil && agent.Kind.IsCloud() {
			intent.Exclude(id, s.Name(), "budget_hard_limit", "retry a local backend or raise the hard limit")
		}
	}
}

func (s *BudgetReconciler) excludeAll(intent *routing.Intent) {
	for _, id := range intent.RemainingCandidates() {
		intent.Exclude(id, s.Name(), "budget_hard_limit", "raise the hard limit or wait for the budgeting window to roll over")
	}
}
