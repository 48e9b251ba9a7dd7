package reconciler

import (
	"context"
	"strings"

	"github.com/nexushq/nexus/internal/config"
	"github.com/nexushq/nexus/internal/registry"
	"github.com/nexushq/nexus/internal/routing"
)

// TierReconciler excludes candidates whose tier is lower than min_tier. The
// floor is the higher of the client-supplied X-Nexus-Min-Tier header and any
// policy in the routing table whose model_pattern matches the resolved
// model, per §4.2's "min_tier from policy". In Strict mode only the exact
// requested model may be used, so any candidate whose resolved model
// differs from the client's original request is excluded too; Strict
// dominates Flexible when both headers are present (enforced by the caller
// setting intent.Strict before the pipeline runs).
type TierReconciler struct {
	reg      *registry.Registry
	policies []config.PrivacyPolicy
}

func NewTierReconciler(reg *registry.Registry, policies []config.PrivacyPolicy) *TierReconciler {
	return &TierReconciler{reg: reg, policies: policies}
}

func (s *TierReconciler) Name() string { return "TierReconciler" }

func (s *TierReconciler) Process(_ context.Context, intent *routing.Intent) {
	strictFallback := intent.Strict && strings.HasPrefix(intent.RouteReason, "fallback:")

	minTier := intent.MinTier
	if policyTier := s.matchMinTier(intent.ResolvedModel); policyTier > minTier {
		minTier = policyTier
	}
	intent.MinTier = minTier

	if minTier == 0 && !strictFallback {
		return
	}

	for _, id := range intent.RemainingCandidates() {
		agent := s.reg.Get(id)
		if agent == nil {
			continue
		}
		if minTier != 0 && agent.Tier < minTier {
			intent.Exclude(id, s.Name(), "tier_unmet", "lower min_tier or route to a higher-tier backend")
			continue
		}
		if strictFallback {
			intent.Exclude(id, s.Name(), "strict_model_mismatch", "disable strict mode to permit tier-equivalent substitutes")
		}
	}
}

// matchMinTier returns the MinTier of the first policy whose model_pattern
// matches model, or 0 if none match.
func (s *TierReconciler) matchMinTier(model string) int {
	for _, p := range s.policies {
		if p.MinTier > 0 && matchesPattern(p.ModelPattern, model) {
			return p.MinTier
		}
	}
	return 0
}
