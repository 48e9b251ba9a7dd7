package reconciler

import (
	"context"
	"regexp"
	"strings"

	"github.com/nexushq/nexus/internal/config"
	"github.com/nexushq/nexus/internal/registry"
	"github.com/nexushq/nexus/internal/routing"
)

// PrivacyReconciler excludes every candidate whose zone is not a structural
// subset of the zone required by the matching policy. It never bridges
// context from restricted to open.
type PrivacyReconciler struct {
	reg      *registry.Registry
	policies []config.PrivacyPolicy
}

func NewPrivacyReconciler(reg *registry.Registry, policies []config.PrivacyPolicy) *PrivacyReconciler {
	return &PrivacyReconciler{reg: reg, policies: policies}
}

func (s *PrivacyReconciler) Name() string { return "PrivacyReconciler" }

func (s *PrivacyReconciler) Process(_ context.Context, intent *routing.Intent) {
	requiredZone := s.matchPolicy(intent.ResolvedModel)
	intent.PrivacyZoneRequired = requiredZone
	if requiredZone == "" {
		return
	}

	anyRemaining := false
	for _, id := range intent.RemainingCandidates() {
		agent := s.reg.Get(id)
		if agent == nil {
			continue
		}
		if !zoneSatisfies(requiredZone, string(agent.Zone)) {
			intent.Exclude(id, s.Name(), "privacy_violation", "route only to agents tagged "+requiredZone)
			continue
		}
		anyRemaining = true
	}

	if !anyRemaining && requiredZone == string(registry.ZoneRestricted) {
		intent.RejectRequest(s.Name(), "privacy_violation_on_failover", "no restricted-zone backend is currently healthy")
		intent.Decision = routing.Decision{Kind: routing.DecisionReject, Reasons: intent.RejectionReasons}
	}
}

// zoneSatisfies reports whether an agent tagged with zone may serve a
// request requiring required: restricted only accepts restricted agents,
// open accepts any zone.
func zoneSatisfies(required, zone string) bool {
	if required == string(registry.ZoneOpen) {
		return true
	}
	return zone == required
}

func (s *PrivacyReconciler) matchPolicy(model string) string {
	for _, p := range s.policies {
		if matchesPattern(p.ModelPattern, model) {
			return p.RequireZone
		}
	}
	return ""
}

// matchesPattern supports a single trailing "*" wildcard, the only glob form
// the policy table needs; anything else is compiled as a literal regexp
// anchor so operators can still write exact patterns.
func matchesPattern(pattern, model string) bool {
	if pattern == "" {
		return false
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(model, strings.TrimSuffix(pattern, "*"))
	}
	if re, err := regexp.Compile("^" + pattern + "$"); err == nil {
		return re.MatchString(model)
	}
	return pattern == model
}
