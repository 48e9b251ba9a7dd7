package reconciler

import (
	"context"
	"fmt"

	"github.com/nexushq/nexus/internal/registry"
	"github.com/nexushq/nexus/internal/routing"
)

const maxAliasHops = 3

// RequestAnalyzer resolves the requested model through the alias map, parses
// the request body for routing-relevant requirements, and populates the
// initial candidate set from the model index (falling back through the
// configured fallback chain).
type RequestAnalyzer struct {
	reg       *registry.Registry
	aliases   map[string]string
	fallbacks map[string][]string
	tokens    TokenEstimator
}

func NewRequestAnalyzer(reg *registry.Registry, aliases map[string]string, fallbacks map[string][]string, tok TokenEstimator) *RequestAnalyzer {
	return &RequestAnalyzer{reg: reg, aliases: aliases, fallbacks: fallbacks, tokens: tok}
}

func (s *RequestAnalyzer) Name() string { return "RequestAnalyzer" }

func (s *RequestAnalyzer) Process(_ context.Context, intent *routing.Intent) {
	req := parseChatRequest(intent.RawPayload)

	intent.ResolvedModel = resolveAlias(intent.RequestedModel, s.aliases)
	intent.NeedsVision = req.needsVision()
	intent.NeedsTools = req.needsTools()
	intent.NeedsJSONMode = req.needsJSONMode()
	intent.Stream = req.Stream

	text := req.plainText()
	intent.EstimatedPromptTokens = uint32((len(text) + 3) / 4)
	if s.tokens != nil {
		if tokens, ok := s.tokens.Estimate(intent.ResolvedModel, text); ok {
			intent.EstimatedPromptTokens = uint32(tokens)
		}
	}

	candidates := s.reg.ListForModel(intent.ResolvedModel)
	if len(candidates) == 0 {
		var actual string
		candidates, intent.RouteReason, actual = s.fallbackLookup(intent.ResolvedModel)
		if actual != "" {
			intent.ResolvedModel = actual
		}
	}

	intent.CandidateAgentIDs = make([]string, len(candidates))
	for i, a := range candidates {
		intent.CandidateAgentIDs[i] = a.ID
	}

	if len(intent.CandidateAgentIDs) == 0 {
		intent.RejectRequest(s.Name(), "model_not_found", "check the model name or configure a fallback chain")
		intent.Decision = routing.Decision{Kind: routing.DecisionReject, Reasons: intent.RejectionReasons}
	}
}

// resolveAlias chases the alias chain up to maxAliasHops, stopping on a
// cycle or depth overflow by leaving the model at the last resolved name.
func resolveAlias(model string, aliases map[string]string) string {
	current := model
	seen := map[string]struct{}{current: {}}
	for i := 0; i < maxAliasHops; i++ {
		next, ok := aliases[current]
		if !ok || next == current {
			break
		}
		if _, cycled := seen[next]; cycled {
			break
		}
		current = next
		seen[current] = struct{}{}
	}
	return current
}

// fallbackLookup walks the configured fallback chain for model, stopping at
// the first non-empty candidate lookup, and records the original-vs-actual
// model distinction in the returned route reason.
func (s *RequestAnalyzer) fallbackLookup(model string) ([]*registry.Agent, string, string) {
	for _, candidate := range s.fallbacks[model] {
		agents := s.reg.ListForModel(candidate)
		if len(agents) > 0 {
			return agents, fmt.Sprintf("fallback:%s:%s", model, candidate), candidate
		}
	}
	return nil, "", ""
}
