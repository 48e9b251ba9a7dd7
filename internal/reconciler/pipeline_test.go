package reconciler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nexushq/nexus/internal/config"
	"github.com/nexushq/nexus/internal/registry"
	"github.com/nexushq/nexus/internal/routing"
)

func buildPipeline(t *testing.T, reg *registry.Registry, cfg *config.Config) *Pipeline {
	t.Helper()
	return New(reg, cfg, fixedEstimator{n: 10}, nil, zap.NewNop())
}

func baseConfig() *config.Config {
	return &config.Config{
		Routing: config.RoutingConfig{
			Strategy:   "smart",
			MaxRetries: 1,
			Weights:    config.ScoreWeights{Priority: 50, Load: 30, Latency: 20},
		},
		Queue: config.QueueConfig{Enabled: false},
	}
}

func TestPipelineRoutesSingleHealthyBackend(t *testing.T) {
	reg := newTestRegistry()
	addAgent(t, reg, "a1", "llama3:8b")

	p := buildPipeline(t, reg, baseConfig())
	in := routing.NewIntent("req-1", "llama3:8b", []byte(`{"messages":[{"role":"user","content":"hi"}]}`))
	decision := p.Run(context.Background(), in)

	require.Equal(t, routing.DecisionRoute, decision.Kind)
	require.Equal(t, "a1", decision.AgentID)
}

func TestPipelineShortCircuitsOnRequestAnalyzerReject(t *testing.T) {
	reg := newTestRegistry()
	p := buildPipeline(t, reg, baseConfig())

	in := routing.NewIntent("req-1", "nonexistent", []byte(`{"messages":[]}`))
	decision := p.Run(context.Background(), in)

	require.Equal(t, routing.DecisionReject, decision.Kind)
	require.Len(t, in.RejectionReasons, 1)
}

func TestPipelinePrivacyBlocksCloudOnlyRestrictedModel(t *testing.T) {
	reg := newTestRegistry()
	addAgentWithZone(t, reg, "cloud", "llama3:8b", registry.ZoneOpen)

	cfg := baseConfig()
	cfg.Routing.Policies = []config.PrivacyPolicy{{ModelPattern: "llama3:*", RequireZone: "restricted"}}
	p := buildPipeline(t, reg, cfg)

	in := routing.NewIntent("req-1", "llama3:8b", []byte(`{"messages":[{"role":"user","content":"hi"}]}`))
	decision := p.Run(context.Background(), in)

	require.Equal(t, routing.DecisionReject, decision.Kind)
	found := false
	for _, r := range decision.Reasons {
		if r.Reason == "privacy_violation_on_failover" {
			found = true
		}
	}
	require.True(t, found)
}

// TestMiddleStageOrderIndependence exercises the §8 property that
// reordering PrivacyReconciler, BudgetReconciler, and TierReconciler yields
// the same final candidate set. It compares the remaining candidates only;
// the Decision each stage may set along the way is not compared.
func TestMiddleStageOrderIndependence(t *testing.T) {
	buildIntent := func() (*routing.Intent, *registry.Registry) {
		reg := newTestRegistry()
		a1 := registry.NewAgent("a1", "a1", "http://a1", registry.KindOllama, 1, registry.DiscoveryStatic, registry.ZoneRestricted, 1)
		a2 := registry.NewAgent("a2", "a2", "http://a2", registry.KindOpenAICompat, 2, registry.DiscoveryStatic, registry.ZoneOpen, 3)
		reg.Add(a1)
		reg.Add(a2)
		reg.SetStatus("a1", true, "")
		reg.SetStatus("a2", true, "")
		reg.ReplaceModels("a1", []registry.Model{{ID: "llama3:8b", ContextWindow: 8192, AgentID: "a1"}})
		reg.ReplaceModels("a2", []registry.Model{{ID: "llama3:8b", ContextWindow: 8192, AgentID: "a2"}})

		in := routing.NewIntent("req-1", "llama3:8b", nil)
		in.ResolvedModel = "llama3:8b"
		in.CandidateAgentIDs = []string{"a1", "a2"}
		in.MinTier = 2
		return in, reg
	}

	policies := []config.PrivacyPolicy{{ModelPattern: "llama3:*", RequireZone: "restricted"}}
	cfg := config.BudgetConfig{Enabled: false}

	runOrder := func(order []string) []string {
		in, reg := buildIntent()
		stages := map[string]Stage{
			"privacy": NewPrivacyReconciler(reg, policies),
			"budget":  NewBudgetReconciler(reg, cfg, nil),
			"tier":    NewTierReconciler(reg, policies),
		}
		for _, name := range order {
			stages[name].Process(context.Background(), in)
		}
		return in.RemainingCandidates()
	}

	orderA := runOrder([]string{"privacy", "budget", "tier"})
	orderB := runOrder([]string{"tier", "budget", "privacy"})
	orderC := runOrder([]string{"budget", "tier", "privacy"})

	require.Equal(t, orderA, orderB)
	require.Equal(t, orderA, orderC)
}

func TestPipelineWireBudgetFindsBudgetStage(t *testing.T) {
	reg := newTestRegistry()
	p := buildPipeline(t, reg, baseConfig())
	p.WireBudget(fixedPricing{usd: 1, ok: true}, fixedUsage{usd: 0})

	for _, s := range p.stages {
		if b, ok := s.(*BudgetReconciler); ok {
			require.NotNil(t, b.pricing)
			require.NotNil(t, b.usage)
			return
		}
	}
	t.Fatal("no BudgetReconciler stage found")
}

func TestPipelineSchedulerReturnsTerminalStage(t *testing.T) {
	reg := newTestRegistry()
	p := buildPipeline(t, reg, baseConfig())
	require.NotNil(t, p.Scheduler())
}
