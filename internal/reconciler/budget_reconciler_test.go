package reconciler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexushq/nexus/internal/config"
	"github.com/nexushq/nexus/internal/registry"
	"github.com/nexushq/nexus/internal/routing"
)

type fixedUsage struct{ usd float64 }

func (f fixedUsage) UsedUSD() float64 { return f.usd }

type fixedPricing struct {
	usd float64
	ok  bool
}

func (f fixedPricing) EstimateCost(_ string, _, _ int) (float64, bool) { return f.usd, f.ok }

func TestBudgetReconcilerDisabledIsOk(t *testing.T) {
	reg := newTestRegistry()
	stage := NewBudgetReconciler(reg, config.BudgetConfig{Enabled: false}, nil)
	in := routing.NewIntent("req-1", "m", nil)
	stage.Process(context.Background(), in)
	require.Equal(t, routing.BudgetOk, in.BudgetStatus)
}

func TestBudgetReconcilerClassifiesOkSoftHard(t *testing.T) {
	cfg := config.BudgetConfig{Enabled: true, SoftLimitUSD: 10, HardLimitUSD: 20}

	reg := newTestRegistry()
	stage := NewBudgetReconciler(reg, cfg, nil).WithUsage(fixedUsage{usd: 1})
	in := routing.NewIntent("req-1", "m", nil)
	stage.Process(context.Background(), in)
	require.Equal(t, routing.BudgetOk, in.BudgetStatus)

	stage2 := NewBudgetReconciler(reg, cfg, nil).WithUsage(fixedUsage{usd: 15})
	in2 := routing.NewIntent("req-1", "m", nil)
	stage2.Process(context.Background(), in2)
	require.Equal(t, routing.BudgetSoftLimit, in2.BudgetStatus)

	stage3 := NewBudgetReconciler(reg, cfg, nil).WithUsage(fixedUsage{usd: 25})
	in3 := routing.NewIntent("req-1", "m", nil)
	stage3.Process(context.Background(), in3)
	require.Equal(t, routing.BudgetHardLimit, in3.BudgetStatus)
}

func TestBudgetReconcilerHardLimitBlockCloudExcludesOnlyCloud(t *testing.T) {
	reg := newTestRegistry()
	cloud := registry.NewAgent("cloud", "cloud", "http://c", registry.KindOpenAICompat, 1, registry.DiscoveryStatic, registry.ZoneOpen, 0)
	local := registry.NewAgent("local", "local", "http://l", registry.KindOllama, 1, registry.DiscoveryStatic, registry.ZoneOpen, 0)
	reg.Add(cloud)
	reg.Add(local)

	cfg := config.BudgetConfig{Enabled: true, HardLimitUSD: 10, HardLimitAction: config.BudgetActionBlockCloud}
	stage := NewBudgetReconciler(reg, cfg, nil).WithUsage(fixedUsage{usd: 20})

	in := routing.NewIntent("req-1", "m", nil)
	in.CandidateAgentIDs = []string{"cloud", "local"}
	stage.Process(context.Background(), in)

	require.True(t, in.IsExcluded("cloud"))
	require.False(t, in.IsExcluded("local"))
}

func TestBudgetReconcilerHardLimitBlockAllExcludesEverything(t *testing.T) {
	reg := newTestRegistry()
	local := registry.NewAgent("local", "local", "http://l", registry.KindOllama, 1, registry.DiscoveryStatic, registry.ZoneOpen, 0)
	reg.Add(local)

	cfg := config.BudgetConfig{Enabled: true, HardLimitUSD: 10, HardLimitAction: config.BudgetActionBlockAll}
	stage := NewBudgetReconciler(reg, cfg, nil).WithUsage(fixedUsage{usd: 20})

	in := routing.NewIntent("req-1", "m", nil)
	in.CandidateAgentIDs = []string{"local"}
	stage.Process(context.Background(), in)

	require.True(t, in.IsExcluded("local"))
}

func TestBudgetReconcilerWarnActionDoesNotExclude(t *testing.T) {
	reg := newTestRegistry()
	local := registry.NewAgent("local", "local", "http://l", registry.KindOllama, 1, registry.DiscoveryStatic, registry.ZoneOpen, 0)
	reg.Add(local)

	cfg := config.BudgetConfig{Enabled: true, HardLimitUSD: 10, HardLimitAction: config.BudgetActionWarn}
	stage := NewBudgetReconciler(reg, cfg, nil).WithUsage(fixedUsage{usd: 20})

	in := routing.NewIntent("req-1", "m", nil)
	in.CandidateAgentIDs = []string{"local"}
	stage.Process(context.Background(), in)

	require.False(t, in.IsExcluded("local"))
}

func TestBudgetReconcilerEstimatesCostFromPricing(t *testing.T) {
	reg := newTestRegistry()
	stage := NewBudgetReconciler(reg, config.BudgetConfig{Enabled: true}, nil).
		WithPricing(fixedPricing{usd: 0.42, ok: true}).
		WithUsage(fixedUsage{usd: 0})

	in := routing.NewIntent("req-1", "gpt-4o", nil)
	in.EstimatedPromptTokens = 100
	stage.Process(context.Background(), in)

	require.InDelta(t, 0.42, in.CostEstimateUSD, 1e-9)
}
