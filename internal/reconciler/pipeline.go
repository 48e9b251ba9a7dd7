// Package reconciler implements the ordered policy pipeline that turns a
// freshly created routing.Intent into a route, queue, or reject decision.
package reconciler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nexushq/nexus/internal/config"
	"github.com/nexushq/nexus/internal/metrics"
	"github.com/nexushq/nexus/internal/registry"
	"github.com/nexushq/nexus/internal/routing"
)

// Stage is one ordered step of the pipeline. A stage may only call methods on
// intent that append exclusions/rejection reasons (routing.Intent.Exclude,
// RejectRequest) or set its own annotations; it must never delete from
// ExcludedAgentIDs or RejectionReasons.
type Stage interface {
	Name() string
	Process(ctx context.Context, intent *routing.Intent)
}

// Pipeline runs its stages in order against a single intent, stopping early
// once a terminal decision (Queue or Reject) has been set.
type Pipeline struct {
	stages  []Stage
	logger  *zap.Logger
	metrics *metrics.Collector
}

// New builds the fixed five-stage pipeline: RequestAnalyzer, PrivacyReconciler,
// BudgetReconciler, TierReconciler, SchedulerReconciler.
func New(reg *registry.Registry, cfg *config.Config, tok TokenEstimator, collector *metrics.Collector, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		stages: []Stage{
			NewRequestAnalyzer(reg, cfg.Routing.Aliases, cfg.Routing.Fallbacks, tok),
			NewPrivacyReconciler(reg, cfg.Routing.Policies),
			NewBudgetReconciler(reg, cfg.Routing.Budget, tok),
			NewTierReconciler(reg, cfg.Routing.Policies),
			NewSchedulerReconciler(reg, cfg.Routing.Strategy, cfg.Routing.Weights, cfg.Queue.Enabled),
		},
		logger:  logger.With(zap.String("component", "reconciler")),
		metrics: collector,
	}
}

// WireBudget binds the real cost table and usage tracker into the
// pipeline's BudgetReconciler stage once they're constructed, keeping
// New's own signature free of that wiring order dependency.
func (p *Pipeline) WireBudget(pricing CostEstimator, usage UsageTracker) {
	for _, s := range p.stages {
		if b, ok := s.(*BudgetReconciler); ok {
			b.WithPricing(pricing).WithUsage(usage)
			return
		}
	}
}

// Scheduler returns the pipeline's terminal SchedulerReconciler stage so the
// queue drain loop can re-run scheduling alone on a dequeued intent, per
// §4.8's "re-run the Scheduler stage only" contract, without re-entering the
// rest of the pipeline.
func (p *Pipeline) Scheduler() *SchedulerReconciler {
	for _, s := range p.stages {
		if sched, ok := s.(*SchedulerReconciler); ok {
			return sched
		}
	}
	return nil
}

// Run executes every stage in order, short-circuiting once intent.Decision
// has been set to Queue or Reject by an earlier stage.
func (p *Pipeline) Run(ctx context.Context, intent *routing.Intent) routing.Decision {
	for i, stage := range p.stages {
		if intent.Decision.Kind == routing.DecisionQueue || intent.Decision.Kind == routing.DecisionReject {
			break
		}

		start := time.Now()
		stage.Process(ctx, intent)
		elapsed := time.Since(start)

		if p.metrics != nil {
			p.metrics.ObserveReconcilerDuration(stage.Name(), elapsed)
		}
		p.logger.Debug("reconciler stage",
			zap.Int("stage", i+1),
			zap.String("reconciler", stage.Name()),
			zap.Duration("elapsed", elapsed),
			zap.String("request_id", intent.RequestID),
		)
	}
	return intent.Decision
}
