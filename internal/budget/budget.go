// Package budget tracks per-window token/cost usage and prices requests
// against a per-model pricing table, backing the reconciler pipeline's
// BudgetReconciler (cost estimation, soft/hard limit classification).
package budget

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Price is the per-1k-token pricing for one model.
type Price struct {
	PromptPerK     float64
	CompletionPerK float64
}

// PricingTable prices a request by resolved model name, falling back to a
// prefix match the way the tiered tokenizer registry does. Models absent
// from the table cost 0 (treated as a local, unpriced backend).
type PricingTable struct {
	mu     sync.RWMutex
	prices map[string]Price
}

func NewPricingTable() *PricingTable {
	return &PricingTable{prices: make(map[string]Price)}
}

func (t *PricingTable) Set(model string, p Price) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prices[model] = p
}

// EstimateCost implements reconciler.CostEstimator.
func (t *PricingTable) EstimateCost(model string, promptTokens, completionTokens int) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.prices[model]
	if !ok {
		for m, price := range t.prices {
			if len(model) >= len(m) && model[:len(m)] == m {
				p, ok = price, true
				break
			}
		}
	}
	if !ok {
		return 0, false
	}
	cost := float64(promptTokens)/1000*p.PromptPerK + float64(completionTokens)/1000*p.CompletionPerK
	return cost, true
}

// UsageRecord is one completed request's billed usage.
type UsageRecord struct {
	Timestamp        time.Time
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// Manager tracks cumulative spend in atomic per-window counters (minute,
// hour, day) alongside a calendar-month rollup used for billing; both roll
// over at their window boundary (the day window truncates to UTC midnight,
// matching the monthly counter's UTC-midnight rollover).
type Manager struct {
	logger *zap.Logger

	mu          sync.Mutex
	minuteStart time.Time
	hourStart   time.Time
	dayStart    time.Time
	monthStart  time.Time

	minuteCostMicros atomic.Int64
	hourCostMicros   atomic.Int64
	dayCostMicros    atomic.Int64
	monthCostMicros  atomic.Int64
}

func NewManager(logger *zap.Logger) *Manager {
	now := time.Now().UTC()
	return &Manager{
		logger:      logger,
		minuteStart: now,
		hourStart:   now,
		dayStart:    now.Truncate(24 * time.Hour),
		monthStart:  time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC),
	}
}

// RecordUsage folds a completed request's cost into every window.
func (m *Manager) RecordUsage(r UsageRecord) {
	m.rolloverIfNeeded()
	micros := int64(r.CostUSD * 1_000_000)
	m.minuteCostMicros.Add(micros)
	m.hourCostMicros.Add(micros)
	m.dayCostMicros.Add(micros)
	m.monthCostMicros.Add(micros)
}

// UsedUSD implements reconciler.UsageTracker: the current calendar-month
// spend, the figure the BudgetReconciler classifies against the configured
// soft/hard limits.
func (m *Manager) UsedUSD() float64 {
	m.rolloverIfNeeded()
	return float64(m.monthCostMicros.Load()) / 1_000_000
}

// WindowUsage reports the minute/hour/day/month spend for the /v1/stats endpoint.
func (m *Manager) WindowUsage() (minute, hour, day, month float64) {
	m.rolloverIfNeeded()
	return float64(m.minuteCostMicros.Load()) / 1_000_000,
		float64(m.hourCostMicros.Load()) / 1_000_000,
		float64(m.dayCostMicros.Load()) / 1_000_000,
		float64(m.monthCostMicros.Load()) / 1_000_000
}

func (m *Manager) rolloverIfNeeded() {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.minuteStart) >= time.Minute {
		m.minuteCostMicros.Store(0)
		m.minuteStart = now
	}
	if now.Sub(m.hourStart) >= time.Hour {
		m.hourCostMicros.Store(0)
		m.hourStart = now
	}
	dayStart := now.Truncate(24 * time.Hour)
	if dayStart.After(m.dayStart) {
		m.dayCostMicros.Store(0)
		m.dayStart = dayStart
	}
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if monthStart.After(m.monthStart) {
		m.monthCostMicros.Store(0)
		m.monthStart = monthStart
		if m.logger != nil {
			m.logger.Info("budget month rolled over", zap.Time("month_start", monthStart))
		}
	}
}
