// Package health implements the background per-agent probe loop: a ticker
// per agent that issues a kind-specific liveness GET, parses the returned
// model list, and feeds the result back into the registry's status machine.
package health

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nexushq/nexus/internal/agent"
	"github.com/nexushq/nexus/internal/config"
	"github.com/nexushq/nexus/internal/events"
	"github.com/nexushq/nexus/internal/metrics"
	"github.com/nexushq/nexus/internal/registry"
)

const (
	defaultInterval = 30 * time.Second
	defaultTimeout  = 5 * time.Second
	jitterFraction  = 0.10
)

// Checker runs one probe goroutine per registered agent.
type Checker struct {
	reg     *registry.Registry
	cfg     config.HealthCheckConfig
	client  *http.Client
	bus     *events.Bus
	metrics *metrics.Collector
	logger  *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	// probeGroup dedupes concurrent probes against the same agent: a
	// discovery-triggered ProbeNow racing the agent's own scheduled loop
	// tick collapses into a single outbound request.
	probeGroup singleflight.Group
}

// New builds a Checker.
func New(reg *registry.Registry, cfg config.HealthCheckConfig, client *http.Client, bus *events.Bus, collector *metrics.Collector, logger *zap.Logger) *Checker {
	return &Checker{
		reg:     reg,
		cfg:     cfg,
		client:  client,
		bus:     bus,
		metrics: collector,
		logger:  logger.With(zap.String("component", "health")),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Run starts probing every agent currently in the registry and any agent
// added afterward via Watch. It blocks until ctx is cancelled; on cancel it
// stops scheduling new probes but lets in-flight ones finish.
func (c *Checker) Run(ctx context.Context) {
	if !c.cfg.Enabled {
		return
	}
	for _, a := range c.reg.List() {
		c.Watch(ctx, a.ID)
	}
	<-ctx.Done()
}

// Watch starts (or restarts) the probe loop for one agent. Safe to call
// repeatedly for the same agent; a prior loop is stopped first.
func (c *Checker) Watch(ctx context.Context, agentID string) {
	c.mu.Lock()
	if cancel, ok := c.cancels[agentID]; ok {
		cancel()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancels[agentID] = cancel
	c.mu.Unlock()

	go c.loop(loopCtx, agentID)
}

// ProbeNow runs a single out-of-band probe immediately, used by discovery
// when a new agent is registered so it doesn't wait a full interval.
func (c *Checker) ProbeNow(agentID string) {
	a := c.reg.Get(agentID)
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout())
	defer cancel()
	c.probe(ctx, a)
}

func (c *Checker) loop(ctx context.Context, agentID string) {
	a := c.reg.Get(agentID)
	if a == nil {
		return
	}
	c.probe(ctx, a)

	for {
		wait := c.jitteredInterval()
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		a := c.reg.Get(agentID)
		if a == nil {
			return
		}
		c.probe(ctx, a)
	}
}

// probe runs a liveness check against a, deduplicating concurrent callers
// (a discovery-triggered ProbeNow and the agent's own scheduled tick) onto a
// single outbound request via c.probeGroup.
func (c *Checker) probe(ctx context.Context, a *registry.Agent) {
	_, _, _ = c.probeGroup.Do(a.ID, func() (any, error) {
		c.probeOnce(ctx, a)
		return nil, nil
	})
}

func (c *Checker) probeOnce(ctx context.Context, a *registry.Agent) {
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	adapter := agent.ForKind(a.Kind)
	apiKey := ""
	if a.APIKeyEnv != "" {
		apiKey = os.Getenv(a.APIKeyEnv)
	}
	req, err := adapter.ProbeRequest(probeCtx, a.ID, a.BaseURL, apiKey)
	if err != nil {
		c.markUnhealthy(a, err.Error())
		return
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.markUnhealthy(a, err.Error())
		return
	}
	defer resp.Body.Close()
	elapsed := time.Since(start)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.markUnhealthy(a, err.Error())
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.markUnhealthy(a, "probe returned non-2xx status")
		return
	}

	models, err := adapter.ParseModels(a.ID, body)
	if err != nil {
		c.markUnhealthy(a, "model list parse failed")
		return
	}

	c.reg.ReplaceModels(a.ID, models)
	c.reg.SetStatus(a.ID, true, "")
	a.RecordLatency(uint32(elapsed.Milliseconds()))

	if c.metrics != nil {
		c.metrics.ObserveBackendLatency(a.ID, elapsed)
	}
	if c.bus != nil {
		c.bus.Publish(events.Event{Kind: events.KindBackendStatus, AgentID: a.ID, Healthy: true})
	}
}

func (c *Checker) markUnhealthy(a *registry.Agent, reason string) {
	c.reg.SetStatus(a.ID, false, reason)
	c.logger.Debug("probe failed", zap.String("agent", a.ID), zap.String("reason", reason))
	if c.bus != nil {
		c.bus.Publish(events.Event{Kind: events.KindBackendStatus, AgentID: a.ID, Healthy: false, Reason: reason})
	}
}

func (c *Checker) timeout() time.Duration {
	if c.cfg.TimeoutSeconds <= 0 {
		return defaultTimeout
	}
	return time.Duration(c.cfg.TimeoutSeconds) * time.Second
}

// jitteredInterval returns the configured interval plus up to ±10% jitter,
// spreading probes across agents to avoid a thundering herd on the shared
// outbound connection pool.
func (c *Checker) jitteredInterval() time.Duration {
	base := defaultInterval
	if c.cfg.IntervalSeconds > 0 {
		base = time.Duration(c.cfg.IntervalSeconds) * time.Second
	}
	jitter := float64(base) * jitterFraction * (rand.Float64()*2 - 1)
	return base + time.Duration(jitter)
}
