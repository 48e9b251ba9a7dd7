// Package registry holds the concurrent store of backend agents and the
// models they serve.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Kind identifies the wire protocol family an agent speaks.
type Kind string

const (
	KindOllama       Kind = "ollama"
	KindVLLM         Kind = "vllm"
	KindLlamaCpp     Kind = "llamacpp"
	KindExo          Kind = "exo"
	KindOpenAICompat Kind = "openai_compatible"
	KindLMStudio     Kind = "lmstudio"
	KindAnthropic    Kind = "anthropic"
	KindGeneric      Kind = "generic"
)

// IsCloud reports whether agents of this kind are billed, off-premises
// backends (OpenAI-compatible cloud endpoints and Anthropic-compatible
// endpoints) as opposed to self-hosted local inference (Ollama, vLLM,
// llama.cpp, exo, LM Studio, generic).
func (k Kind) IsCloud() bool {
	return k == KindOpenAICompat || k == KindAnthropic
}

// Zone is the privacy label attached to an agent.
type Zone string

const (
	ZoneRestricted Zone = "restricted"
	ZoneOpen       Zone = "open"
)

// DiscoverySource records how an agent entered the registry.
type DiscoverySource string

const (
	DiscoveryStatic DiscoverySource = "static"
	DiscoveryMDNS   DiscoverySource = "mdns"
	DiscoveryManual DiscoverySource = "manual"
)

// Status is the health state of an agent.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
	StatusDraining  Status = "draining"
)

// Model describes one model instance served by an agent.
type Model struct {
	ID               string
	ContextWindow    uint32
	SupportsVision   bool
	SupportsTools    bool
	SupportsJSONMode bool
	AgentID          string
}

// Agent represents one backend instance.
type Agent struct {
	ID              string
	Name            string
	BaseURL         string
	Kind            Kind
	Priority        int
	Discovery       DiscoverySource
	APIKeyEnv       string
	Zone            Zone
	Tier            int

	mu         sync.RWMutex
	status     Status
	lastCheck  time.Time
	lastError  string
	models     []Model
	failures   int
	successes  int

	pending       atomic.Uint32
	totalRequests atomic.Uint64
	emaLatencyMs  atomic.Uint32
}

// NewAgent constructs an Agent in Unknown status with no models.
func NewAgent(id, name, baseURL string, kind Kind, priority int, discovery DiscoverySource, zone Zone, tier int) *Agent {
	return &Agent{
		ID:        id,
		Name:      name,
		BaseURL:   baseURL,
		Kind:      kind,
		Priority:  priority,
		Discovery: discovery,
		Zone:      zone,
		Tier:      tier,
		status:    StatusUnknown,
	}
}

func (a *Agent) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

func (a *Agent) LastError() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastError
}

func (a *Agent) LastCheck() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastCheck
}

// Models returns a snapshot copy of the agent's model list.
func (a *Agent) Models() []Model {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Model, len(a.models))
	copy(out, a.models)
	return out
}

func (a *Agent) Pending() uint32       { return a.pending.Load() }
func (a *Agent) TotalRequests() uint64 { return a.totalRequests.Load() }
func (a *Agent) EMALatencyMs() uint32  { return a.emaLatencyMs.Load() }

// IncPending increments the pending-request counter and the lifetime total.
func (a *Agent) IncPending() {
	a.pending.Add(1)
	a.totalRequests.Add(1)
}

// DecPending decrements the pending-request counter, saturating at 0.
func (a *Agent) DecPending(logger *zap.Logger) {
	for {
		cur := a.pending.Load()
		if cur == 0 {
			if logger != nil {
				logger.Warn("dec_pending on zero counter", zap.String("agent", a.ID))
			}
			return
		}
		if a.pending.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// RecordLatency folds sampleMs into the agent's EMA latency using alpha=0.2:
// new = (sample + 4*old) / 5.
func (a *Agent) RecordLatency(sampleMs uint32) {
	for {
		old := a.emaLatencyMs.Load()
		var next uint32
		if old == 0 {
			next = sampleMs
		} else {
			next = (sampleMs + 4*old) / 5
		}
		if a.emaLatencyMs.CompareAndSwap(old, next) {
			return
		}
	}
}

// transition applies a health-status change honoring the consecutive
// failure/recovery thresholds described in the scoring/selection design.
func (a *Agent) transition(healthy bool, errMsg string, failureThreshold, recoveryThreshold int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.lastCheck = time.Now()
	if healthy {
		a.failures = 0
		a.successes++
		a.lastError = ""
		switch a.status {
		case StatusUnknown, StatusUnhealthy:
			if a.status == StatusUnknown || a.successes >= recoveryThreshold {
				a.status = StatusHealthy
				a.successes = 0
			}
		default:
			a.status = StatusHealthy
		}
		return
	}

	a.successes = 0
	a.failures++
	a.lastError = errMsg
	switch a.status {
	case StatusUnknown:
		a.status = StatusUnhealthy
	case StatusHealthy:
		if a.failures >= failureThreshold {
			a.status = StatusUnhealthy
		}
	}
}

// replaceModels atomically swaps the agent's model list.
func (a *Agent) replaceModels(models []Model) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.models = models
}

// Registry is the thread-safe store of agents plus the model->agent index.
type Registry struct {
	mu          sync.RWMutex
	agents      map[string]*Agent
	modelIndex  map[string]map[string]struct{} // model id -> set of agent ids
	logger      *zap.Logger

	failureThreshold  int
	recoveryThreshold int
}

// New creates an empty Registry.
func New(logger *zap.Logger, failureThreshold, recoveryThreshold int) *Registry {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if recoveryThreshold <= 0 {
		recoveryThreshold = 2
	}
	return &Registry{
		agents:            make(map[string]*Agent),
		modelIndex:        make(map[string]map[string]struct{}),
		logger:            logger,
		failureThreshold:  failureThreshold,
		recoveryThreshold: recoveryThreshold,
	}
}

// Add registers a new agent. It is a no-op if an agent with the same URL
// already exists from static configuration (static wins over mDNS).
func (r *Registry) Add(agent *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.agents {
		if existing.BaseURL == agent.BaseURL && existing.Discovery == DiscoveryStatic && agent.Discovery != DiscoveryStatic {
			return
		}
	}
	r.agents[agent.ID] = agent
}

// Remove deletes an agent and prunes it from the model index.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
	for model, ids := range r.modelIndex {
		delete(ids, id)
		if len(ids) == 0 {
			delete(r.modelIndex, model)
		}
	}
}

// Get returns the agent with the given id, or nil.
func (r *Registry) Get(id string) *Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[id]
}

// List returns all agents sorted deterministically by id.
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListForModel returns every agent currently advertising modelID, sorted by id.
func (r *Registry) ListForModel(modelID string) []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids, ok := r.modelIndex[modelID]
	if !ok {
		return nil
	}
	out := make([]*Agent, 0, len(ids))
	for id := range ids {
		if a, ok := r.agents[id]; ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetStatus records a health-probe outcome for an agent, applying the
// consecutive failure/recovery thresholds.
func (r *Registry) SetStatus(id string, healthy bool, errMsg string) {
	r.mu.RLock()
	a, ok := r.agents[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	a.transition(healthy, errMsg, r.failureThreshold, r.recoveryThreshold)
}

// ReplaceModels atomically swaps an agent's model list and updates the
// secondary model index to match.
func (r *Registry) ReplaceModels(id string, models []Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return
	}

	old := a.Models()
	for _, m := range old {
		if ids, ok := r.modelIndex[m.ID]; ok {
			delete(ids, id)
			if len(ids) == 0 {
				delete(r.modelIndex, m.ID)
			}
		}
	}
	a.replaceModels(models)
	for _, m := range models {
		if r.modelIndex[m.ID] == nil {
			r.modelIndex[m.ID] = make(map[string]struct{})
		}
		r.modelIndex[m.ID][id] = struct{}{}
	}
}

// IncPending increments the pending counter for agentID, if it exists.
func (r *Registry) IncPending(agentID string) {
	if a := r.Get(agentID); a != nil {
		a.IncPending()
	}
}

// DecPending decrements the pending counter for agentID, if it exists.
func (r *Registry) DecPending(agentID string) {
	if a := r.Get(agentID); a != nil {
		a.DecPending(r.logger)
	}
}

// RecordLatency folds a latency sample into agentID's EMA, if it exists.
func (r *Registry) RecordLatency(agentID string, sampleMs uint32) {
	if a := r.Get(agentID); a != nil {
		a.RecordLatency(sampleMs)
	}
}

// Counts returns total and healthy agent counts, for the /health summary.
func (r *Registry) Counts() (total, healthy int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total = len(r.agents)
	for _, a := range r.agents {
		if a.Status() == StatusHealthy {
			healthy++
		}
	}
	return
}

// ModelCount returns the number of distinct models known to the registry.
func (r *Registry) ModelCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modelIndex)
}
