// Package discovery implements mDNS backend auto-discovery: a continuous
// browser subscribed to configured service types, registering resolved
// services into the agent registry and removing them after a grace period
// once they stop responding.
package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/nexushq/nexus/internal/config"
	"github.com/nexushq/nexus/internal/events"
	"github.com/nexushq/nexus/internal/registry"
)

// defaultGracePeriod is used when GracePeriodSeconds is unset.
const defaultGracePeriod = 60 * time.Second

// browseInterval is how often the browser re-scans each service type. mDNS's
// push model means zeroconf.Browse delivers updates continuously, but a
// periodic fresh Browse protects against missed goodbye packets.
const browseInterval = 30 * time.Second

// probeFunc triggers an immediate health probe for a newly registered agent.
type probeFunc func(agentID string)

// Browser runs the mDNS discovery loop.
type Browser struct {
	reg    *registry.Registry
	cfg    config.DiscoveryConfig
	bus    *events.Bus
	probe  probeFunc
	logger *zap.Logger

	mu          sync.Mutex
	graceTimers map[string]*time.Timer
}

// New builds a Browser. probe is called once, synchronously-scheduled, for
// every newly registered agent so it doesn't wait a full health-check
// interval before its first status transition.
func New(reg *registry.Registry, cfg config.DiscoveryConfig, bus *events.Bus, probe probeFunc, logger *zap.Logger) *Browser {
	return &Browser{
		reg:         reg,
		cfg:         cfg,
		bus:         bus,
		probe:       probe,
		logger:      logger.With(zap.String("component", "discovery")),
		graceTimers: make(map[string]*time.Timer),
	}
}

// Run starts one browsing goroutine per configured service type and blocks
// until ctx is cancelled. If the mDNS subsystem fails to initialize (common
// in sandboxed containers), it logs a warning and returns nil: static
// backends keep working without auto-discovery.
func (b *Browser) Run(ctx context.Context) error {
	if !b.cfg.Enabled {
		return nil
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		b.logger.Warn("mdns resolver unavailable, continuing without auto-discovery", zap.Error(err))
		return nil
	}

	serviceTypes := b.cfg.ServiceTypes
	if len(serviceTypes) == 0 {
		serviceTypes = []string{"_ollama._tcp.local.", "_llm._tcp.local."}
	}

	var wg sync.WaitGroup
	for _, st := range serviceTypes {
		st := normalizeServiceType(st)
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.browseLoop(ctx, resolver, st)
		}()
	}
	wg.Wait()
	return nil
}

func normalizeServiceType(st string) string {
	if !strings.HasSuffix(st, ".") {
		st += "."
	}
	return st
}

func (b *Browser) browseLoop(ctx context.Context, resolver *zeroconf.Resolver, serviceType string) {
	ticker := time.NewTicker(browseInterval)
	defer ticker.Stop()

	seen := make(map[string]struct{})
	b.scanOnce(ctx, resolver, serviceType, seen)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.scanOnce(ctx, resolver, serviceType, seen)
		}
	}
}

func (b *Browser) scanOnce(ctx context.Context, resolver *zeroconf.Resolver, serviceType string, seen map[string]struct{}) {
	scanCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	thisPass := make(map[string]struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			id := b.onResolved(entry)
			if id != "" {
				thisPass[id] = struct{}{}
				seen[id] = struct{}{}
			}
		}
	}()

	if err := resolver.Browse(scanCtx, serviceType, "local.", entries); err != nil {
		b.logger.Warn("mdns browse failed", zap.String("service_type", serviceType), zap.Error(err))
		close(entries)
		<-done
		return
	}
	<-scanCtx.Done()
	<-done

	for id := range seen {
		if _, ok := thisPass[id]; !ok {
			b.onRemoved(id)
			delete(seen, id)
		}
	}
}

// onResolved registers (or reaffirms) an agent from one resolved mDNS entry
// and returns its stable id.
func (b *Browser) onResolved(entry *zeroconf.ServiceEntry) string {
	addr := firstAddress(entry)
	if addr == "" {
		return ""
	}
	baseURL := fmt.Sprintf("http://%s:%d", addr, entry.Port)
	id := stableID(entry.Instance, addr, entry.Port)

	b.mu.Lock()
	if timer, ok := b.graceTimers[id]; ok {
		timer.Stop()
		delete(b.graceTimers, id)
	}
	b.mu.Unlock()

	if existing := b.reg.Get(id); existing != nil {
		return id
	}

	kind := kindFromTXT(entry.Text)
	a := registry.NewAgent(id, entry.Instance, baseURL, kind, 0, registry.DiscoveryMDNS, registry.ZoneOpen, 0)
	b.reg.Add(a)
	b.logger.Info("mdns agent discovered", zap.String("agent", id), zap.String("url", baseURL))

	if b.bus != nil {
		b.bus.Publish(events.Event{Kind: events.KindBackendAdded, AgentID: id})
	}
	if b.probe != nil {
		b.probe(id)
	}
	return id
}

// onRemoved starts a grace timer for an mDNS agent that didn't reappear in
// the latest scan; the agent is only dropped from the registry if the timer
// fires without the service being rediscovered first.
func (b *Browser) onRemoved(id string) {
	grace := time.Duration(b.cfg.GracePeriodSeconds) * time.Second
	if grace <= 0 {
		grace = defaultGracePeriod
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.graceTimers[id]; ok {
		return
	}
	b.graceTimers[id] = time.AfterFunc(grace, func() {
		b.reg.Remove(id)
		b.mu.Lock()
		delete(b.graceTimers, id)
		b.mu.Unlock()
		b.logger.Info("mdns agent expired after grace period", zap.String("agent", id))
		if b.bus != nil {
			b.bus.Publish(events.Event{Kind: events.KindBackendRemoved, AgentID: id})
		}
	})
}

func firstAddress(entry *zeroconf.ServiceEntry) string {
	for _, ip := range entry.AddrIPv4 {
		return ip.String()
	}
	for _, ip := range entry.AddrIPv6 {
		return "[" + ip.String() + "]"
	}
	return ""
}

func kindFromTXT(txt []string) registry.Kind {
	for _, rec := range txt {
		k, v, ok := strings.Cut(rec, "=")
		if !ok || k != "type" {
			continue
		}
		switch strings.ToLower(v) {
		case "ollama":
			return registry.KindOllama
		case "vllm":
			return registry.KindVLLM
		case "llamacpp", "llama.cpp":
			return registry.KindLlamaCpp
		case "lmstudio":
			return registry.KindLMStudio
		case "exo":
			return registry.KindExo
		case "openai_compatible", "openai":
			return registry.KindOpenAICompat
		}
	}
	return registry.KindOllama
}

func stableID(instance, addr string, port int) string {
	key := instance + "|" + addr + "|" + strconv.Itoa(port)
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(key)).String()
}
