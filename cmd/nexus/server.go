package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nexushq/nexus/api/handlers"
	"github.com/nexushq/nexus/internal/agent"
	"github.com/nexushq/nexus/internal/budget"
	"github.com/nexushq/nexus/internal/config"
	"github.com/nexushq/nexus/internal/discovery"
	"github.com/nexushq/nexus/internal/events"
	"github.com/nexushq/nexus/internal/health"
	"github.com/nexushq/nexus/internal/history"
	"github.com/nexushq/nexus/internal/logging"
	"github.com/nexushq/nexus/internal/metrics"
	"github.com/nexushq/nexus/internal/proxy"
	"github.com/nexushq/nexus/internal/queue"
	"github.com/nexushq/nexus/internal/reconciler"
	"github.com/nexushq/nexus/internal/registry"
	"github.com/nexushq/nexus/internal/server"
	"github.com/nexushq/nexus/internal/telemetry"
	"github.com/nexushq/nexus/internal/tokenizer"
	"github.com/google/uuid"
)

// Gateway owns every long-lived component and background loop that make up
// one running Nexus instance: the registry, the reconciler pipeline, the
// proxy engine, the queue and its drain loop, the health checker, mDNS
// discovery, and the HTTP listener that fronts them all.
type Gateway struct {
	cfg    *config.Config
	logger *zap.Logger

	reg       *registry.Registry
	bus       *events.Bus
	hist      *history.Ring
	collector *metrics.Collector
	pricing   *budget.PricingTable
	usage     *budget.Manager
	tokens    *tokenizer.Registry

	pipeline *reconciler.Pipeline
	engine   *proxy.Engine
	q        *queue.Queue
	drain    *queue.DrainLoop
	checker  *health.Checker
	browser  *discovery.Browser

	httpManager *server.Manager
	watcher     *config.FileWatcher
	telemetry   *telemetry.Providers

	startedAt time.Time
}

// NewGateway loads configuration from configPath (or defaults when empty),
// and wires every component into a ready-to-run Gateway.
func NewGateway(configPath, version string) (*Gateway, error) {
	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.NewLoader().WithConfigPath(configPath).WithEnvPrefix("NEXUS").Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	tp, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("telemetry init failed, continuing without it", zap.Error(err))
		tp = &telemetry.Providers{}
	}

	reg := registry.New(
		logging.Component(logger, cfg.Logging, "registry"),
		cfg.HealthCheck.FailureThreshold,
		cfg.HealthCheck.RecoveryThreshold,
	)
	for _, b := range cfg.Backends {
		kind := backendKind(b.Type)
		zone := registry.ZoneOpen
		if b.Zone == string(registry.ZoneRestricted) {
			zone = registry.ZoneRestricted
		}
		a := registry.NewAgent(uuid.NewString(), b.Name, b.URL, kind, b.Priority, registry.DiscoveryStatic, zone, b.Tier)
		a.APIKeyEnv = b.APIKeyEnv
		reg.Add(a)
	}

	bus := events.New()
	hist := history.New(0)
	collector := metrics.NewCollector("nexus")
	tokens := tokenizer.NewRegistry()
	pricing := budget.NewPricingTable()
	usage := budget.NewManager(logging.Component(logger, cfg.Logging, "budget"))

	httpClient := agent.NewHTTPClient()
	httpClient.Timeout = time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second

	pipeline := reconciler.New(reg, cfg, tokens, collector, logging.Component(logger, cfg.Logging, "reconciler"))
	pipeline.WireBudget(pricing, usage)

	engine := proxy.New(reg, cfg.Routing, cfg.Server, httpClient, collector, logging.Component(logger, cfg.Logging, "proxy"))

	q := queue.New(cfg.Queue.Enabled, cfg.Queue.MaxSize)
	maxWait := time.Duration(cfg.Queue.MaxWaitSeconds) * time.Second
	drain := queue.NewDrainLoop(q, pipeline.Scheduler(), engine, maxWait, logging.Component(logger, cfg.Logging, "queue_drain"))

	checker := health.New(reg, cfg.HealthCheck, httpClient, bus, collector, logging.Component(logger, cfg.Logging, "health"))
	browser := discovery.New(reg, cfg.Discovery, bus, checker.ProbeNow, logging.Component(logger, cfg.Logging, "discovery"))

	mux := buildMux(reg, checker, pipeline, engine, q, drain, hist, bus, usage, collector, version, logger, cfg)
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpManager := server.NewManager(mux, server.Config{
		Addr:            httpAddr,
		ReadTimeout:     time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		WriteTimeout:    time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	var watcher *config.FileWatcher
	if configPath != "" {
		w, err := config.NewFileWatcher(configPath, config.WithWatcherLogger(logging.Component(logger, cfg.Logging, "config_watcher")))
		if err != nil {
			logger.Warn("config file watcher unavailable", zap.Error(err))
		} else {
			watcher = w
		}
	}

	return &Gateway{
		cfg:         cfg,
		logger:      logger,
		reg:         reg,
		bus:         bus,
		hist:        hist,
		collector:   collector,
		pricing:     pricing,
		usage:       usage,
		tokens:      tokens,
		pipeline:    pipeline,
		engine:      engine,
		q:           q,
		drain:       drain,
		checker:     checker,
		browser:     browser,
		httpManager: httpManager,
		watcher:     watcher,
		telemetry:   tp,
		startedAt:   time.Now(),
	}, nil
}

func backendKind(t string) registry.Kind {
	switch t {
	case "ollama":
		return registry.KindOllama
	case "vllm":
		return registry.KindVLLM
	case "llamacpp", "llama.cpp":
		return registry.KindLlamaCpp
	case "exo":
		return registry.KindExo
	case "lmstudio":
		return registry.KindLMStudio
	case "anthropic":
		return registry.KindAnthropic
	case "openai_compatible", "openai":
		return registry.KindOpenAICompat
	default:
		return registry.KindGeneric
	}
}

func buildMux(
	reg *registry.Registry,
	checker *health.Checker,
	pipeline *reconciler.Pipeline,
	engine *proxy.Engine,
	q *queue.Queue,
	drain *queue.DrainLoop,
	hist *history.Ring,
	bus *events.Bus,
	usage *budget.Manager,
	collector *metrics.Collector,
	version string,
	logger *zap.Logger,
	cfg *config.Config,
) *http.ServeMux {
	chat := handlers.NewChatHandler(pipeline, engine, q, drain, hist, bus, collector, logger)
	models := handlers.NewModelsHandler(reg, logger)
	healthHandler := handlers.NewHealthHandler(reg, version, time.Now(), logger)
	stats := handlers.NewStatsHandler(reg, q, usage, hist, logger)
	backends := handlers.NewBackendsHandler(reg, checker, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", chat.HandleCompletion)
	mux.HandleFunc("GET /v1/models", models.HandleList)
	mux.HandleFunc("GET /health", healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", healthHandler.HandleReady)
	mux.HandleFunc("GET /version", healthHandler.HandleVersion)
	mux.HandleFunc("GET /v1/stats", stats.HandleStats)
	mux.HandleFunc("GET /v1/history", stats.HandleHistory)
	mux.HandleFunc("POST /v1/admin/backends", backends.HandleAdd)
	mux.HandleFunc("DELETE /v1/admin/backends/{id}", func(w http.ResponseWriter, r *http.Request) {
		backends.HandleRemove(w, r, r.PathValue("id"))
	})
	mux.Handle("GET /metrics", handlers.NewMetricsHandler())
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		bus.ServeWS(w, r, logger)
	})
	return mux
}

// Run starts every background loop and the HTTP listener, then blocks until
// a shutdown signal (SIGINT/SIGTERM) arrives or a background loop fails it
// cannot recover from. All loops share one cancellation signal and the
// HTTP listener is drained last, honoring the gateway's shutdown contract
// (in-flight requests get a bounded window; queued requests get a 503).
func (g *Gateway) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		g.checker.Run(gctx)
		return nil
	})
	group.Go(func() error {
		return g.browser.Run(gctx)
	})
	group.Go(func() error {
		g.drain.Run(gctx)
		return nil
	})
	if g.watcher != nil {
		g.watcher.OnReload(func(newCfg *config.Config) {
			g.logger.Info("config reloaded", zap.String("path", newCfg.Server.Host))
		})
		group.Go(func() error {
			return g.watcher.Start(gctx)
		})
	}

	if err := g.httpManager.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	g.logger.Info("nexus gateway listening", zap.String("addr", g.httpManager.Addr()))

	<-gctx.Done()
	g.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), g.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := g.httpManager.Shutdown(shutdownCtx); err != nil {
		g.logger.Error("http shutdown error", zap.Error(err))
	}
	if g.watcher != nil {
		g.watcher.Stop()
	}
	if g.telemetry != nil {
		_ = g.telemetry.Shutdown(shutdownCtx)
	}

	return group.Wait()
}
