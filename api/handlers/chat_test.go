package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nexushq/nexus/internal/config"
	"github.com/nexushq/nexus/internal/events"
	"github.com/nexushq/nexus/internal/history"
	"github.com/nexushq/nexus/internal/proxy"
	"github.com/nexushq/nexus/internal/queue"
	"github.com/nexushq/nexus/internal/reconciler"
	"github.com/nexushq/nexus/internal/registry"
)

func testRoutingConfig() config.RoutingConfig {
	return config.RoutingConfig{
		Strategy:   "smart",
		MaxRetries: 1,
		Weights:    config.ScoreWeights{Priority: 40, Load: 30, Latency: 30},
	}
}

func newChatHandler(t *testing.T, reg *registry.Registry, backendURL string, queueEnabled bool) *ChatHandler {
	t.Helper()
	logger := zap.NewNop()

	cfg := &config.Config{Routing: testRoutingConfig(), Queue: config.QueueConfig{Enabled: queueEnabled, MaxSize: 4, MaxWaitSeconds: 1}}
	pipeline := reconciler.New(reg, cfg, noopTokenEstimator{}, nil, logger)

	serverCfg := config.ServerConfig{RequestTimeoutSeconds: 2}
	engine := proxy.New(reg, cfg.Routing, serverCfg, &http.Client{Timeout: 2 * time.Second}, nil, logger)

	q := queue.New(queueEnabled, cfg.Queue.MaxSize)
	scheduler := reconciler.NewSchedulerReconciler(reg, cfg.Routing.Strategy, cfg.Routing.Weights, queueEnabled)
	drain := queue.NewDrainLoop(q, scheduler, engine, time.Duration(cfg.Queue.MaxWaitSeconds)*time.Second, logger)
	go drain.Run(t.Context())

	_ = backendURL
	return NewChatHandler(pipeline, engine, q, drain, history.New(10), events.New(), nil, logger)
}

type noopTokenEstimator struct{}

func (noopTokenEstimator) Estimate(model, text string) (int, bool) { return 0, false }

func TestChatHandler_ModelNotFound(t *testing.T) {
	reg := registry.New(zap.NewNop(), 3, 2)
	h := newChatHandler(t, reg, "", false)

	body := bytes.NewBufferString(`{"model":"missing-model","messages":[{"role":"user","content":"hi"}]}`)
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.HandleCompletion(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
	var env map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	errBody := env["error"].(map[string]any)
	assert.Equal(t, "model_not_found", errBody["code"])
}

func TestChatHandler_MissingModel(t *testing.T) {
	reg := registry.New(zap.NewNop(), 3, 2)
	h := newChatHandler(t, reg, "", false)

	body := bytes.NewBufferString(`{"messages":[{"role":"user","content":"hi"}]}`)
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.HandleCompletion(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatHandler_RoutesToHealthyBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3:8b","message":{"role":"assistant","content":"hello"},"done":true}`))
	}))
	defer backend.Close()

	reg := registry.New(zap.NewNop(), 3, 2)
	a := registry.NewAgent("a1", "a1", backend.URL, registry.KindOllama, 0, registry.DiscoveryStatic, registry.ZoneOpen, 0)
	reg.Add(a)
	reg.SetStatus("a1", true, "")
	reg.ReplaceModels("a1", []registry.Model{{ID: "llama3:8b", ContextWindow: 8192}})

	h := newChatHandler(t, reg, backend.URL, false)

	body := bytes.NewBufferString(`{"model":"llama3:8b","messages":[{"role":"user","content":"hi"}]}`)
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.HandleCompletion(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a1", w.Header().Get("X-Nexus-Backend"))
}

func TestChatHandler_QueuesWhenSaturated(t *testing.T) {
	released := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-released
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3:8b","message":{"role":"assistant","content":"hello"},"done":true}`))
	}))
	defer backend.Close()

	reg := registry.New(zap.NewNop(), 3, 2)
	a := registry.NewAgent("a1", "a1", backend.URL, registry.KindOllama, 0, registry.DiscoveryStatic, registry.ZoneOpen, 0)
	reg.Add(a)
	reg.SetStatus("a1", true, "")
	reg.ReplaceModels("a1", []registry.Model{{ID: "llama3:8b", ContextWindow: 8192}})

	// Saturate the agent above localSoftCap by incrementing pending directly.
	for i := 0; i < 5; i++ {
		a.IncPending()
	}

	h := newChatHandler(t, reg, backend.URL, true)

	resultCh := make(chan int, 1)
	go func() {
		body := bytes.NewBufferString(`{"model":"llama3:8b","messages":[{"role":"user","content":"hi"}]}`)
		r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
		r.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		h.HandleCompletion(w, r)
		resultCh <- w.Code
	}()

	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 5; i++ {
		a.DecPending(zap.NewNop())
	}
	close(released)

	select {
	case code := <-resultCh:
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for queued request to drain")
	}
}
