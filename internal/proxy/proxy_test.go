package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nexushq/nexus/internal/config"
	"github.com/nexushq/nexus/internal/metrics"
	"github.com/nexushq/nexus/internal/registry"
	"github.com/nexushq/nexus/internal/routing"
)

var testNamespaceSeq uint64

func testCollector() *metrics.Collector {
	seq := atomic.AddUint64(&testNamespaceSeq, 1)
	return metrics.NewCollector(fmt.Sprintf("proxytest_%d", seq))
}

func baseServerCfg() config.ServerConfig {
	return config.ServerConfig{RequestTimeoutSeconds: 5}
}

func baseRoutingCfg() config.RoutingConfig {
	return config.RoutingConfig{
		Strategy:   "priority",
		MaxRetries: 1,
		Weights:    config.ScoreWeights{Priority: 50, Load: 30, Latency: 20},
	}
}

func newTestRegistry() *registry.Registry {
	return registry.New(zap.NewNop(), 3, 2)
}

func addAgent(reg *registry.Registry, id, baseURL string) *registry.Agent {
	a := registry.NewAgent(id, id, baseURL, registry.KindGeneric, 1, registry.DiscoveryStatic, registry.ZoneOpen, 0)
	reg.Add(a)
	return a
}

func routedIntent(agentID, model string) *routing.Intent {
	in := routing.NewIntent("req-1", model, []byte(`{"model":"`+model+`","messages":[{"role":"user","content":"hi"}]}`))
	in.Decision = routing.Decision{Kind: routing.DecisionRoute, AgentID: agentID, ActualModel: model}
	return in
}

func TestServeBufferedSuccessWritesHeadersAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion"}`))
	}))
	defer srv.Close()

	reg := newTestRegistry()
	addAgent(reg, "a1", srv.URL)

	e := New(reg, baseRoutingCfg(), baseServerCfg(), srv.Client(), testCollector(), zap.NewNop())
	intent := routedIntent("a1", "gpt-4o")

	rec := httptest.NewRecorder()
	err := e.Serve(context.Background(), rec, intent)

	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "a1", rec.Header().Get("X-Nexus-Backend"))
	require.Equal(t, "local", rec.Header().Get("X-Nexus-Backend-Type"))
	require.Contains(t, rec.Body.String(), "chatcmpl-1")
}

func TestServeClientErrorIsSurfacedImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer srv.Close()

	reg := newTestRegistry()
	addAgent(reg, "a1", srv.URL)

	e := New(reg, baseRoutingCfg(), baseServerCfg(), srv.Client(), testCollector(), zap.NewNop())
	intent := routedIntent("a1", "gpt-4o")

	rec := httptest.NewRecorder()
	err := e.Serve(context.Background(), rec, intent)

	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "bad request")
}

func TestServeRetriesOnServerErrorThenSucceeds(t *testing.T) {
	var calls int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"ok"}`))
	}))
	defer good.Close()

	reg := newTestRegistry()
	addAgent(reg, "bad", bad.URL)
	goodAgent := addAgent(reg, "good", good.URL)
	goodAgent.Priority = 100
	reg.ReplaceModels("good", []registry.Model{{ID: "gpt-4o", ContextWindow: 128000}})

	cfg := baseRoutingCfg()
	cfg.MaxRetries = 2
	e := New(reg, cfg, baseServerCfg(), http.DefaultClient, testCollector(), zap.NewNop())
	intent := routedIntent("bad", "gpt-4o")
	intent.ResolvedModel = "gpt-4o"
	intent.CandidateAgentIDs = []string{"bad", "good"}

	rec := httptest.NewRecorder()
	err := e.Serve(context.Background(), rec, intent)

	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)
	require.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}

func TestServeReturnsErrorWhenDecisionIsNotRoute(t *testing.T) {
	reg := newTestRegistry()
	e := New(reg, baseRoutingCfg(), baseServerCfg(), http.DefaultClient, testCollector(), zap.NewNop())

	intent := routing.NewIntent("req-1", "gpt-4o", nil)
	intent.Decision = routing.Decision{Kind: routing.DecisionReject}

	rec := httptest.NewRecorder()
	err := e.Serve(context.Background(), rec, intent)
	require.Error(t, err)
}

func TestServeReturnsErrorWhenAgentDisappeared(t *testing.T) {
	reg := newTestRegistry()
	e := New(reg, baseRoutingCfg(), baseServerCfg(), http.DefaultClient, testCollector(), zap.NewNop())
	intent := routedIntent("ghost", "gpt-4o")

	rec := httptest.NewRecorder()
	err := e.Serve(context.Background(), rec, intent)
	require.Error(t, err)
}

func TestServeStreamsSSEChunksAndTerminatesWithDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		_, _ = fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n")
		flusher.Flush()
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	reg := newTestRegistry()
	addAgent(reg, "a1", srv.URL)

	e := New(reg, baseRoutingCfg(), baseServerCfg(), srv.Client(), testCollector(), zap.NewNop())
	intent := routedIntent("a1", "gpt-4o")
	intent.Stream = true

	rec := httptest.NewRecorder()
	err := e.Serve(context.Background(), rec, intent)

	require.NoError(t, err)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), "[DONE]")
	require.Contains(t, rec.Body.String(), "hi")
}

func TestServeStreamMidFlightFailureEmitsErrorFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, bufrw, err := hj.Hijack()
		require.NoError(t, err)
		defer conn.Close()

		first := "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n"
		_, _ = fmt.Fprintf(bufrw, "HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\nContent-Length: %d\r\n\r\n%s", len(first)+64, first)
		_ = bufrw.Flush()
		// Connection closes short of the declared Content-Length, surfacing
		// as a read error on the client side once the first chunk is consumed.
	}))
	defer srv.Close()

	reg := newTestRegistry()
	addAgent(reg, "a1", srv.URL)

	e := New(reg, baseRoutingCfg(), baseServerCfg(), srv.Client(), testCollector(), zap.NewNop())
	intent := routedIntent("a1", "gpt-4o")
	intent.Stream = true

	rec := httptest.NewRecorder()
	err := e.Serve(context.Background(), rec, intent)

	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "hi")
	require.Contains(t, rec.Body.String(), `"error"`)
	require.Contains(t, rec.Body.String(), "[DONE]")
}

func TestServeStreamFailsBeforeFirstChunkIsRetryable(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, bufrw, err := hj.Hijack()
		require.NoError(t, err)
		defer conn.Close()
		_, _ = fmt.Fprint(bufrw, "HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\nContent-Length: 128\r\n\r\n")
		_ = bufrw.Flush()
		// Closes immediately: headers reached the transport but zero SSE
		// bytes were ever parsed, so Serve must still be able to fail over.
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		_, _ = fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n")
		flusher.Flush()
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer good.Close()

	reg := newTestRegistry()
	addAgent(reg, "bad", bad.URL)
	goodAgent := addAgent(reg, "good", good.URL)
	goodAgent.Priority = 100
	reg.ReplaceModels("good", []registry.Model{{ID: "gpt-4o", ContextWindow: 128000}})

	cfg := baseRoutingCfg()
	cfg.MaxRetries = 2
	e := New(reg, cfg, baseServerCfg(), http.DefaultClient, testCollector(), zap.NewNop())
	intent := routedIntent("bad", "gpt-4o")
	intent.Stream = true
	intent.ResolvedModel = "gpt-4o"
	intent.CandidateAgentIDs = []string{"bad", "good"}

	rec := httptest.NewRecorder()
	err := e.Serve(context.Background(), rec, intent)

	require.NoError(t, err)
	require.Equal(t, "good", rec.Header().Get("X-Nexus-Backend"))
	require.Contains(t, rec.Body.String(), "hi")
	require.Contains(t, rec.Body.String(), "[DONE]")
}

func TestWriteHeadersSetsCostHeaderOnlyForCloudBackends(t *testing.T) {
	reg := newTestRegistry()
	cloud := registry.NewAgent("c1", "c1", "http://cloud", registry.KindAnthropic, 1, registry.DiscoveryStatic, registry.ZoneOpen, 0)
	reg.Add(cloud)

	e := New(reg, baseRoutingCfg(), baseServerCfg(), http.DefaultClient, testCollector(), zap.NewNop())
	intent := routing.NewIntent("req-1", "claude-3-5-sonnet", nil)
	intent.RouteReason = "direct"
	intent.CostEstimateUSD = 0.0123

	rec := httptest.NewRecorder()
	e.writeHeaders(rec, intent, routing.Decision{ActualModel: "claude-3-5-sonnet"}, cloud)

	require.Equal(t, "cloud", rec.Header().Get("X-Nexus-Backend-Type"))
	require.NotEmpty(t, rec.Header().Get("X-Nexus-Cost-Estimated"))
}

func TestWriteHeadersSetsFallbackModelHeaderWhenRouteReasonIsFallback(t *testing.T) {
	reg := newTestRegistry()
	a := addAgent(reg, "a1", "http://host")

	e := New(reg, baseRoutingCfg(), baseServerCfg(), http.DefaultClient, testCollector(), zap.NewNop())
	intent := routing.NewIntent("req-1", "alias-model", nil)
	intent.RouteReason = "fallback:alias-model:actual-model"

	rec := httptest.NewRecorder()
	e.writeHeaders(rec, intent, routing.Decision{ActualModel: "actual-model"}, a)

	require.Equal(t, "actual-model", rec.Header().Get("X-Nexus-Fallback-Model"))
}

func TestResolveAPIKeyReadsConfiguredEnvVar(t *testing.T) {
	t.Setenv("NEXUS_TEST_API_KEY", "secret-value")
	a := registry.NewAgent("a1", "a1", "http://host", registry.KindOpenAICompat, 1, registry.DiscoveryStatic, registry.ZoneOpen, 0)
	a.APIKeyEnv = "NEXUS_TEST_API_KEY"
	require.Equal(t, "secret-value", resolveAPIKey(a))
}

func TestResolveAPIKeyEmptyWhenUnset(t *testing.T) {
	a := registry.NewAgent("a1", "a1", "http://host", registry.KindOpenAICompat, 1, registry.DiscoveryStatic, registry.ZoneOpen, 0)
	require.Empty(t, resolveAPIKey(a))
}

func TestDispatchSignalsRespondChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"ok"}`))
	}))
	defer srv.Close()

	reg := newTestRegistry()
	addAgent(reg, "a1", srv.URL)

	e := New(reg, baseRoutingCfg(), baseServerCfg(), srv.Client(), testCollector(), zap.NewNop())
	intent := routing.NewIntent("req-1", "gpt-4o", []byte(`{"model":"gpt-4o"}`))

	req := &routing.QueuedRequest{
		Intent:  intent,
		Writer:  httptest.NewRecorder(),
		Respond: make(chan routing.QueuedResponse, 1),
	}
	decision := routing.Decision{Kind: routing.DecisionRoute, AgentID: "a1", ActualModel: "gpt-4o"}

	e.Dispatch(context.Background(), req, decision)

	select {
	case resp := <-req.Respond:
		require.NoError(t, resp.Err)
		require.Equal(t, "a1", resp.Decision.AgentID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch response")
	}
}
