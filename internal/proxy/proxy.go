// Package proxy implements the Proxy Engine: dispatching a routed request to
// its chosen backend, translating the wire protocol with the appropriate
// agent.Adapter, forwarding the response (buffered or streamed) back to the
// client, and driving the retry/fallback loop on transient backend failure.
package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nexushq/nexus/internal/agent"
	"github.com/nexushq/nexus/internal/config"
	"github.com/nexushq/nexus/internal/metrics"
	"github.com/nexushq/nexus/internal/nexuserrors"
	"github.com/nexushq/nexus/internal/pool"
	"github.com/nexushq/nexus/internal/reconciler"
	"github.com/nexushq/nexus/internal/registry"
	"github.com/nexushq/nexus/internal/routing"
)

// Engine dispatches routed intents to backends and forwards their responses.
type Engine struct {
	reg        *registry.Registry
	scheduler  *reconciler.SchedulerReconciler
	maxRetries int
	reqTimeout time.Duration
	client     *http.Client
	metrics    *metrics.Collector
	logger     *zap.Logger

	limitRPS   float64
	limitBurst int
	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// New builds a proxy Engine. The scheduler is the same stage type the
// reconciler pipeline uses for its terminal step; the retry loop re-runs it
// in isolation, never the full pipeline, per the retry/fallback contract.
func New(reg *registry.Registry, routingCfg config.RoutingConfig, serverCfg config.ServerConfig, client *http.Client, collector *metrics.Collector, logger *zap.Logger) *Engine {
	timeout := time.Duration(serverCfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Engine{
		reg:        reg,
		scheduler:  reconciler.NewSchedulerReconciler(reg, routingCfg.Strategy, routingCfg.Weights, false),
		maxRetries: routingCfg.MaxRetries,
		reqTimeout: timeout,
		client:     client,
		metrics:    collector,
		logger:     logger.With(zap.String("component", "proxy")),
		limitRPS:   serverCfg.BackendRateLimitRPS,
		limitBurst: serverCfg.BackendRateLimitBurst,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// limiterFor returns the shared outbound token bucket for agentID, lazily
// creating one on first use. A zero configured rate disables limiting.
func (e *Engine) limiterFor(agentID string) *rate.Limiter {
	if e.limitRPS <= 0 {
		return nil
	}
	e.limitersMu.Lock()
	defer e.limitersMu.Unlock()
	l, ok := e.limiters[agentID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(e.limitRPS), e.limitBurst)
		e.limiters[agentID] = l
	}
	return l
}

// Serve executes intent's routed decision against its chosen backend,
// retrying against alternates on transient failure, and writes the final
// response (headers, body or SSE stream) to w. It returns a *nexuserrors.Error
// only when no bytes have yet reached the client, so the caller's handler can
// render the standard error envelope; once headers are flushed, failures are
// instead folded into the stream per the SSE error-frame contract.
func (e *Engine) Serve(ctx context.Context, w http.ResponseWriter, intent *routing.Intent) error {
	attempted := make([]string, 0, e.maxRetries+1)
	bo := backoff.NewExponentialBackOff()

	decision := intent.Decision
	for attempt := 0; ; attempt++ {
		if decision.Kind != routing.DecisionRoute {
			return nexuserrors.New(nexuserrors.ErrNoHealthyBackend, "no healthy backend available").
				WithHTTPStatus(http.StatusServiceUnavailable).
				WithContext("attempted_agents", attempted)
		}

		a := e.reg.Get(decision.AgentID)
		if a == nil {
			return nexuserrors.New(nexuserrors.ErrNoHealthyBackend, "selected backend disappeared from registry").
				WithHTTPStatus(http.StatusServiceUnavailable)
		}
		attempted = append(attempted, a.ID)

		err := e.attempt(ctx, w, intent, decision, a)
		if err == nil {
			return nil
		}
		if err == errAlreadyWritten {
			// Stream failed mid-flight; a terminal SSE error frame was
			// already written. Nothing left for the caller to do.
			return nil
		}

		e.logger.Warn("backend attempt failed",
			zap.String("agent", a.ID),
			zap.String("request_id", intent.RequestID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		e.reg.RecordLatency(a.ID, uint32(e.reqTimeout.Milliseconds()))

		if attempt >= e.maxRetries {
			return nexuserrors.New(nexuserrors.ErrUpstreamBackend, "all attempted backends failed").
				WithHTTPStatus(http.StatusBadGateway).
				WithContext("attempted_agents", attempted).
				WithCause(err)
		}

		next, nextErr := bo.NextBackOff()
		if nextErr == nil && next > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(next):
			}
		}

		intent.Exclude(a.ID, "ProxyEngine", "backend_error", "retry against an alternate backend")
		e.scheduler.Process(ctx, intent)
		decision = intent.Decision
	}
}

// Dispatch satisfies queue.Dispatcher: it runs decision against req's
// backend, writing the result to req.Writer exactly as Serve would for a
// directly routed request, then signals completion on req.Respond so the
// handler goroutine blocked reading it can return.
func (e *Engine) Dispatch(ctx context.Context, req *routing.QueuedRequest, decision routing.Decision) {
	req.Intent.Decision = decision
	err := e.Serve(ctx, req.Writer, req.Intent)
	select {
	case req.Respond <- routing.QueuedResponse{Decision: decision, Err: err}:
	default:
	}
}

// errAlreadyWritten signals that Serve already delivered a terminal response
// to the client (a mid-stream SSE error frame) and must not attempt further
// writes or retries that assume a clean slate.
var errAlreadyWritten = fmt.Errorf("response already written")

func (e *Engine) attempt(ctx context.Context, w http.ResponseWriter, intent *routing.Intent, decision routing.Decision, a *registry.Agent) error {
	adapter := agent.ForKind(a.Kind)

	reqCtx, cancel := context.WithTimeout(ctx, e.reqTimeout)
	defer cancel()

	if limiter := e.limiterFor(a.ID); limiter != nil {
		if err := limiter.Wait(reqCtx); err != nil {
			return nexuserrors.New(nexuserrors.ErrUpstreamTimeout, "rate limit wait exceeded request deadline").
				WithHTTPStatus(http.StatusGatewayTimeout).
				WithAgent(a.ID).
				WithRetryable(true).
				WithCause(err)
		}
	}

	apiKey := resolveAPIKey(a)
	req, err := adapter.BuildChatRequest(reqCtx, a.BaseURL, apiKey, decision.ActualModel, intent.RawPayload, intent.Stream)
	if err != nil {
		return err
	}

	a.IncPending()
	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		a.DecPending(e.logger)
		return err
	}

	if resp.StatusCode >= 500 {
		resp.Body.Close()
		a.DecPending(e.logger)
		return fmt.Errorf("backend returned status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		// Client-shaped error (bad request, auth, etc): not retryable against
		// an alternate backend, surface immediately.
		defer resp.Body.Close()
		defer a.DecPending(e.logger)
		body, _ := readAll(resp.Body)
		w.Header().Set("Content-Type", "application/json")
		e.writeHeaders(w, intent, decision, a)
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(body)
		return errAlreadyWritten
	}

	defer a.DecPending(e.logger)
	if intent.Stream {
		return e.streamResponse(w, intent, decision, a, resp, start)
	}
	return e.bufferedResponse(w, intent, decision, a, resp, start)
}

func (e *Engine) bufferedResponse(w http.ResponseWriter, intent *routing.Intent, decision routing.Decision, a *registry.Agent, resp *http.Response, start time.Time) error {
	defer resp.Body.Close()
	body, err := readAll(resp.Body)
	if err != nil {
		return err
	}

	translated, err := agent.ForKind(a.Kind).TranslateResponseBody(body, intent.RequestedModel)
	if err != nil {
		translated = body
	}

	elapsed := time.Since(start)
	e.reg.RecordLatency(a.ID, uint32(elapsed.Milliseconds()))
	if e.metrics != nil {
		e.metrics.ObserveRequest(a.ID, decision.ActualModel, "success", elapsed)
		e.metrics.ObserveBackendLatency(a.ID, elapsed)
	}

	e.writeHeaders(w, intent, decision, a)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(translated)
	return nil
}

// streamResponse forwards a backend SSE stream to the client. It reads and
// translates the first usable chunk before committing the client's status
// line: a connection drop after headers but before any backend bytes is
// indistinguishable, at that point, from one before the backend even
// responded, so it must still be eligible for the Serve retry loop. Once the
// status line is on the wire, a later read failure can no longer fail over —
// it closes the stream with a terminal SSE error frame instead.
func (e *Engine) streamResponse(w http.ResponseWriter, intent *routing.Intent, decision routing.Decision, a *registry.Agent, resp *http.Response, start time.Time) error {
	defer resp.Body.Close()

	adapter := agent.ForKind(a.Kind)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	firstChunks, firstDone, ok := nextStreamChunks(scanner, adapter, intent.RequestedModel)
	if err := scanner.Err(); err != nil {
		// Nothing has reached the client; safe to retry against another agent.
		return err
	}

	flusher, canFlush := w.(http.Flusher)
	e.writeHeaders(w, intent, decision, a)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sawDone := firstDone
	if ok && !sawDone {
		for _, c := range firstChunks {
			if _, werr := fmt.Fprintf(w, "data: %s\n\n", c); werr != nil {
				return errAlreadyWritten
			}
		}
		if canFlush {
			flusher.Flush()
		}
	}

	for !sawDone {
		chunks, done, ok := nextStreamChunks(scanner, adapter, intent.RequestedModel)
		if !ok {
			break
		}
		if done {
			sawDone = true
			break
		}
		for _, c := range chunks {
			if _, werr := fmt.Fprintf(w, "data: %s\n\n", c); werr != nil {
				return errAlreadyWritten
			}
		}
		if canFlush {
			flusher.Flush()
		}
	}

	if err := scanner.Err(); err != nil {
		e.logger.Warn("stream read failed mid-flight",
			zap.String("agent", a.ID),
			zap.String("request_id", intent.RequestID),
			zap.Error(err),
		)
		fmt.Fprintf(w, "data: {\"error\":{\"message\":%q,\"type\":\"backend_error\"}}\n\n", err.Error())
		fmt.Fprint(w, "data: [DONE]\n\n")
		if canFlush {
			flusher.Flush()
		}
		return errAlreadyWritten
	}

	if !sawDone {
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
		if canFlush {
			flusher.Flush()
		}
	}

	elapsed := time.Since(start)
	e.reg.RecordLatency(a.ID, uint32(elapsed.Milliseconds()))
	if e.metrics != nil {
		e.metrics.ObserveRequest(a.ID, decision.ActualModel, "success", elapsed)
		e.metrics.ObserveBackendLatency(a.ID, elapsed)
	}
	return nil
}

// nextStreamChunks scans forward to the next non-empty SSE data line,
// translating it with adapter. ok is false when the scanner is exhausted
// (clean EOF or read error, distinguished by scanner.Err()); done is true on
// the literal "[DONE]" sentinel.
func nextStreamChunks(scanner *bufio.Scanner, adapter agent.Adapter, requestedModel string) (chunks [][]byte, done bool, ok bool) {
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			return nil, true, true
		}
		translated, err := adapter.TranslateStreamChunk([]byte(payload), requestedModel)
		if err != nil {
			continue
		}
		if len(translated) == 0 {
			continue
		}
		return translated, false, true
	}
	return nil, false, false
}

// writeHeaders sets every Nexus metadata header required on a successful
// proxied response, before the status line is written.
func (e *Engine) writeHeaders(w http.ResponseWriter, intent *routing.Intent, decision routing.Decision, a *registry.Agent) {
	h := w.Header()
	h.Set("X-Nexus-Backend", a.Name)
	if a.Kind.IsCloud() {
		h.Set("X-Nexus-Backend-Type", "cloud")
	} else {
		h.Set("X-Nexus-Backend-Type", "local")
	}
	h.Set("X-Nexus-Route-Reason", intent.RouteReason)
	h.Set("X-Nexus-Privacy-Zone", string(a.Zone))
	if a.Kind.IsCloud() {
		h.Set("X-Nexus-Cost-Estimated", strconv.FormatFloat(intent.CostEstimateUSD, 'f', 6, 64))
	}
	if strings.HasPrefix(intent.RouteReason, "fallback:") {
		h.Set("X-Nexus-Fallback-Model", decision.ActualModel)
	}
}

func resolveAPIKey(a *registry.Agent) string {
	if a.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(a.APIKeyEnv)
}

// readAll drains r using a pooled buffer, avoiding a fresh allocation per
// buffered backend response on the hot path.
func readAll(r io.Reader) ([]byte, error) {
	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)

	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
