package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexushq/nexus/api"
	"github.com/nexushq/nexus/internal/events"
	"github.com/nexushq/nexus/internal/history"
	"github.com/nexushq/nexus/internal/metrics"
	"github.com/nexushq/nexus/internal/nexuserrors"
	"github.com/nexushq/nexus/internal/proxy"
	"github.com/nexushq/nexus/internal/queue"
	"github.com/nexushq/nexus/internal/reconciler"
	"github.com/nexushq/nexus/internal/routing"
)

// ChatHandler serves POST /v1/chat/completions: it runs the incoming
// request through the reconciler pipeline, then either proxies it
// immediately, parks it on the queue, or rejects it, per the pipeline's
// terminal Decision.
type ChatHandler struct {
	pipeline *reconciler.Pipeline
	engine   *proxy.Engine
	q        *queue.Queue
	drain    *queue.DrainLoop
	hist     *history.Ring
	bus      *events.Bus
	metrics  *metrics.Collector
	logger   *zap.Logger
}

func NewChatHandler(pipeline *reconciler.Pipeline, engine *proxy.Engine, q *queue.Queue, drain *queue.DrainLoop, hist *history.Ring, bus *events.Bus, collector *metrics.Collector, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		pipeline: pipeline,
		engine:   engine,
		q:        q,
		drain:    drain,
		hist:     hist,
		bus:      bus,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "chat_handler")),
	}
}

// HandleCompletion serves POST /v1/chat/completions.
func (h *ChatHandler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var raw map[string]any
	if err := DecodeJSONBody(w, r, &raw, h.logger); err != nil {
		return
	}
	model, _ := raw["model"].(string)
	if model == "" {
		WriteError(w, nexuserrors.New(nexuserrors.ErrInvalidRequest, "model is required").WithHTTPStatus(http.StatusBadRequest), h.logger)
		return
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		WriteError(w, nexuserrors.New(nexuserrors.ErrInvalidRequest, "invalid request body").WithCause(err).WithHTTPStatus(http.StatusBadRequest), h.logger)
		return
	}

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", requestID)

	intent := routing.NewIntent(requestID, model, payload)
	intent.Strict = r.Header.Get("X-Nexus-Strict") == "true"
	if minTier, ok := parsePositiveInt(r.Header.Get("X-Nexus-Min-Tier")); ok {
		intent.MinTier = minTier
	}
	priority := routing.ParsePriority(r.Header.Get("X-Nexus-Priority"))

	decision := h.pipeline.Run(r.Context(), intent)
	if h.metrics != nil {
		h.metrics.ObservePipelineDuration(time.Since(start))
	}

	switch decision.Kind {
	case routing.DecisionRoute:
		h.route(w, r, intent, start)
	case routing.DecisionQueue:
		h.enqueue(w, r, intent, priority, start)
	default:
		h.reject(w, intent, decision, start)
	}
}

func (h *ChatHandler) route(w http.ResponseWriter, r *http.Request, intent *routing.Intent, start time.Time) {
	err := h.engine.Serve(r.Context(), w, intent)
	h.finish(intent, intent.Decision, err, start)
	if err != nil {
		gwErr, ok := err.(*nexuserrors.Error)
		if !ok {
			gwErr = nexuserrors.New(nexuserrors.ErrInternal, "unexpected error").WithCause(err)
		}
		WriteError(w, gwErr, h.logger)
	}
}

func (h *ChatHandler) enqueue(w http.ResponseWriter, r *http.Request, intent *routing.Intent, priority routing.Priority, start time.Time) {
	req := &routing.QueuedRequest{
		Intent:     intent,
		Payload:    intent.RawPayload,
		Writer:     w,
		Respond:    make(chan routing.QueuedResponse, 1),
		EnqueuedAt: time.Now(),
		Priority:   priority,
	}

	if err := h.q.Enqueue(req); err != nil {
		h.finish(intent, intent.Decision, err, start)
		WriteError(w, nexuserrors.New(nexuserrors.ErrQueueFull, "queue is full").WithHTTPStatus(http.StatusServiceUnavailable).WithContext("retry_after", 5), h.logger)
		return
	}
	if h.metrics != nil {
		h.metrics.SetQueueDepth(h.q.Depth())
	}
	h.drain.Wake()

	select {
	case resp := <-req.Respond:
		h.finish(intent, resp.Decision, resp.Err, start)
		if resp.Err != nil {
			gwErr, ok := resp.Err.(*nexuserrors.Error)
			if !ok {
				gwErr = nexuserrors.New(nexuserrors.ErrInternal, "unexpected error").WithCause(resp.Err)
			}
			WriteError(w, gwErr, h.logger)
		}
	case <-r.Context().Done():
		h.finish(intent, routing.Decision{Kind: routing.DecisionReject}, r.Context().Err(), start)
	}
}

func (h *ChatHandler) reject(w http.ResponseWriter, intent *routing.Intent, decision routing.Decision, start time.Time) {
	gwErr := mapRejection(decision)
	if len(decision.Reasons) > 0 {
		w.Header().Set("X-Nexus-Rejection-Reasons", decision.Reasons[len(decision.Reasons)-1].Reason)
	}
	h.finish(intent, decision, gwErr, start)
	WriteError(w, gwErr, h.logger)
}

// finish records a completed (routed, queued-then-dispatched, or rejected)
// request to the history ring and event bus, and updates request metrics.
func (h *ChatHandler) finish(intent *routing.Intent, decision routing.Decision, err error, start time.Time) {
	elapsed := time.Since(start)
	status := "success"
	statusCode := http.StatusOK
	var errMsg string
	if err != nil {
		status = "error"
		errMsg = err.Error()
		if gwErr, ok := err.(*nexuserrors.Error); ok && gwErr.HTTPStatus != 0 {
			statusCode = gwErr.HTTPStatus
		} else {
			statusCode = http.StatusInternalServerError
		}
	}

	backend := ""
	if decision.Kind == routing.DecisionRoute {
		backend = decision.AgentID
	}

	if h.hist != nil {
		h.hist.Record(api.HistoryEntry{
			Timestamp:   start,
			RequestID:   intent.RequestID,
			Model:       intent.RequestedModel,
			ActualModel: decision.ActualModel,
			Backend:     backend,
			Decision:    decisionLabel(decision.Kind),
			RouteReason: intent.RouteReason,
			StatusCode:  statusCode,
			DurationMs:  elapsed.Milliseconds(),
			Error:       errMsg,
		})
	}
	if h.bus != nil {
		h.bus.Publish(events.Event{
			Kind:       events.KindRequestComplete,
			RequestID:  intent.RequestID,
			Model:      intent.RequestedModel,
			Backend:    backend,
			DurationMs: elapsed.Milliseconds(),
			Status:     status,
		})
	}
	if h.metrics != nil {
		h.metrics.ObserveRequest(backend, intent.RequestedModel, status, elapsed)
	}
}

func decisionLabel(kind routing.DecisionKind) string {
	switch kind {
	case routing.DecisionRoute:
		return "route"
	case routing.DecisionQueue:
		return "queue"
	default:
		return "reject"
	}
}

// mapRejection translates a Reject decision's most specific rejection
// reason into the gateway's HTTP status mapping.
func mapRejection(decision routing.Decision) *nexuserrors.Error {
	reason := ""
	if len(decision.Reasons) > 0 {
		reason = decision.Reasons[len(decision.Reasons)-1].Reason
	}

	switch reason {
	case "model_not_found":
		return nexuserrors.New(nexuserrors.ErrModelNotFound, "requested model is not registered with any backend").WithHTTPStatus(http.StatusNotFound)
	case "capability_mismatch":
		return nexuserrors.New(nexuserrors.ErrCapabilityMismatch, "no candidate backend supports the request's required capabilities").WithHTTPStatus(http.StatusBadRequest)
	case "privacy_violation_on_failover":
		return nexuserrors.New(nexuserrors.ErrPrivacyViolation, "no restricted-zone backend is currently healthy").WithHTTPStatus(http.StatusServiceUnavailable)
	case "budget_hard_limit":
		return nexuserrors.New(nexuserrors.ErrBudgetHardLimit, "budget hard limit reached").WithHTTPStatus(http.StatusServiceUnavailable)
	case "tier_unmet", "strict_model_mismatch":
		return nexuserrors.New(nexuserrors.ErrTierUnmet, "no candidate backend meets the required tier").WithHTTPStatus(http.StatusServiceUnavailable)
	default:
		return nexuserrors.New(nexuserrors.ErrNoHealthyBackend, "no healthy backend available").WithHTTPStatus(http.StatusServiceUnavailable)
	}
}

func parsePositiveInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
