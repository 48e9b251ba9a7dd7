// Package routing defines the RoutingIntent that flows through the reconciler
// pipeline and the queue/decision types produced at its end.
package routing

import (
	"net/http"
	"time"
)

// BudgetStatus classifies how close the caller is to its spend limit.
type BudgetStatus string

const (
	BudgetOk        BudgetStatus = "ok"
	BudgetSoftLimit BudgetStatus = "soft_limit"
	BudgetHardLimit BudgetStatus = "hard_limit"
)

// Priority is the queue lane a request waits in.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// ParsePriority maps the X-Nexus-Priority header value onto a lane; anything
// unrecognized (including "low", reserved for a future lane) coalesces to Normal.
func ParsePriority(header string) Priority {
	if header == "high" {
		return PriorityHigh
	}
	return PriorityNormal
}

// RejectionReason records why a reconciler excluded a candidate, or rejected
// the whole request outright.
type RejectionReason struct {
	Reconciler      string
	AgentID         string // empty when the reason is request-level, not agent-specific
	Reason          string
	SuggestedAction string
}

// DecisionKind distinguishes the three terminal outcomes of the pipeline.
type DecisionKind int

const (
	DecisionRoute DecisionKind = iota
	DecisionQueue
	DecisionReject
)

// Decision is the pipeline's terminal output.
type Decision struct {
	Kind DecisionKind

	// Route fields.
	AgentID     string
	ActualModel string

	// Queue fields.
	EstimatedWaitMs int64
	QueueReason     string

	// Reject fields (also populated for Queue, for observability).
	Reasons []RejectionReason
}

// Intent is the mutable per-request object carried through the reconciler
// pipeline. Reconcilers may only append to ExcludedAgentIDs and
// RejectionReasons, set their own annotations, and (RequestAnalyzer only)
// set ResolvedModel; they must never revive an excluded agent or drop a
// rejection reason.
type Intent struct {
	// Input identity.
	RequestID      string
	RequestedModel string
	RawPayload     []byte

	// Derived requirements (set by RequestAnalyzer).
	EstimatedPromptTokens uint32
	NeedsVision           bool
	NeedsTools            bool
	NeedsJSONMode         bool
	Stream                bool

	// Resolved state.
	ResolvedModel     string
	CandidateAgentIDs []string
	ExcludedAgentIDs  map[string]struct{}

	// Policy annotations.
	PrivacyZoneRequired string
	MinTier             int
	CostEstimateUSD     float64
	BudgetStatus        BudgetStatus

	// Strict/flexible tier mode; Strict dominates when both headers are present.
	Strict bool

	RejectionReasons []RejectionReason

	RouteReason string
	Decision    Decision

	CreatedAt time.Time
}

// NewIntent starts a fresh intent for one incoming request.
func NewIntent(requestID, requestedModel string, payload []byte) *Intent {
	return &Intent{
		RequestID:        requestID,
		RequestedModel:   requestedModel,
		RawPayload:       payload,
		ExcludedAgentIDs: make(map[string]struct{}),
		CreatedAt:        time.Now(),
	}
}

// Exclude removes an agent from future consideration and records why.
// This is the only way a reconciler may act on CandidateAgentIDs: it adds to
// ExcludedAgentIDs, never deletes from it, and never revives an excluded agent.
func (in *Intent) Exclude(agentID, reconciler, reason, suggestedAction string) {
	in.ExcludedAgentIDs[agentID] = struct{}{}
	in.RejectionReasons = append(in.RejectionReasons, RejectionReason{
		Reconciler:      reconciler,
		AgentID:         agentID,
		Reason:          reason,
		SuggestedAction: suggestedAction,
	})
}

// RejectRequest records a request-level (non-agent-specific) rejection reason.
func (in *Intent) RejectRequest(reconciler, reason, suggestedAction string) {
	in.RejectionReasons = append(in.RejectionReasons, RejectionReason{
		Reconciler:      reconciler,
		Reason:          reason,
		SuggestedAction: suggestedAction,
	})
}

// IsExcluded reports whether agentID has already been excluded.
func (in *Intent) IsExcluded(agentID string) bool {
	_, ok := in.ExcludedAgentIDs[agentID]
	return ok
}

// RemainingCandidates returns CandidateAgentIDs minus ExcludedAgentIDs,
// preserving order.
func (in *Intent) RemainingCandidates() []string {
	out := make([]string, 0, len(in.CandidateAgentIDs))
	for _, id := range in.CandidateAgentIDs {
		if !in.IsExcluded(id) {
			out = append(out, id)
		}
	}
	return out
}

// QueuedRequest is a request parked on the Queue awaiting capacity. Writer
// is the original request's http.ResponseWriter: the drain loop's
// Dispatcher writes the eventual backend response directly to it from its
// own goroutine, then signals completion on Respond so the handler
// goroutine that is blocked reading it can return.
type QueuedRequest struct {
	Intent     *Intent
	Payload    []byte
	Writer     http.ResponseWriter
	Respond    chan QueuedResponse // single-shot delivery channel
	EnqueuedAt time.Time
	Priority   Priority
}

// QueuedResponse is delivered exactly once on a QueuedRequest's Respond channel.
type QueuedResponse struct {
	Decision Decision
	Err      error
}

// BackendResponse is either a buffered JSON body or a streamed SSE body. Only
// one of Body / Stream is populated.
type BackendResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte

	Stream <-chan []byte // raw SSE chunk bytes, terminated by the sender closing the channel

	PromptTokens     int
	CompletionTokens int
}
