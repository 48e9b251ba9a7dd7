// Package api defines the wire types for Nexus's OpenAI-compatible HTTP
// surface: the error envelope, the aggregated model listing, the health and
// stats summaries, and the admin backend-management payloads.
package api

import "time"

// ErrorEnvelope is the OpenAI-compatible error body returned on every
// non-2xx response.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the message, OpenAI-style type, Nexus's semantic code,
// and an optional context map of actionable fields (retry_after,
// available_backends, required_tier, eta_seconds).
type ErrorBody struct {
	Message string         `json:"message"`
	Type    string         `json:"type"`
	Code    string         `json:"code"`
	Context map[string]any `json:"context,omitempty"`
}

// ModelInfo is one entry in the GET /v1/models listing. A model present on
// multiple agents yields one ModelInfo per agent, distinguished by OwnedBy.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the GET /v1/models response envelope.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// HealthSummary is the GET /health response.
type HealthSummary struct {
	Status        string        `json:"status"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Backends      BackendCounts `json:"backends"`
	Models        int           `json:"models"`
}

// BackendCounts breaks the registry down by health status.
type BackendCounts struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
}

// StatsResponse is the GET /v1/stats response: current queue/budget state
// plus a snapshot of per-backend counters.
type StatsResponse struct {
	QueueDepth int               `json:"queue_depth"`
	QueueMax   int               `json:"queue_max"`
	Budget     BudgetWindowStats `json:"budget"`
	Backends   []BackendStats    `json:"backends"`
}

// BudgetWindowStats reports spend across the tracked rolling windows.
type BudgetWindowStats struct {
	MinuteUSD float64 `json:"minute_usd"`
	HourUSD   float64 `json:"hour_usd"`
	DayUSD    float64 `json:"day_usd"`
	MonthUSD  float64 `json:"month_usd"`
}

// BackendStats summarizes one agent's live counters for the stats endpoint.
type BackendStats struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	Pending       uint32 `json:"pending"`
	TotalRequests uint64 `json:"total_requests"`
	EMALatencyMs  uint32 `json:"ema_latency_ms"`
}

// HistoryEntry is one record in the /v1/history ring buffer: a completed or
// rejected request, enough to reconstruct what the gateway decided and why.
type HistoryEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	RequestID   string    `json:"request_id"`
	Model       string    `json:"model"`
	ActualModel string    `json:"actual_model,omitempty"`
	Backend     string    `json:"backend,omitempty"`
	Decision    string    `json:"decision"`
	RouteReason string    `json:"route_reason,omitempty"`
	StatusCode  int       `json:"status_code"`
	DurationMs  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
}

// HistoryResponse is the GET /v1/history response.
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

// AddBackendRequest is the POST /v1/admin/backends body for registering a
// backend outside static config or mDNS discovery.
type AddBackendRequest struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Kind      string `json:"kind"`
	Priority  int    `json:"priority"`
	APIKeyEnv string `json:"api_key_env,omitempty"`
	Zone      string `json:"zone,omitempty"`
	Tier      int    `json:"tier"`
}

// AddBackendResponse confirms registration and reports the assigned id.
type AddBackendResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}
