package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/nexushq/nexus/api"
	"github.com/nexushq/nexus/internal/budget"
	"github.com/nexushq/nexus/internal/history"
	"github.com/nexushq/nexus/internal/queue"
	"github.com/nexushq/nexus/internal/registry"
)

// StatsHandler serves GET /v1/stats and GET /v1/history: a live snapshot of
// queue/budget state and backend counters, and the recent-request ring
// buffer respectively.
type StatsHandler struct {
	reg    *registry.Registry
	q      *queue.Queue
	usage  *budget.Manager
	hist   *history.Ring
	logger *zap.Logger
}

func NewStatsHandler(reg *registry.Registry, q *queue.Queue, usage *budget.Manager, hist *history.Ring, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{reg: reg, q: q, usage: usage, hist: hist, logger: logger}
}

// HandleStats serves GET /v1/stats.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	var budgetStats api.BudgetWindowStats
	if h.usage != nil {
		minute, hour, day, month := h.usage.WindowUsage()
		budgetStats = api.BudgetWindowStats{MinuteUSD: minute, HourUSD: hour, DayUSD: day, MonthUSD: month}
	}

	agents := h.reg.List()
	backends := make([]api.BackendStats, 0, len(agents))
	for _, a := range agents {
		backends = append(backends, api.BackendStats{
			ID:            a.ID,
			Name:          a.Name,
			Status:        string(a.Status()),
			Pending:       a.Pending(),
			TotalRequests: a.TotalRequests(),
			EMALatencyMs:  a.EMALatencyMs(),
		})
	}

	resp := api.StatsResponse{
		QueueDepth: h.q.Depth(),
		QueueMax:   h.q.MaxSize(),
		Budget:     budgetStats,
		Backends:   backends,
	}
	WriteJSON(w, http.StatusOK, resp)
}

// HandleHistory serves GET /v1/history. An optional ?limit=N query parameter
// bounds the number of entries returned, most recent first.
func (h *StatsHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, ok := parsePositiveInt(raw); ok {
			limit = n
		}
	}

	var entries []api.HistoryEntry
	if h.hist != nil {
		entries = h.hist.Recent(limit)
	}
	WriteJSON(w, http.StatusOK, api.HistoryResponse{Entries: entries})
}
