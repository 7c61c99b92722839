package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// BreakerControl is the breaker surface the operator API needs: reading the
// current state and lifting a halt.
type BreakerControl interface {
	State() domain.CircuitBreakerState
	Resume()
}

// StatusHandler serves operator visibility and control endpoints: breaker
// state, the recent ledger, and recent evaluator decisions.
type StatusHandler struct {
	breaker     BreakerControl
	records     domain.PerformanceStore
	assessments domain.AssessmentStore
	logger      *slog.Logger
}

func NewStatusHandler(breaker BreakerControl, records domain.PerformanceStore, assessments domain.AssessmentStore, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		breaker:     breaker,
		records:     records,
		assessments: assessments,
		logger:      logger.With(slog.String("handler", "status")),
	}
}

// GetBreaker returns the current circuit breaker snapshot.
// GET /api/breaker
func (h *StatusHandler) GetBreaker(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.breaker.State())
}

// ResumeBreaker lifts a halt manually.
// POST /api/breaker/resume
func (h *StatusHandler) ResumeBreaker(w http.ResponseWriter, r *http.Request) {
	state := h.breaker.State()
	if !state.Halted {
		writeError(w, http.StatusConflict, "breaker is not halted")
		return
	}

	h.breaker.Resume()
	h.logger.Info("breaker resumed by operator",
		slog.String("previous_reason", state.Reason),
		slog.String("remote_addr", r.RemoteAddr),
	)
	writeJSON(w, http.StatusOK, h.breaker.State())
}

// ListRecords returns the most recent performance records.
// GET /api/records?limit=N
func (h *StatusHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.records.ListRecent(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.Error("list records failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

// ListAssessments returns the most recent evaluator decisions.
// GET /api/assessments?limit=N
func (h *StatusHandler) ListAssessments(w http.ResponseWriter, r *http.Request) {
	assessments, err := h.assessments.ListRecent(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.Error("list assessments failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list assessments")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assessments": assessments})
}
