package api

import (
	"context"
	"net/http"
	"time"

	"github.com/okian/openpotd/internal/domain/types"
	"github.com/okian/openpotd/pkg/logger"
)

// ProblemDependencies reads public problem figures.
type ProblemDependencies interface {
	ProblemStats(ctx context.Context, problemID int64) (types.ProblemStats, error)
	ProblemStatsByDate(ctx context.Context, date time.Time) (types.ProblemStats, error)
}

// ProblemsHandler handles problem requests.
type ProblemsHandler struct {
	deps ProblemDependencies
	log  logger.Logger
}

// NewProblemsHandler creates a new problems handler.
func NewProblemsHandler(deps ProblemDependencies, log logger.Logger) *ProblemsHandler {
	return &ProblemsHandler{deps: deps, log: log}
}

// HandleGetStats handles GET /problems/{id}/stats.
func (h *ProblemsHandler) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_problem_stats"
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	st, err := h.deps.ProblemStats(r.Context(), id)
	if err != nil {
		writeServiceError(r.Context(), w, h.log, op, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleGetStatsByDate handles GET /problems/by-date/{date}/stats.
func (h *ProblemsHandler) HandleGetStatsByDate(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_problem_stats_by_date"
	date, err := parseDate(r.PathValue("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	st, err := h.deps.ProblemStatsByDate(r.Context(), date)
	if err != nil {
		writeServiceError(r.Context(), w, h.log, op, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
