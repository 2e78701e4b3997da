package api

import (
	"context"
	"net/http"

	"github.com/okian/openpotd/pkg/logger"
)

// RefreshDependencies recomputes a season on demand.
type RefreshDependencies interface {
	RefreshAll(ctx context.Context, seasonID int64) error
}

type refreshResponse struct {
	Status   string `json:"status"`
	SeasonID int64  `json:"season_id,omitempty"`
}

// RefreshHandler handles manual recompute requests.
type RefreshHandler struct {
	deps RefreshDependencies
	log  logger.Logger
}

// NewRefreshHandler creates a new refresh handler.
func NewRefreshHandler(deps RefreshDependencies, log logger.Logger) *RefreshHandler {
	return &RefreshHandler{deps: deps, log: log}
}

// HandleRefresh handles POST /refresh?season=S and returns once every
// problem of the season was rescored and the season reranked.
func (h *RefreshHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	const op = "api.refresh"
	seasonID, err := queryID(r, "season")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.deps.RefreshAll(r.Context(), seasonID); err != nil {
		writeServiceError(r.Context(), w, h.log, op, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Status: "refreshed", SeasonID: seasonID})
}
