package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/okian/openpotd/pkg/logger"
)

// RankingDependencies defines the ranking reads.
type RankingDependencies interface {
	Rankings(ctx context.Context, seasonID int64, limit int) ([]Entry, error)
	Score(ctx context.Context, seasonID, userID int64) (Entry, error)
}

// RankingsHandler handles ranking requests.
type RankingsHandler struct {
	deps     RankingDependencies
	maxLimit int
	log      logger.Logger
}

// NewRankingsHandler creates a new rankings handler.
func NewRankingsHandler(deps RankingDependencies, maxLimit int, log logger.Logger) *RankingsHandler {
	return &RankingsHandler{
		deps:     deps,
		maxLimit: maxLimit,
		log:      log,
	}
}

// HandleGetRankings handles GET /rankings?season=S&limit=N. Both are
// optional: the running season and every row up to the cap.
func (h *RankingsHandler) HandleGetRankings(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_rankings"
	seasonID, err := queryID(r, "season")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	limit := h.maxLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
		if n > h.maxLimit {
			writeError(w, http.StatusBadRequest, "limit_exceeded", NewKind(op, ErrBadRequest))
			return
		}
		limit = n
	}

	entries, err := h.deps.Rankings(r.Context(), seasonID, limit)
	if err != nil {
		writeServiceError(r.Context(), w, h.log, op, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleGetScore handles GET /score/{user_id}?season=S.
func (h *RankingsHandler) HandleGetScore(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_score"
	userID, err := pathID(r, "user_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	seasonID, err := queryID(r, "season")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	entry, err := h.deps.Score(r.Context(), seasonID, userID)
	if err != nil {
		writeServiceError(r.Context(), w, h.log, op, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
