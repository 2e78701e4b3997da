// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/openpotd/internal/adapters/repository"
	service "github.com/okian/openpotd/internal/app"
	"github.com/okian/openpotd/internal/domain/keylock"
	"github.com/okian/openpotd/internal/domain/model"
	"github.com/okian/openpotd/internal/domain/submission"
	"github.com/okian/openpotd/internal/domain/types"
	"github.com/okian/openpotd/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	SubmissionDependencies
	RankingDependencies
	ProblemDependencies
	RefreshDependencies
	UserDependencies
}

// Entry mirrors the read shape returned by ranking queries.
type Entry = types.Entry

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	submissionsHandler *SubmissionsHandler
	rankingsHandler    *RankingsHandler
	problemsHandler    *ProblemsHandler
	refreshHandler     *RefreshHandler
	usersHandler       *UsersHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	o := options{maxRankingsLimit: defaultMaxRankingsLimit, logger: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		submissionsHandler: NewSubmissionsHandler(deps, o.logger),
		rankingsHandler:    NewRankingsHandler(deps, o.maxRankingsLimit, o.logger),
		problemsHandler:    NewProblemsHandler(deps, o.logger),
		refreshHandler:     NewRefreshHandler(deps, o.logger),
		usersHandler:       NewUsersHandler(deps, o.logger),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	handle := func(pattern, endpoint string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, RequestIDMiddleware(MetricsMiddleware(h, endpoint)))
	}

	handle("GET /healthz", "healthz", s.healthHandler.HandleHealth)
	handle("GET /stats", "stats", s.statsHandler.HandleStats)
	handle("POST /submissions", "submissions", s.submissionsHandler.HandleSubmit)
	handle("POST /check", "check", s.submissionsHandler.HandleCheck)
	handle("GET /rankings", "rankings", s.rankingsHandler.HandleGetRankings)
	handle("GET /score/{user_id}", "score", s.rankingsHandler.HandleGetScore)
	handle("GET /problems/{id}/stats", "problem_stats", s.problemsHandler.HandleGetStats)
	handle("GET /problems/by-date/{date}/stats", "problem_stats_by_date", s.problemsHandler.HandleGetStatsByDate)
	handle("POST /refresh", "refresh", s.refreshHandler.HandleRefresh)
	handle("GET /users/{id}", "users", s.usersHandler.HandleGetUser)
	handle("PUT /users/{id}/nickname", "users_nickname", s.usersHandler.HandleSetNickname)
	handle("POST /users/{id}/anonymous", "users_anonymous", s.usersHandler.HandleToggleAnonymous)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError maps domain errors to HTTP statuses. Only unexpected
// failures are logged, at error level.
func writeServiceError(ctx context.Context, w http.ResponseWriter, log logger.Logger, op string, err error) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, submission.ErrInvalidChannel),
		errors.Is(err, service.ErrInvalidNickname):
		writeError(w, http.StatusBadRequest, "bad_request", Wrap(op, err))
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", Wrap(op, err))
	case errors.Is(err, submission.ErrProblemIsCurrent):
		writeError(w, http.StatusConflict, "problem_is_current", Wrap(op, err))
	case errors.Is(err, submission.ErrRetryable),
		errors.Is(err, keylock.ErrContended):
		writeError(w, http.StatusServiceUnavailable, "retryable", WrapKind(op, ErrUnavailable, err))
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
	default:
		log.Error(ctx, "request failed", logger.String("op", op), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", NewKind(op, ErrInternal))
	}
}

// pathID parses a positive int64 path value.
func pathID(r *http.Request, name string) (int64, error) {
	return parseID(r.PathValue(name))
}

// queryID parses an optional positive int64 query value; absent means 0.
func queryID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return parseID(raw)
}

// parseDate parses a YYYY-MM-DD day as UTC.
func parseDate(raw string) (time.Time, error) {
	d, err := time.Parse(model.DateLayout, raw)
	if err != nil {
		return time.Time{}, errors.New("date must be YYYY-MM-DD")
	}
	return d, nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("id must be a positive integer")
	}
	return id, nil
}
