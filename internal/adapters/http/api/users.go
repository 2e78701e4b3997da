package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/openpotd/internal/domain/types"
	"github.com/okian/openpotd/pkg/logger"
)

// UserDependencies covers the profile operations.
type UserDependencies interface {
	UserInfo(ctx context.Context, userID int64) (types.UserInfo, error)
	SetNickname(ctx context.Context, userID int64, nickname string) error
	ToggleAnonymous(ctx context.Context, userID int64) (bool, error)
}

type nicknameRequest struct {
	Nickname string `json:"nickname"`
}

type anonymousResponse struct {
	UserID    int64 `json:"user_id"`
	Anonymous bool  `json:"anonymous"`
}

// UsersHandler handles user profile requests.
type UsersHandler struct {
	deps UserDependencies
	log  logger.Logger
}

// NewUsersHandler creates a new users handler.
func NewUsersHandler(deps UserDependencies, log logger.Logger) *UsersHandler {
	return &UsersHandler{deps: deps, log: log}
}

// HandleGetUser handles GET /users/{id}.
func (h *UsersHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_user"
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	info, err := h.deps.UserInfo(r.Context(), id)
	if err != nil {
		writeServiceError(r.Context(), w, h.log, op, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HandleSetNickname handles PUT /users/{id}/nickname.
func (h *UsersHandler) HandleSetNickname(w http.ResponseWriter, r *http.Request) {
	const op = "api.set_nickname"
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	var req nicknameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.deps.SetNickname(r.Context(), id, req.Nickname); err != nil {
		writeServiceError(r.Context(), w, h.log, op, err)
		return
	}
	info, err := h.deps.UserInfo(r.Context(), id)
	if err != nil {
		writeServiceError(r.Context(), w, h.log, op, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HandleToggleAnonymous handles POST /users/{id}/anonymous.
func (h *UsersHandler) HandleToggleAnonymous(w http.ResponseWriter, r *http.Request) {
	const op = "api.toggle_anonymous"
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	anon, err := h.deps.ToggleAnonymous(r.Context(), id)
	if err != nil {
		writeServiceError(r.Context(), w, h.log, op, err)
		return
	}
	writeJSON(w, http.StatusOK, anonymousResponse{UserID: id, Anonymous: anon})
}
