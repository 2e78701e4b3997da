package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/okian/openpotd/internal/domain/model"
	"github.com/okian/openpotd/internal/domain/submission"
	"github.com/okian/openpotd/internal/domain/types"
	"github.com/okian/openpotd/pkg/logger"
)

// SubmissionDependencies processes answers. A repeated non-empty messageID
// is acknowledged as a duplicate.
type SubmissionDependencies interface {
	Submit(ctx context.Context, messageID string, req submission.Request) (types.SubmissionReply, error)
}

// submissionRequest mirrors the OpenAPI schema for POST /submissions.
type submissionRequest struct {
	MessageID string `json:"message_id"`
	UserID    int64  `json:"user_id"`
	Nickname  string `json:"nickname"`
	SeasonID  int64  `json:"season_id"`
	Answer    string `json:"answer"`
}

func (s submissionRequest) validate() error {
	if s.UserID <= 0 {
		return errors.New("missing user_id")
	}
	if s.SeasonID < 0 {
		return errors.New("season_id must not be negative")
	}
	return nil
}

// checkRequest mirrors the OpenAPI schema for POST /check.
type checkRequest struct {
	MessageID string `json:"message_id"`
	UserID    int64  `json:"user_id"`
	Nickname  string `json:"nickname"`
	ProblemID int64  `json:"problem_id"`
	Date      string `json:"date"`
	Answer    string `json:"answer"`
}

// validate checks the request and returns the parsed date, if one was given.
func (c checkRequest) validate() (time.Time, error) {
	switch {
	case c.UserID <= 0:
		return time.Time{}, errors.New("missing user_id")
	case c.ProblemID < 0:
		return time.Time{}, errors.New("problem_id must be positive")
	case c.ProblemID > 0 && c.Date != "":
		return time.Time{}, errors.New("problem_id and date are exclusive")
	case c.ProblemID > 0:
		return time.Time{}, nil
	case c.Date == "":
		return time.Time{}, errors.New("missing problem_id or date")
	}
	return parseDate(c.Date)
}

// SubmissionsHandler handles official submissions and unofficial checks.
type SubmissionsHandler struct {
	deps SubmissionDependencies
	log  logger.Logger
}

// NewSubmissionsHandler creates a new submissions handler.
func NewSubmissionsHandler(deps SubmissionDependencies, log logger.Logger) *SubmissionsHandler {
	return &SubmissionsHandler{deps: deps, log: log}
}

// HandleSubmit handles POST /submissions.
func (h *SubmissionsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit"
	var req submissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	reply, err := h.deps.Submit(r.Context(), strings.TrimSpace(req.MessageID), submission.Request{
		UserID:   req.UserID,
		Nickname: req.Nickname,
		Channel:  model.ChannelOfficial,
		SeasonID: req.SeasonID,
		Raw:      req.Answer,
	})
	if err != nil {
		writeServiceError(r.Context(), w, h.log, op, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// HandleCheck handles POST /check.
func (h *SubmissionsHandler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	const op = "api.check"
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	date, err := req.validate()
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	reply, err := h.deps.Submit(r.Context(), strings.TrimSpace(req.MessageID), submission.Request{
		UserID:    req.UserID,
		Nickname:  req.Nickname,
		Channel:   model.ChannelUnofficial,
		ProblemID: req.ProblemID,
		Date:      date,
		Raw:       req.Answer,
	})
	if err != nil {
		writeServiceError(r.Context(), w, h.log, op, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}
