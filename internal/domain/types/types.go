// Package types contains read shapes shared by the service and the HTTP layer.
package types

import "github.com/okian/openpotd/internal/domain/model"

// Entry represents a leaderboard entry.
type Entry struct {
	Rank     int     `json:"rank"`
	UserID   int64   `json:"user_id"`
	Nickname string  `json:"nickname,omitempty"`
	Score    float64 `json:"score"`
}

// SubmissionReply is returned to the submitter after an answer is checked.
type SubmissionReply struct {
	Outcome            string `json:"outcome"`
	Correct            bool   `json:"correct"`
	AlreadySolved      bool   `json:"already_solved"`
	OfficialAttempts   int    `json:"official_attempts"`
	UnofficialAttempts int    `json:"unofficial_attempts"`
	ProblemID          int64  `json:"problem_id"`
	SeasonID           int64  `json:"season_id"`
	Duplicate          bool   `json:"duplicate,omitempty"`
}

// ProblemStats is the public view of a problem's scoring state.
type ProblemStats struct {
	ProblemID        int64   `json:"problem_id"`
	SeasonID         int64   `json:"season_id"`
	Difficulty       int     `json:"difficulty"`
	WeightedSolves   float64 `json:"weighted_solves"`
	BasePoints       float64 `json:"base_points"`
	OfficialSolves   int     `json:"official_solves"`
	UnofficialSolves int     `json:"unofficial_solves"`
}

// NewProblemStats converts the domain figures.
func NewProblemStats(s model.ProblemStats) ProblemStats {
	return ProblemStats{
		ProblemID:        s.ProblemID,
		SeasonID:         s.SeasonID,
		Difficulty:       s.Difficulty,
		WeightedSolves:   s.WeightedSolves,
		BasePoints:       s.BasePoints,
		OfficialSolves:   s.OfficialSolves,
		UnofficialSolves: s.UnofficialSolves,
	}
}

// UserInfo is the public view of a user profile.
type UserInfo struct {
	UserID    int64  `json:"user_id"`
	Nickname  string `json:"nickname"`
	Anonymous bool   `json:"anonymous"`
}
