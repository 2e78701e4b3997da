// Package repository defines the persistence contract of the scoring core
// and an in-memory implementation of it.
package repository

import (
	"context"
	"time"

	"github.com/okian/openpotd/internal/domain/model"
)

// Ledger is the attempt/solve history. Implementations passed to InTx
// callbacks see the writes made earlier in the same transaction.
type Ledger interface {
	// HasSolve reports whether the user holds a solve for the problem on any channel.
	HasSolve(ctx context.Context, userID, problemID int64) (bool, error)
	// CountAttempts counts the user's attempts for the problem on one channel.
	CountAttempts(ctx context.Context, userID, problemID int64, official bool) (int, error)
	// InsertAttempt appends an attempt.
	InsertAttempt(ctx context.Context, a model.Attempt) error
	// InsertSolve records a solve. Returns ErrAlreadySolved if one exists.
	InsertSolve(ctx context.Context, s model.Solve) error
}

// Store is the persistence handle shared by all core components.
type Store interface {
	Ledger

	// InTx runs fn in a single atomic unit; fn's writes are discarded when it
	// returns an error.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Ledger) error) error

	// RunningSeason returns the running season, or ErrNotFound.
	RunningSeason(ctx context.Context) (model.Season, error)
	// GetSeason returns a season by id, or ErrNotFound.
	GetSeason(ctx context.Context, seasonID int64) (model.Season, error)
	// CurrentProblem returns the season's active problem id, or ErrNotFound.
	CurrentProblem(ctx context.Context, seasonID int64) (int64, error)
	// GetProblem returns a problem by id, or ErrNotFound.
	GetProblem(ctx context.Context, problemID int64) (model.Problem, error)
	// PublicProblemByDate returns the public problem dated on the UTC day of
	// date, lowest id first, or ErrNotFound.
	PublicProblemByDate(ctx context.Context, date time.Time) (model.Problem, error)
	// ListSeasonProblems returns the season's problems ordered by id.
	ListSeasonProblems(ctx context.Context, seasonID int64) ([]model.Problem, error)
	// SetProblemDerivedFields persists the scoring engine's outputs.
	SetProblemDerivedFields(ctx context.Context, problemID int64, weightedSolves, basePoints float64) error

	// ListOfficialSolves returns the problem's official solves ordered by user id.
	ListOfficialSolves(ctx context.Context, problemID int64) ([]model.Solve, error)
	// CountSolves counts the problem's solves on one channel.
	CountSolves(ctx context.Context, problemID int64, official bool) (int, error)

	// RegisterUser adds the user to the season ranking table if absent.
	RegisterUser(ctx context.Context, seasonID, userID int64) error
	// ListRegisteredUsers returns the season's registered user ids in ascending order.
	ListRegisteredUsers(ctx context.Context, seasonID int64) ([]int64, error)
	// SetRankings overwrites every ranking row of the season.
	SetRankings(ctx context.Context, seasonID int64, rankings []model.Ranking) error
	// ListRankings returns the season's rows ordered by rank, then user id.
	// Unranked rows (rank 0) come last.
	ListRankings(ctx context.Context, seasonID int64) ([]model.Ranking, error)
	// GetRanking returns one user's row, or ErrNotFound.
	GetRanking(ctx context.Context, seasonID, userID int64) (model.Ranking, error)

	// EnsureUser inserts the user if absent and leaves an existing one untouched.
	EnsureUser(ctx context.Context, u model.User) error
	// GetUser returns a user, or ErrNotFound.
	GetUser(ctx context.Context, userID int64) (model.User, error)
	// SetNickname updates a user's nickname, or returns ErrNotFound.
	SetNickname(ctx context.Context, userID int64, nickname string) error
	// ToggleAnonymous flips the anonymity flag and returns the new value.
	ToggleAnonymous(ctx context.Context, userID int64) (bool, error)

	// Close releases resources held by the store.
	Close() error
}

// Provisioner creates seasons and problems. Authoring workflows live outside
// the core; this is used for seed data and tests.
type Provisioner interface {
	UpsertSeason(ctx context.Context, s model.Season) error
	UpsertProblem(ctx context.Context, p model.Problem) error
}
