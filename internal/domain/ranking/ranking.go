// Package ranking orders a season's registered users by total score.
package ranking

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/okian/openpotd/internal/domain/keylock"
	"github.com/okian/openpotd/internal/domain/model"
	"github.com/okian/openpotd/internal/domain/scoring"
	"github.com/okian/openpotd/pkg/logger"
	"github.com/okian/openpotd/pkg/metrics"
)

// Store is the persistence the engine needs.
type Store interface {
	ListSeasonProblems(ctx context.Context, seasonID int64) ([]model.Problem, error)
	ListOfficialSolves(ctx context.Context, problemID int64) ([]model.Solve, error)
	ListRegisteredUsers(ctx context.Context, seasonID int64) ([]int64, error)
	SetRankings(ctx context.Context, seasonID int64, rankings []model.Ranking) error
}

// Engine rewrites a season's ranking table from persisted base points.
type Engine struct {
	store  Store
	locker *keylock.Locker
	log    logger.Logger
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithLocker shares a key locker with other components.
func WithLocker(l *keylock.Locker) Option {
	return func(e *Engine) {
		if l != nil {
			e.locker = l
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine creates a ranking engine over store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		locker: keylock.New(),
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RecomputeSeason scores every registered user of the season, orders them and
// overwrites the ranking table. Runs for one season never overlap.
func (e *Engine) RecomputeSeason(ctx context.Context, seasonID int64) ([]model.Ranking, error) {
	start := time.Now()
	var out []model.Ranking
	err := e.locker.Do(ctx, keylock.SeasonKey(seasonID), func() error {
		var err error
		out, err = e.recompute(ctx, seasonID)
		return err
	})
	if err != nil {
		metrics.RecordRankingError()
		return nil, err
	}
	metrics.RecordRankingUpdate()
	metrics.UpdateRankedUsers(len(out))
	metrics.RecordRankingLatency(float64(time.Since(start).Milliseconds()))
	return out, nil
}

func (e *Engine) recompute(ctx context.Context, seasonID int64) ([]model.Ranking, error) {
	users, err := e.store.ListRegisteredUsers(ctx, seasonID)
	if err != nil {
		return nil, fmt.Errorf("list registered users of season %d: %w", seasonID, err)
	}
	problems, err := e.store.ListSeasonProblems(ctx, seasonID)
	if err != nil {
		return nil, fmt.Errorf("list problems of season %d: %w", seasonID, err)
	}

	scores := make(map[int64]float64, len(users))
	for _, u := range users {
		scores[u] = 0
	}
	for _, p := range problems {
		solves, err := e.store.ListOfficialSolves(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("list solves of problem %d: %w", p.ID, err)
		}
		for _, s := range solves {
			if _, ok := scores[s.UserID]; !ok {
				continue
			}
			scores[s.UserID] += p.BasePoints * scoring.Weight(s.Attempts)
		}
	}

	rankings := Order(seasonID, scores)
	if err := e.store.SetRankings(ctx, seasonID, rankings); err != nil {
		return nil, fmt.Errorf("write rankings of season %d: %w", seasonID, err)
	}
	e.log.Debug(ctx, "season ranked",
		logger.Int64("season_id", seasonID),
		logger.Int("users", len(rankings)))
	return rankings, nil
}

// Order sorts scores descending with ties broken by ascending user id and
// assigns ranks 1..N.
func Order(seasonID int64, scores map[int64]float64) []model.Ranking {
	out := make([]model.Ranking, 0, len(scores))
	for u, s := range scores {
		out = append(out, model.Ranking{SeasonID: seasonID, UserID: u, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].UserID < out[j].UserID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
