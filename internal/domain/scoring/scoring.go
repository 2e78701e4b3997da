// Package scoring derives per-problem point values from official solves.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/okian/openpotd/internal/domain/keylock"
	"github.com/okian/openpotd/internal/domain/model"
	"github.com/okian/openpotd/pkg/logger"
	"github.com/okian/openpotd/pkg/metrics"
)

const (
	// DefaultPointPool is the pool split among a problem's solvers.
	DefaultPointPool = 100.0
	decay            = 0.9
)

// Weight is the efficiency factor of a solve after attempts tries:
// 0.9^(attempts-1). Attempts below 1 count as 1.
func Weight(attempts int) float64 {
	if attempts < 1 {
		attempts = 1
	}
	return math.Pow(decay, float64(attempts-1))
}

// Store is the persistence the engine needs.
type Store interface {
	GetProblem(ctx context.Context, problemID int64) (model.Problem, error)
	ListSeasonProblems(ctx context.Context, seasonID int64) ([]model.Problem, error)
	ListOfficialSolves(ctx context.Context, problemID int64) ([]model.Solve, error)
	SetProblemDerivedFields(ctx context.Context, problemID int64, weightedSolves, basePoints float64) error
}

// Stats are the derived fields written for one problem.
type Stats struct {
	ProblemID      int64
	SeasonID       int64
	Solves         int
	WeightedSolves float64
	BasePoints     float64
}

// Engine recomputes weightedSolves and basePoints. Work on one problem is
// serialized through the key locker.
type Engine struct {
	store  Store
	pool   float64
	locker *keylock.Locker
	log    logger.Logger
}

// NewEngine creates a scoring engine over store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		pool:   DefaultPointPool,
		locker: keylock.New(),
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PointPool returns the configured global pool.
func (e *Engine) PointPool() float64 { return e.pool }

// RecomputeProblem derives and persists the problem's fields. A problem
// without official solves yields ErrNotComputable and keeps its stored values.
func (e *Engine) RecomputeProblem(ctx context.Context, problemID int64) (Stats, error) {
	start := time.Now()
	var st Stats
	err := e.locker.Do(ctx, keylock.ProblemKey(problemID), func() error {
		var err error
		st, err = e.recompute(ctx, problemID)
		return err
	})
	switch {
	case errors.Is(err, ErrNotComputable):
		metrics.RecordScoringSkipped()
	case err != nil:
		metrics.RecordScoringError()
		if errors.Is(err, keylock.ErrContended) {
			metrics.RecordLockContended()
		}
	default:
		metrics.RecordScoringLatency(float64(time.Since(start).Milliseconds()))
	}
	return st, err
}

func (e *Engine) recompute(ctx context.Context, problemID int64) (Stats, error) {
	problem, err := e.store.GetProblem(ctx, problemID)
	if err != nil {
		return Stats{}, fmt.Errorf("get problem %d: %w", problemID, err)
	}
	solves, err := e.store.ListOfficialSolves(ctx, problemID)
	if err != nil {
		return Stats{}, fmt.Errorf("list solves of %d: %w", problemID, err)
	}
	sort.Slice(solves, func(i, j int) bool { return solves[i].UserID < solves[j].UserID })

	weighted := 0.0
	for _, s := range solves {
		weighted += Weight(s.Attempts)
	}
	if weighted == 0 {
		return Stats{}, fmt.Errorf("%w: problem %d", ErrNotComputable, problemID)
	}

	pool := e.pool
	if problem.PointPool > 0 {
		pool = problem.PointPool
	}
	st := Stats{
		ProblemID:      problemID,
		SeasonID:       problem.SeasonID,
		Solves:         len(solves),
		WeightedSolves: weighted,
		BasePoints:     pool / weighted,
	}
	if err := e.store.SetProblemDerivedFields(ctx, problemID, st.WeightedSolves, st.BasePoints); err != nil {
		return Stats{}, fmt.Errorf("persist problem %d: %w", problemID, err)
	}
	e.log.Debug(ctx, "problem scored",
		logger.Int64("problem_id", problemID),
		logger.Int("solves", st.Solves),
		logger.Float64("weighted_solves", st.WeightedSolves),
		logger.Float64("base_points", st.BasePoints))
	return st, nil
}

// RecomputeAllProblems recomputes every problem of the season. Problems
// without official solves are skipped; any other failure stops the pass and
// is returned with the stats computed so far.
func (e *Engine) RecomputeAllProblems(ctx context.Context, seasonID int64) ([]Stats, error) {
	problems, err := e.store.ListSeasonProblems(ctx, seasonID)
	if err != nil {
		return nil, fmt.Errorf("list problems of season %d: %w", seasonID, err)
	}

	out := make([]Stats, 0, len(problems))
	skipped := 0
	for _, p := range problems {
		st, err := e.RecomputeProblem(ctx, p.ID)
		if errors.Is(err, ErrNotComputable) {
			skipped++
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, st)
	}
	if skipped > 0 {
		e.log.Warn(ctx, "problems without official solves skipped",
			logger.Int64("season_id", seasonID),
			logger.Int("skipped", skipped))
	}
	return out, nil
}
