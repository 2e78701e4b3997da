// Package recompute runs scoring then ranking for a season and tells
// notifiers about the result.
package recompute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/openpotd/internal/domain/keylock"
	"github.com/okian/openpotd/internal/domain/model"
	"github.com/okian/openpotd/internal/domain/scoring"
	"github.com/okian/openpotd/pkg/logger"
	"github.com/okian/openpotd/pkg/metrics"
)

// Event describes a finished refresh.
type Event struct {
	SeasonID int64
	// ProblemID is 0 when every problem of the season was recomputed.
	ProblemID int64
	Rankings  []model.Ranking
	Problems  []model.ProblemStats
	At        time.Time
}

// Notifier receives refreshed events.
type Notifier interface {
	Refreshed(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

// Refreshed calls f.
func (f NotifierFunc) Refreshed(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Scorer recomputes per-problem derived fields.
type Scorer interface {
	RecomputeProblem(ctx context.Context, problemID int64) (scoring.Stats, error)
	RecomputeAllProblems(ctx context.Context, seasonID int64) ([]scoring.Stats, error)
}

// Ranker rewrites a season ranking table.
type Ranker interface {
	RecomputeSeason(ctx context.Context, seasonID int64) ([]model.Ranking, error)
}

// StatsSource supplies problem figures for events.
type StatsSource interface {
	GetProblem(ctx context.Context, problemID int64) (model.Problem, error)
	ListSeasonProblems(ctx context.Context, seasonID int64) ([]model.Problem, error)
	CountSolves(ctx context.Context, problemID int64, official bool) (int, error)
}

// Coordinator sequences scoring and ranking for one season.
type Coordinator struct {
	scorer    Scorer
	ranker    Ranker
	stats     StatsSource
	notifiers []Notifier
	locker    *keylock.Locker
	log       logger.Logger
	now       func() time.Time
}

// Option applies a configuration option to the Coordinator.
type Option func(*Coordinator)

// WithNotifiers appends notifiers.
func WithNotifiers(n ...Notifier) Option {
	return func(c *Coordinator) {
		for _, x := range n {
			if x != nil {
				c.notifiers = append(c.notifiers, x)
			}
		}
	}
}

// WithLocker shares a locker with the other engines.
func WithLocker(l *keylock.Locker) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.locker = l
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// NewCoordinator wires a coordinator.
func NewCoordinator(scorer Scorer, ranker Ranker, stats StatsSource, opts ...Option) *Coordinator {
	c := &Coordinator{
		scorer: scorer,
		ranker: ranker,
		stats:  stats,
		locker: keylock.New(),
		log:    logger.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh rescores problemID (every season problem when 0), then reranks the
// season. Scoring failures are logged and ranking still runs; a ranking
// failure is returned. Ranking and notification of one season run under a
// single lock, so notifiers see refreshes in the order they were written.
func (c *Coordinator) Refresh(ctx context.Context, seasonID, problemID int64) (Event, error) {
	start := time.Now()

	var err error
	if problemID == 0 {
		_, err = c.scorer.RecomputeAllProblems(ctx, seasonID)
	} else {
		_, err = c.scorer.RecomputeProblem(ctx, problemID)
	}
	switch {
	case errors.Is(err, scoring.ErrNotComputable):
		c.log.Warn(ctx, "problem not computable",
			logger.Int64("season_id", seasonID),
			logger.Int64("problem_id", problemID))
	case err != nil:
		metrics.RecordErrorByComponent("recompute", "scoring")
		c.log.Error(ctx, "scoring failed",
			logger.Int64("season_id", seasonID),
			logger.Int64("problem_id", problemID),
			logger.Error(err))
	}

	var ev Event
	err = c.locker.Do(ctx, keylock.PublishKey(seasonID), func() error {
		var err error
		ev, err = c.publish(ctx, seasonID, problemID)
		return err
	})
	if err != nil {
		return Event{}, err
	}

	metrics.RecordRefreshLatency(float64(time.Since(start).Milliseconds()))
	c.log.Debug(ctx, "season refreshed",
		logger.Int64("season_id", seasonID),
		logger.Int64("problem_id", problemID),
		logger.Int("ranked", len(ev.Rankings)),
		logger.Duration("took", time.Since(start)))
	return ev, nil
}

// publish reranks the season and hands the result to every notifier.
func (c *Coordinator) publish(ctx context.Context, seasonID, problemID int64) (Event, error) {
	rankings, err := c.ranker.RecomputeSeason(ctx, seasonID)
	if err != nil {
		metrics.RecordErrorByComponent("recompute", "ranking")
		return Event{}, fmt.Errorf("rank season %d: %w", seasonID, err)
	}

	ev := Event{
		SeasonID:  seasonID,
		ProblemID: problemID,
		Rankings:  rankings,
		At:        c.now(),
	}
	ev.Problems, err = c.problemStats(ctx, seasonID, problemID)
	if err != nil {
		c.log.Warn(ctx, "problem stats unavailable",
			logger.Int64("season_id", seasonID),
			logger.Error(err))
	}

	for _, n := range c.notifiers {
		if err := n.Refreshed(ctx, ev); err != nil {
			metrics.RecordNotifyError()
			c.log.Warn(ctx, "notify refreshed failed",
				logger.Int64("season_id", seasonID),
				logger.Error(err))
		}
	}
	return ev, nil
}

func (c *Coordinator) problemStats(ctx context.Context, seasonID, problemID int64) ([]model.ProblemStats, error) {
	var problems []model.Problem
	if problemID == 0 {
		ps, err := c.stats.ListSeasonProblems(ctx, seasonID)
		if err != nil {
			return nil, err
		}
		problems = ps
	} else {
		p, err := c.stats.GetProblem(ctx, problemID)
		if err != nil {
			return nil, err
		}
		problems = []model.Problem{p}
	}

	out := make([]model.ProblemStats, 0, len(problems))
	for _, p := range problems {
		st, err := Stats(ctx, c.stats, p)
		if err != nil {
			return out, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Stats builds the display figures of one problem.
func Stats(ctx context.Context, src StatsSource, p model.Problem) (model.ProblemStats, error) {
	official, err := src.CountSolves(ctx, p.ID, true)
	if err != nil {
		return model.ProblemStats{}, fmt.Errorf("count official solves: %w", err)
	}
	unofficial, err := src.CountSolves(ctx, p.ID, false)
	if err != nil {
		return model.ProblemStats{}, fmt.Errorf("count unofficial solves: %w", err)
	}
	return model.ProblemStats{
		ProblemID:        p.ID,
		SeasonID:         p.SeasonID,
		Difficulty:       p.Difficulty,
		WeightedSolves:   p.WeightedSolves,
		BasePoints:       p.BasePoints,
		OfficialSolves:   official,
		UnofficialSolves: unofficial,
	}, nil
}
