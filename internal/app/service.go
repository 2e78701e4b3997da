// Package service assembles the scoring core and exposes the operations the
// HTTP API needs.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	eventqueue "github.com/okian/openpotd/internal/adapters/mq/queue"
	workerpool "github.com/okian/openpotd/internal/adapters/mq/worker"
	"github.com/okian/openpotd/internal/adapters/notify"
	"github.com/okian/openpotd/internal/adapters/repository"
	"github.com/okian/openpotd/internal/config"
	"github.com/okian/openpotd/internal/domain/dedupe"
	"github.com/okian/openpotd/internal/domain/keylock"
	"github.com/okian/openpotd/internal/domain/model"
	"github.com/okian/openpotd/internal/domain/ranking"
	"github.com/okian/openpotd/internal/domain/recompute"
	"github.com/okian/openpotd/internal/domain/scoring"
	"github.com/okian/openpotd/internal/domain/submission"
	"github.com/okian/openpotd/internal/domain/types"
	"github.com/okian/openpotd/pkg/logger"
	"github.com/okian/openpotd/pkg/metrics"
)

// OutcomeDuplicate marks a replayed message id.
const OutcomeDuplicate = "duplicate"

// Service implements the API dependencies for the problem-of-the-day core.
type Service struct {
	mu sync.RWMutex

	// Core components
	store       Backend
	deduper     dedupe.Deduper
	queue       *eventqueue.KeyedQueue
	pool        *workerpool.Pool
	locker      *keylock.Locker
	processor   *submission.Processor
	coordinator *recompute.Coordinator
	notifiers   []recompute.Notifier

	// Configuration
	workerCount      int
	queueSize        int
	dedupeSize       int
	basePoints       float64
	lockTimeout      time.Duration
	maxNicknameLen   int
	maxRankingsLimit int
	seed             config.Seed

	started bool
	logger  logger.Logger
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:      4,
		queueSize:        1024,
		dedupeSize:       dedupe.DefaultMaxSize,
		basePoints:       scoring.DefaultPointPool,
		lockTimeout:      5 * time.Second,
		maxNicknameLen:   32,
		maxRankingsLimit: 1000,
		logger:           logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start provisions seed data, wires the components and launches the refresh
// workers. Workers stop when ctx is cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting potd service...")

	if s.store == nil {
		s.store = repository.NewMemoryStore()
		s.logger.Info(ctx, "using memory store")
	}
	if err := applySeed(ctx, s.store, s.seed); err != nil {
		return err
	}

	s.locker = keylock.New(keylock.WithTimeout(s.lockTimeout))
	s.deduper = dedupe.New(dedupe.WithMaxSize(s.dedupeSize))

	scorer := scoring.NewEngine(s.store,
		scoring.WithPointPool(s.basePoints),
		scoring.WithLocker(s.locker),
		scoring.WithLogger(s.logger.Named("scoring")))
	ranker := ranking.NewEngine(s.store,
		ranking.WithLocker(s.locker),
		ranking.WithLogger(s.logger.Named("ranking")))
	notifiers := append([]recompute.Notifier{notify.NewLogNotifier(s.logger)}, s.notifiers...)
	s.coordinator = recompute.NewCoordinator(scorer, ranker, s.store,
		recompute.WithNotifiers(notifiers...),
		recompute.WithLocker(s.locker),
		recompute.WithLogger(s.logger.Named("recompute")))

	s.queue = eventqueue.NewKeyedQueue(
		eventqueue.WithShards(s.workerCount),
		eventqueue.WithCapacity(s.queueSize))
	s.pool = workerpool.NewPool(s.queue, workerpool.RefresherFunc(s.Refresh),
		workerpool.WithLogger(s.logger))
	s.pool.Start(ctx)

	s.processor = submission.NewProcessor(s.store,
		submission.WithLocker(s.locker),
		submission.WithSignaler(submission.SignalerFunc(s.signal)),
		submission.WithLogger(s.logger.Named("submission")))

	for _, ss := range s.seed.Seasons {
		if _, err := s.coordinator.Refresh(ctx, ss.ID, 0); err != nil {
			s.logger.Warn(ctx, "initial refresh failed", logger.Int64("season_id", ss.ID), logger.Error(err))
		}
	}

	s.started = true
	s.logger.Info(ctx, "potd service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Float64("basePoints", s.basePoints))
	return nil
}

// Stop drains the refresh queue and closes the backend.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping potd service...")

	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "close store", logger.Error(err))
	}
	for _, n := range s.notifiers {
		if c, ok := n.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}

	s.started = false
	s.logger.Info(ctx, "potd service stopped")
}

func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// Submit processes a submission. A non-empty messageID that was already
// processed is acknowledged as a duplicate without recording anything.
func (s *Service) Submit(ctx context.Context, messageID string, req submission.Request) (types.SubmissionReply, error) {
	if err := s.ready(); err != nil {
		return types.SubmissionReply{}, err
	}
	if s.deduper.SeenAndRecord(ctx, messageID) {
		metrics.RecordSubmissionDuplicate()
		return types.SubmissionReply{Outcome: OutcomeDuplicate, Duplicate: true}, nil
	}

	res, err := s.processor.Submit(ctx, req)
	if err != nil {
		s.deduper.Unrecord(ctx, messageID)
		return types.SubmissionReply{}, err
	}
	return types.SubmissionReply{
		Outcome:            string(res.Outcome),
		Correct:            res.Correct,
		AlreadySolved:      res.AlreadySolved,
		OfficialAttempts:   res.OfficialAttempts,
		UnofficialAttempts: res.UnofficialAttempts,
		ProblemID:          res.ProblemID,
		SeasonID:           res.SeasonID,
	}, nil
}

// signal schedules a refresh; a full shard runs it inline so no solve is
// left unscored.
func (s *Service) signal(ctx context.Context, seasonID, problemID int64) {
	ctx = context.WithoutCancel(ctx)
	if s.queue.Enqueue(ctx, eventqueue.NewRefreshRequest(seasonID, problemID)) {
		return
	}
	metrics.RecordQueueFallback()
	s.logger.Warn(ctx, "refresh queue full, refreshing inline",
		logger.Int64("season_id", seasonID),
		logger.Int64("problem_id", problemID))
	if err := s.Refresh(ctx, seasonID, problemID); err != nil {
		s.logger.Error(ctx, "inline refresh failed", logger.Error(err))
	}
}

// Refresh rescores and reranks a season synchronously.
func (s *Service) Refresh(ctx context.Context, seasonID, problemID int64) error {
	_, err := s.coordinator.Refresh(ctx, seasonID, problemID)
	return err
}

// RefreshAll recomputes every problem of a season (the running one when
// seasonID is 0) through the refresh queue and waits for it to finish.
func (s *Service) RefreshAll(ctx context.Context, seasonID int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	seasonID, err := s.resolveSeason(ctx, seasonID)
	if err != nil {
		return err
	}

	req, done := eventqueue.NewRefreshRequest(seasonID, 0).WithDone()
	if !s.queue.Enqueue(ctx, req) {
		metrics.RecordQueueFallback()
		return s.Refresh(ctx, seasonID, 0)
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) resolveSeason(ctx context.Context, seasonID int64) (int64, error) {
	if seasonID != 0 {
		if _, err := s.store.GetSeason(ctx, seasonID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return 0, fmt.Errorf("%w: %d", submission.ErrSeasonNotFound, seasonID)
			}
			return 0, err
		}
		return seasonID, nil
	}
	season, err := s.store.RunningSeason(ctx)
	if err != nil {
		return 0, fmt.Errorf("running season: %w", err)
	}
	return season.ID, nil
}

// Rankings returns up to limit rows of a season ranking (the running season
// when seasonID is 0). Anonymous users are listed without a nickname.
func (s *Service) Rankings(ctx context.Context, seasonID int64, limit int) ([]types.Entry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	seasonID, err := s.resolveSeason(ctx, seasonID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.maxRankingsLimit {
		limit = s.maxRankingsLimit
	}

	rows, err := s.store.ListRankings(ctx, seasonID)
	if err != nil {
		return nil, err
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]types.Entry, 0, len(rows))
	for _, r := range rows {
		e, err := s.entry(ctx, r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Score returns one user's rank and score.
func (s *Service) Score(ctx context.Context, seasonID, userID int64) (types.Entry, error) {
	if err := s.ready(); err != nil {
		return types.Entry{}, err
	}
	seasonID, err := s.resolveSeason(ctx, seasonID)
	if err != nil {
		return types.Entry{}, err
	}
	r, err := s.store.GetRanking(ctx, seasonID, userID)
	if err != nil {
		return types.Entry{}, err
	}
	return s.entry(ctx, r)
}

func (s *Service) entry(ctx context.Context, r model.Ranking) (types.Entry, error) {
	e := types.Entry{Rank: r.Rank, UserID: r.UserID, Score: r.Score}
	u, err := s.store.GetUser(ctx, r.UserID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return types.Entry{}, err
	case !u.Anonymous:
		e.Nickname = u.Nickname
	}
	return e, nil
}

// ProblemStats returns the figures of a public problem.
func (s *Service) ProblemStats(ctx context.Context, problemID int64) (types.ProblemStats, error) {
	if err := s.ready(); err != nil {
		return types.ProblemStats{}, err
	}
	p, err := s.store.GetProblem(ctx, problemID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !p.Public) {
		return types.ProblemStats{}, fmt.Errorf("%w: %d", submission.ErrProblemNotFound, problemID)
	}
	if err != nil {
		return types.ProblemStats{}, err
	}
	return s.problemStats(ctx, p)
}

// ProblemStatsByDate returns the figures of the public problem dated on the
// UTC day of date.
func (s *Service) ProblemStatsByDate(ctx context.Context, date time.Time) (types.ProblemStats, error) {
	if err := s.ready(); err != nil {
		return types.ProblemStats{}, err
	}
	p, err := s.store.PublicProblemByDate(ctx, date)
	if errors.Is(err, repository.ErrNotFound) {
		return types.ProblemStats{}, fmt.Errorf("%w: %s", submission.ErrProblemNotFound, date.Format(model.DateLayout))
	}
	if err != nil {
		return types.ProblemStats{}, err
	}
	return s.problemStats(ctx, p)
}

func (s *Service) problemStats(ctx context.Context, p model.Problem) (types.ProblemStats, error) {
	st, err := recompute.Stats(ctx, s.store, p)
	if err != nil {
		return types.ProblemStats{}, err
	}
	return types.NewProblemStats(st), nil
}

// UserInfo returns a user profile.
func (s *Service) UserInfo(ctx context.Context, userID int64) (types.UserInfo, error) {
	if err := s.ready(); err != nil {
		return types.UserInfo{}, err
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return types.UserInfo{}, err
	}
	return types.UserInfo{UserID: u.ID, Nickname: u.Nickname, Anonymous: u.Anonymous}, nil
}

// SetNickname changes a user's nickname, creating the user if needed.
func (s *Service) SetNickname(ctx context.Context, userID int64, nickname string) error {
	if err := s.ready(); err != nil {
		return err
	}
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return fmt.Errorf("%w: empty", ErrInvalidNickname)
	}
	if n := utf8.RuneCountInString(nickname); n > s.maxNicknameLen {
		return fmt.Errorf("%w: %d characters, at most %d allowed", ErrInvalidNickname, n, s.maxNicknameLen)
	}
	if err := s.store.EnsureUser(ctx, model.User{ID: userID, Anonymous: true}); err != nil {
		return err
	}
	return s.store.SetNickname(ctx, userID, nickname)
}

// ToggleAnonymous flips a user's anonymity, creating the user if needed.
func (s *Service) ToggleAnonymous(ctx context.Context, userID int64) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if err := s.store.EnsureUser(ctx, model.User{ID: userID, Anonymous: true}); err != nil {
		return false, err
	}
	return s.store.ToggleAnonymous(ctx, userID)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
		"basePoints":  s.basePoints,
	}
	if s.started {
		stats["queueLength"] = s.queue.Len()
		stats["activeWorkers"] = s.pool.Active()
		stats["dedupeEntries"] = s.deduper.Size()
		stats["heldLocks"] = s.locker.Len()
	}
	return stats
}
