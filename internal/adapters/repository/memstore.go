package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/openpotd/internal/domain/model"
	"github.com/okian/openpotd/pkg/metrics"
)

type pairKey struct {
	userID    int64
	problemID int64
}

type attemptCounts struct {
	official   int
	unofficial int
}

func (c attemptCounts) get(official bool) int {
	if official {
		return c.official
	}
	return c.unofficial
}

// MemoryStore is a process-local Store. All state lives behind one RWMutex;
// InTx holds the write lock for the whole callback and stages writes until
// the callback succeeds.
type MemoryStore struct {
	mu     sync.RWMutex
	closed bool

	users    map[int64]model.User
	seasons  map[int64]model.Season
	problems map[int64]model.Problem

	attempts      []model.Attempt
	nextAttemptID int64
	counts        map[pairKey]attemptCounts
	solves        map[pairKey]model.Solve

	// season -> user -> row
	rankings map[int64]map[int64]model.Ranking
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[int64]model.User),
		seasons:  make(map[int64]model.Season),
		problems: make(map[int64]model.Problem),
		counts:   make(map[pairKey]attemptCounts),
		solves:   make(map[pairKey]model.Solve),
		rankings: make(map[int64]map[int64]model.Ranking),
	}
}

var (
	_ Store       = (*MemoryStore)(nil)
	_ Provisioner = (*MemoryStore)(nil)
)

func observeQuery(start time.Time) {
	metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
}

func observeUpdate(start time.Time) {
	metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
}

// Close marks the store closed; later calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// memTx is the Ledger handed to InTx callbacks. The store's write lock is
// held for its whole lifetime.
type memTx struct {
	s        *MemoryStore
	attempts []model.Attempt
	solves   map[pairKey]model.Solve
}

func (t *memTx) HasSolve(_ context.Context, userID, problemID int64) (bool, error) {
	k := pairKey{userID, problemID}
	if _, ok := t.solves[k]; ok {
		return true, nil
	}
	_, ok := t.s.solves[k]
	return ok, nil
}

func (t *memTx) CountAttempts(_ context.Context, userID, problemID int64, official bool) (int, error) {
	n := t.s.counts[pairKey{userID, problemID}].get(official)
	for _, a := range t.attempts {
		if a.UserID == userID && a.ProblemID == problemID && a.Official == official {
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertAttempt(_ context.Context, a model.Attempt) error {
	t.attempts = append(t.attempts, a)
	return nil
}

func (t *memTx) InsertSolve(ctx context.Context, sv model.Solve) error {
	solved, _ := t.HasSolve(ctx, sv.UserID, sv.ProblemID)
	if solved {
		return ErrAlreadySolved
	}
	t.solves[pairKey{sv.UserID, sv.ProblemID}] = sv
	return nil
}

// commit applies staged writes. Caller holds the write lock.
func (t *memTx) commit() {
	for _, a := range t.attempts {
		t.s.appendAttemptLocked(a)
	}
	for k, sv := range t.solves {
		t.s.solves[k] = sv
	}
}

func (s *MemoryStore) appendAttemptLocked(a model.Attempt) {
	s.nextAttemptID++
	a.ID = s.nextAttemptID
	s.attempts = append(s.attempts, a)
	k := pairKey{a.UserID, a.ProblemID}
	c := s.counts[k]
	if a.Official {
		c.official++
	} else {
		c.unofficial++
	}
	s.counts[k] = c
}

// InTx implements Store.InTx. fn must only use the Ledger it is given.
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Ledger) error) error {
	start := time.Now()
	defer observeUpdate(start)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	tx := &memTx{s: s, solves: make(map[pairKey]model.Solve)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// HasSolve implements Ledger.
func (s *MemoryStore) HasSolve(ctx context.Context, userID, problemID int64) (bool, error) {
	defer observeQuery(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrClosed
	}
	_, ok := s.solves[pairKey{userID, problemID}]
	return ok, nil
}

// CountAttempts implements Ledger.
func (s *MemoryStore) CountAttempts(ctx context.Context, userID, problemID int64, official bool) (int, error) {
	defer observeQuery(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.counts[pairKey{userID, problemID}].get(official), nil
}

// InsertAttempt implements Ledger.
func (s *MemoryStore) InsertAttempt(ctx context.Context, a model.Attempt) error {
	return s.InTx(ctx, func(ctx context.Context, tx Ledger) error {
		return tx.InsertAttempt(ctx, a)
	})
}

// InsertSolve implements Ledger.
func (s *MemoryStore) InsertSolve(ctx context.Context, sv model.Solve) error {
	return s.InTx(ctx, func(ctx context.Context, tx Ledger) error {
		return tx.InsertSolve(ctx, sv)
	})
}

// Attempts returns a copy of the attempt history for one user and problem.
func (s *MemoryStore) Attempts(userID, problemID int64) []model.Attempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Attempt
	for _, a := range s.attempts {
		if a.UserID == userID && a.ProblemID == problemID {
			out = append(out, a)
		}
	}
	return out
}

// SolveCount returns the number of solve rows for one user and problem.
// It can only ever be 0 or 1.
func (s *MemoryStore) SolveCount(userID, problemID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.solves[pairKey{userID, problemID}]; ok {
		return 1
	}
	return 0
}

// RunningSeason implements Store.
func (s *MemoryStore) RunningSeason(ctx context.Context) (model.Season, error) {
	defer observeQuery(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.Season{}, ErrClosed
	}
	ids := make([]int64, 0, len(s.seasons))
	for id, season := range s.seasons {
		if season.Running {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return model.Season{}, ErrNotFound
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return s.seasons[ids[0]], nil
}

// GetSeason implements Store.
func (s *MemoryStore) GetSeason(ctx context.Context, seasonID int64) (model.Season, error) {
	defer observeQuery(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.Season{}, ErrClosed
	}
	season, ok := s.seasons[seasonID]
	if !ok {
		return model.Season{}, ErrNotFound
	}
	return season, nil
}

// CurrentProblem implements Store.
func (s *MemoryStore) CurrentProblem(ctx context.Context, seasonID int64) (int64, error) {
	season, err := s.GetSeason(ctx, seasonID)
	if err != nil {
		return 0, err
	}
	if !season.HasCurrentProblem() {
		return 0, ErrNotFound
	}
	return season.CurrentProblemID, nil
}

// GetProblem implements Store.
func (s *MemoryStore) GetProblem(ctx context.Context, problemID int64) (model.Problem, error) {
	defer observeQuery(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.Problem{}, ErrClosed
	}
	p, ok := s.problems[problemID]
	if !ok {
		return model.Problem{}, ErrNotFound
	}
	return p, nil
}

// PublicProblemByDate implements Store.
func (s *MemoryStore) PublicProblemByDate(ctx context.Context, date time.Time) (model.Problem, error) {
	defer observeQuery(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.Problem{}, ErrClosed
	}
	day := model.Day(date)
	var (
		found model.Problem
		ok    bool
	)
	for _, p := range s.problems {
		if !p.Public || p.Date.IsZero() || !model.Day(p.Date).Equal(day) {
			continue
		}
		if !ok || p.ID < found.ID {
			found, ok = p, true
		}
	}
	if !ok {
		return model.Problem{}, ErrNotFound
	}
	return found, nil
}

// ListSeasonProblems implements Store.
func (s *MemoryStore) ListSeasonProblems(ctx context.Context, seasonID int64) ([]model.Problem, error) {
	defer observeQuery(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []model.Problem
	for _, p := range s.problems {
		if p.SeasonID == seasonID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetProblemDerivedFields implements Store.
func (s *MemoryStore) SetProblemDerivedFields(ctx context.Context, problemID int64, weightedSolves, basePoints float64) error {
	defer observeUpdate(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	p, ok := s.problems[problemID]
	if !ok {
		return ErrNotFound
	}
	p.WeightedSolves = weightedSolves
	p.BasePoints = basePoints
	s.problems[problemID] = p
	return nil
}

// ListOfficialSolves implements Store.
func (s *MemoryStore) ListOfficialSolves(ctx context.Context, problemID int64) ([]model.Solve, error) {
	defer observeQuery(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []model.Solve
	for k, sv := range s.solves {
		if k.problemID == problemID && sv.Official {
			out = append(out, sv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// CountSolves implements Store.
func (s *MemoryStore) CountSolves(ctx context.Context, problemID int64, official bool) (int, error) {
	defer observeQuery(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	n := 0
	for k, sv := range s.solves {
		if k.problemID == problemID && sv.Official == official {
			n++
		}
	}
	return n, nil
}

// RegisterUser implements Store.
func (s *MemoryStore) RegisterUser(ctx context.Context, seasonID, userID int64) error {
	defer observeUpdate(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.seasons[seasonID]; !ok {
		return ErrNotFound
	}
	rows, ok := s.rankings[seasonID]
	if !ok {
		rows = make(map[int64]model.Ranking)
		s.rankings[seasonID] = rows
	}
	if _, ok := rows[userID]; !ok {
		rows[userID] = model.Ranking{SeasonID: seasonID, UserID: userID}
		metrics.UpdateRepositoryRecordsTotal(len(rows))
	}
	return nil
}

// ListRegisteredUsers implements Store.
func (s *MemoryStore) ListRegisteredUsers(ctx context.Context, seasonID int64) ([]int64, error) {
	defer observeQuery(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	rows := s.rankings[seasonID]
	out := make([]int64, 0, len(rows))
	for id := range rows {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// SetRankings implements Store. Rows for unregistered users are ignored,
// registered users missing from rankings keep their previous row.
func (s *MemoryStore) SetRankings(ctx context.Context, seasonID int64, rankings []model.Ranking) error {
	defer observeUpdate(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	rows := s.rankings[seasonID]
	for _, r := range rankings {
		if _, ok := rows[r.UserID]; !ok {
			continue
		}
		r.SeasonID = seasonID
		rows[r.UserID] = r
	}
	return nil
}

// ListRankings implements Store.
func (s *MemoryStore) ListRankings(ctx context.Context, seasonID int64) ([]model.Ranking, error) {
	defer observeQuery(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	rows := s.rankings[seasonID]
	out := make([]model.Ranking, 0, len(rows))
	for _, r := range rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Rank, out[j].Rank
		if (ri == 0) != (rj == 0) {
			return rj == 0
		}
		if ri != rj {
			return ri < rj
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// GetRanking implements Store.
func (s *MemoryStore) GetRanking(ctx context.Context, seasonID, userID int64) (model.Ranking, error) {
	defer observeQuery(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.Ranking{}, ErrClosed
	}
	r, ok := s.rankings[seasonID][userID]
	if !ok {
		return model.Ranking{}, ErrNotFound
	}
	return r, nil
}

// EnsureUser implements Store.
func (s *MemoryStore) EnsureUser(ctx context.Context, u model.User) error {
	defer observeUpdate(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.users[u.ID]; !ok {
		s.users[u.ID] = u
	}
	return nil
}

// GetUser implements Store.
func (s *MemoryStore) GetUser(ctx context.Context, userID int64) (model.User, error) {
	defer observeQuery(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.User{}, ErrClosed
	}
	u, ok := s.users[userID]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

// SetNickname implements Store.
func (s *MemoryStore) SetNickname(ctx context.Context, userID int64, nickname string) error {
	defer observeUpdate(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Nickname = nickname
	s.users[userID] = u
	return nil
}

// ToggleAnonymous implements Store.
func (s *MemoryStore) ToggleAnonymous(ctx context.Context, userID int64) (bool, error) {
	defer observeUpdate(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	u, ok := s.users[userID]
	if !ok {
		return false, ErrNotFound
	}
	u.Anonymous = !u.Anonymous
	s.users[userID] = u
	return u.Anonymous, nil
}

// UpsertSeason implements Provisioner.
func (s *MemoryStore) UpsertSeason(ctx context.Context, season model.Season) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.seasons[season.ID] = season
	return nil
}

// UpsertProblem implements Provisioner. Derived fields of an existing
// problem are preserved.
func (s *MemoryStore) UpsertProblem(ctx context.Context, p model.Problem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if old, ok := s.problems[p.ID]; ok {
		p.WeightedSolves = old.WeightedSolves
		p.BasePoints = old.BasePoints
	}
	s.problems[p.ID] = p
	return nil
}
