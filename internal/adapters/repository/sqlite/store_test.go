package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okian/openpotd/internal/adapters/repository"
	"github.com/okian/openpotd/internal/domain/model"
	"github.com/stretchr/testify/require"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "potd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seed(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertSeason(ctx, model.Season{ID: 1, Name: "spring", Running: true}))
	require.NoError(t, s.UpsertProblem(ctx, model.Problem{ID: 10, SeasonID: 1, Answer: 7, Public: true, Difficulty: 3}))
	require.NoError(t, s.UpsertProblem(ctx, model.Problem{ID: 11, SeasonID: 1, Answer: 42}))
	require.NoError(t, s.UpsertSeason(ctx, model.Season{ID: 1, Name: "spring", Running: true, CurrentProblemID: 11}))
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), " ")
	require.Error(t, err)
}

func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "potd.db")
	first, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestSeasonsAndProblems(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTempStore(t)
	seed(t, s)

	season, err := s.RunningSeason(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), season.ID)
	require.Equal(t, "spring", season.Name)

	pid, err := s.CurrentProblem(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(11), pid)

	_, err = s.GetSeason(ctx, 2)
	require.ErrorIs(t, err, repository.ErrNotFound)

	problems, err := s.ListSeasonProblems(ctx, 1)
	require.NoError(t, err)
	require.Len(t, problems, 2)
	require.Equal(t, int64(10), problems[0].ID)
	require.True(t, problems[0].Public)
	require.Equal(t, 3, problems[0].Difficulty)

	require.NoError(t, s.SetProblemDerivedFields(ctx, 10, 1.9, 52.63))
	require.NoError(t, s.UpsertProblem(ctx, model.Problem{ID: 10, SeasonID: 1, Answer: 8, Public: true}))
	p, err := s.GetProblem(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, int64(8), p.Answer)
	require.InDelta(t, 1.9, p.WeightedSolves, 1e-12)
	require.InDelta(t, 52.63, p.BasePoints, 1e-12)

	require.ErrorIs(t, s.SetProblemDerivedFields(ctx, 404, 1, 1), repository.ErrNotFound)
	_, err = s.GetProblem(ctx, 404)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPublicProblemByDate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTempStore(t)
	seed(t, s)

	noon := time.Date(2026, time.May, 4, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertProblem(ctx, model.Problem{ID: 13, SeasonID: 1, Public: true, Date: noon.Add(time.Hour)}))
	require.NoError(t, s.UpsertProblem(ctx, model.Problem{ID: 12, SeasonID: 1, Public: true, Date: noon}))
	require.NoError(t, s.UpsertProblem(ctx, model.Problem{ID: 5, SeasonID: 1, Date: noon}))

	p, err := s.PublicProblemByDate(ctx, time.Date(2026, time.May, 4, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, int64(12), p.ID)

	_, err = s.PublicProblemByDate(ctx, noon.AddDate(0, 0, -1))
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestLedgerTransactions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTempStore(t)
	seed(t, s)
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	err := s.InTx(ctx, func(ctx context.Context, tx repository.Ledger) error {
		require.NoError(t, tx.InsertAttempt(ctx, model.Attempt{UserID: 1, ProblemID: 11, Official: true, Raw: "abc", SubmittedAt: now}))
		require.NoError(t, tx.InsertAttempt(ctx, model.Attempt{UserID: 1, ProblemID: 11, Official: true, Answer: model.Answer{Value: 42, Valid: true}, Raw: "42", SubmittedAt: now}))
		n, err := tx.CountAttempts(ctx, 1, 11, true)
		require.NoError(t, err)
		require.Equal(t, 2, n)
		return tx.InsertSolve(ctx, model.Solve{UserID: 1, ProblemID: 11, Attempts: n, Official: true, SolvedAt: now})
	})
	require.NoError(t, err)

	solved, err := s.HasSolve(ctx, 1, 11)
	require.NoError(t, err)
	require.True(t, solved)

	boom := errors.New("boom")
	err = s.InTx(ctx, func(ctx context.Context, tx repository.Ledger) error {
		require.NoError(t, tx.InsertAttempt(ctx, model.Attempt{UserID: 2, ProblemID: 11, Official: true, SubmittedAt: now}))
		return boom
	})
	require.ErrorIs(t, err, boom)
	n, err := s.CountAttempts(ctx, 2, 11, true)
	require.NoError(t, err)
	require.Zero(t, n)

	err = s.InsertSolve(ctx, model.Solve{UserID: 1, ProblemID: 11, Attempts: 3, Official: false, SolvedAt: now})
	require.ErrorIs(t, err, repository.ErrAlreadySolved)

	solves, err := s.ListOfficialSolves(ctx, 11)
	require.NoError(t, err)
	require.Len(t, solves, 1)
	require.Equal(t, 2, solves[0].Attempts)
	require.True(t, solves[0].SolvedAt.Equal(now))
}

func TestConcurrentSolvesKeepOneRow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTempStore(t)
	seed(t, s)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		already int
		other   []error
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InsertSolve(ctx, model.Solve{UserID: 5, ProblemID: 11, Attempts: 1, Official: true, SolvedAt: time.Now()})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
			case errors.Is(err, repository.ErrAlreadySolved):
				already++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, other)
	require.Equal(t, 7, already)
	official, err := s.CountSolves(ctx, 11, true)
	require.NoError(t, err)
	require.Equal(t, 1, official)
}

func TestRankingsAndUsers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTempStore(t)
	seed(t, s)

	require.NoError(t, s.RegisterUser(ctx, 1, 30))
	require.NoError(t, s.RegisterUser(ctx, 1, 10))
	require.NoError(t, s.RegisterUser(ctx, 1, 10))
	require.ErrorIs(t, s.RegisterUser(ctx, 9, 10), repository.ErrNotFound)

	ids, err := s.ListRegisteredUsers(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []int64{10, 30}, ids)

	require.NoError(t, s.SetRankings(ctx, 1, []model.Ranking{
		{UserID: 30, Rank: 1, Score: 100},
		{UserID: 10, Rank: 2, Score: 90},
		{UserID: 77, Rank: 3, Score: 10},
	}))
	rows, err := s.ListRankings(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, int64(30), rows[0].UserID)
	require.Equal(t, 2, rows[1].Rank)

	require.NoError(t, s.RegisterUser(ctx, 1, 5))
	rows, err = s.ListRankings(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, int64(30), rows[0].UserID)
	require.Equal(t, int64(5), rows[2].UserID)
	require.Equal(t, 0, rows[2].Rank)

	r, err := s.GetRanking(ctx, 1, 10)
	require.NoError(t, err)
	require.InDelta(t, 90.0, r.Score, 1e-12)
	_, err = s.GetRanking(ctx, 1, 77)
	require.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, s.EnsureUser(ctx, model.User{ID: 10, Nickname: "first", Anonymous: true}))
	require.NoError(t, s.EnsureUser(ctx, model.User{ID: 10, Nickname: "second"}))
	u, err := s.GetUser(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, "first", u.Nickname)
	require.True(t, u.Anonymous)

	require.NoError(t, s.SetNickname(ctx, 10, "alice"))
	anon, err := s.ToggleAnonymous(ctx, 10)
	require.NoError(t, err)
	require.False(t, anon)
	anon, err = s.ToggleAnonymous(ctx, 10)
	require.NoError(t, err)
	require.True(t, anon)

	require.ErrorIs(t, s.SetNickname(ctx, 99, "x"), repository.ErrNotFound)
	_, err = s.ToggleAnonymous(ctx, 99)
	require.ErrorIs(t, err, repository.ErrNotFound)
}
