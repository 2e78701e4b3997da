package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/openpotd/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func seededStore(ctx context.Context) *MemoryStore {
	s := NewMemoryStore()
	_ = s.UpsertSeason(ctx, model.Season{ID: 1, Name: "s1", Running: true, CurrentProblemID: 11})
	_ = s.UpsertSeason(ctx, model.Season{ID: 2, Name: "s2"})
	_ = s.UpsertProblem(ctx, model.Problem{ID: 11, SeasonID: 1, Answer: 42, Public: true})
	_ = s.UpsertProblem(ctx, model.Problem{ID: 10, SeasonID: 1, Answer: 7, Public: true})
	_ = s.UpsertProblem(ctx, model.Problem{ID: 20, SeasonID: 2, Answer: 1})
	return s
}

func TestMemoryStoreSeasons(t *testing.T) {
	Convey("Given a seeded memory store", t, func() {
		ctx := context.Background()
		s := seededStore(ctx)

		Convey("When looking up the running season", func() {
			season, err := s.RunningSeason(ctx)
			So(err, ShouldBeNil)
			So(season.ID, ShouldEqual, 1)

			pid, err := s.CurrentProblem(ctx, 1)
			So(err, ShouldBeNil)
			So(pid, ShouldEqual, 11)
		})

		Convey("When the season has no current problem", func() {
			_, err := s.CurrentProblem(ctx, 2)
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("When the season is unknown", func() {
			_, err := s.GetSeason(ctx, 99)
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("When listing season problems", func() {
			problems, err := s.ListSeasonProblems(ctx, 1)
			So(err, ShouldBeNil)
			So(len(problems), ShouldEqual, 2)
			So(problems[0].ID, ShouldEqual, 10)
			So(problems[1].ID, ShouldEqual, 11)
		})

		Convey("When derived fields are set and the problem is re-provisioned", func() {
			So(s.SetProblemDerivedFields(ctx, 11, 1.9, 52.6), ShouldBeNil)
			So(s.UpsertProblem(ctx, model.Problem{ID: 11, SeasonID: 1, Answer: 43, Public: true}), ShouldBeNil)
			p, err := s.GetProblem(ctx, 11)
			So(err, ShouldBeNil)
			So(p.Answer, ShouldEqual, 43)
			So(p.WeightedSolves, ShouldEqual, 1.9)
			So(p.BasePoints, ShouldEqual, 52.6)
		})

		Convey("When looking up public problems by date", func() {
			noon := time.Date(2026, time.May, 4, 12, 0, 0, 0, time.UTC)
			So(s.UpsertProblem(ctx, model.Problem{ID: 12, SeasonID: 1, Public: true, Date: noon}), ShouldBeNil)
			So(s.UpsertProblem(ctx, model.Problem{ID: 13, SeasonID: 1, Date: noon.Add(-time.Hour)}), ShouldBeNil)
			So(s.UpsertProblem(ctx, model.Problem{ID: 14, SeasonID: 1, Public: true, Date: noon.Add(time.Hour)}), ShouldBeNil)

			p, err := s.PublicProblemByDate(ctx, noon.Add(-11*time.Hour))
			So(err, ShouldBeNil)
			So(p.ID, ShouldEqual, 12)

			_, err = s.PublicProblemByDate(ctx, noon.AddDate(0, 0, 1))
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("When setting derived fields of an unknown problem", func() {
			So(errors.Is(s.SetProblemDerivedFields(ctx, 404, 1, 1), ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestMemoryStoreTransactions(t *testing.T) {
	Convey("Given a memory store", t, func() {
		ctx := context.Background()
		s := seededStore(ctx)
		attempt := model.Attempt{UserID: 1, ProblemID: 11, Official: true, Answer: model.Answer{Value: 5, Valid: true}, SubmittedAt: time.Now()}

		Convey("When a transaction succeeds", func() {
			err := s.InTx(ctx, func(ctx context.Context, tx Ledger) error {
				So(tx.InsertAttempt(ctx, attempt), ShouldBeNil)
				n, err := tx.CountAttempts(ctx, 1, 11, true)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
				return tx.InsertSolve(ctx, model.Solve{UserID: 1, ProblemID: 11, Attempts: 1, Official: true})
			})

			Convey("Then its writes are visible", func() {
				So(err, ShouldBeNil)
				n, _ := s.CountAttempts(ctx, 1, 11, true)
				So(n, ShouldEqual, 1)
				solved, _ := s.HasSolve(ctx, 1, 11)
				So(solved, ShouldBeTrue)
				So(s.Attempts(1, 11)[0].ID, ShouldEqual, 1)
			})
		})

		Convey("When a transaction fails", func() {
			boom := errors.New("boom")
			err := s.InTx(ctx, func(ctx context.Context, tx Ledger) error {
				_ = tx.InsertAttempt(ctx, attempt)
				_ = tx.InsertSolve(ctx, model.Solve{UserID: 1, ProblemID: 11, Attempts: 1, Official: true})
				return boom
			})

			Convey("Then nothing is written", func() {
				So(errors.Is(err, boom), ShouldBeTrue)
				So(len(s.Attempts(1, 11)), ShouldEqual, 0)
				So(s.SolveCount(1, 11), ShouldEqual, 0)
			})
		})

		Convey("When a second solve is inserted on another channel", func() {
			So(s.InsertSolve(ctx, model.Solve{UserID: 1, ProblemID: 10, Attempts: 2, Official: false}), ShouldBeNil)
			err := s.InsertSolve(ctx, model.Solve{UserID: 1, ProblemID: 10, Attempts: 3, Official: true})

			Convey("Then it is rejected", func() {
				So(errors.Is(err, ErrAlreadySolved), ShouldBeTrue)
				So(s.SolveCount(1, 10), ShouldEqual, 1)
			})
		})

		Convey("When channels are counted separately", func() {
			So(s.InsertAttempt(ctx, attempt), ShouldBeNil)
			unofficial := attempt
			unofficial.Official = false
			So(s.InsertAttempt(ctx, unofficial), ShouldBeNil)
			So(s.InsertAttempt(ctx, unofficial), ShouldBeNil)

			official, _ := s.CountAttempts(ctx, 1, 11, true)
			other, _ := s.CountAttempts(ctx, 1, 11, false)
			So(official, ShouldEqual, 1)
			So(other, ShouldEqual, 2)
		})

		Convey("When many goroutines race to solve", func() {
			var wg sync.WaitGroup
			var mu sync.Mutex
			wins := 0
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := s.InTx(ctx, func(ctx context.Context, tx Ledger) error {
						solved, err := tx.HasSolve(ctx, 2, 11)
						if err != nil || solved {
							return err
						}
						return tx.InsertSolve(ctx, model.Solve{UserID: 2, ProblemID: 11, Attempts: 1, Official: true})
					})
					if err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			Convey("Then exactly one solve exists", func() {
				So(wins, ShouldEqual, 20)
				So(s.SolveCount(2, 11), ShouldEqual, 1)
			})
		})
	})
}

func TestMemoryStoreSolvesAndRankings(t *testing.T) {
	Convey("Given a store with solves", t, func() {
		ctx := context.Background()
		s := seededStore(ctx)
		So(s.InsertSolve(ctx, model.Solve{UserID: 3, ProblemID: 11, Attempts: 1, Official: true}), ShouldBeNil)
		So(s.InsertSolve(ctx, model.Solve{UserID: 1, ProblemID: 11, Attempts: 2, Official: true}), ShouldBeNil)
		So(s.InsertSolve(ctx, model.Solve{UserID: 2, ProblemID: 11, Attempts: 1, Official: false}), ShouldBeNil)

		Convey("When listing official solves", func() {
			solves, err := s.ListOfficialSolves(ctx, 11)
			So(err, ShouldBeNil)
			So(len(solves), ShouldEqual, 2)
			So(solves[0].UserID, ShouldEqual, 1)
			So(solves[1].UserID, ShouldEqual, 3)

			official, _ := s.CountSolves(ctx, 11, true)
			unofficial, _ := s.CountSolves(ctx, 11, false)
			So(official, ShouldEqual, 2)
			So(unofficial, ShouldEqual, 1)
		})

		Convey("When users register and rankings are written", func() {
			So(s.RegisterUser(ctx, 1, 3), ShouldBeNil)
			So(s.RegisterUser(ctx, 1, 1), ShouldBeNil)
			So(s.RegisterUser(ctx, 1, 1), ShouldBeNil)

			ids, err := s.ListRegisteredUsers(ctx, 1)
			So(err, ShouldBeNil)
			So(ids, ShouldResemble, []int64{1, 3})

			So(s.SetRankings(ctx, 1, []model.Ranking{
				{UserID: 3, Rank: 1, Score: 100},
				{UserID: 1, Rank: 2, Score: 90},
				{UserID: 99, Rank: 3, Score: 1},
			}), ShouldBeNil)

			rows, err := s.ListRankings(ctx, 1)
			So(err, ShouldBeNil)
			So(len(rows), ShouldEqual, 2)
			So(rows[0].UserID, ShouldEqual, 3)
			So(rows[0].SeasonID, ShouldEqual, 1)
			So(rows[1].Rank, ShouldEqual, 2)

			r, err := s.GetRanking(ctx, 1, 1)
			So(err, ShouldBeNil)
			So(r.Score, ShouldEqual, 90)

			_, err = s.GetRanking(ctx, 1, 99)
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("When a registrant has not been ranked yet", func() {
			So(s.RegisterUser(ctx, 1, 3), ShouldBeNil)
			So(s.RegisterUser(ctx, 1, 1), ShouldBeNil)
			So(s.SetRankings(ctx, 1, []model.Ranking{{UserID: 3, Rank: 1, Score: 100}}), ShouldBeNil)
			So(s.RegisterUser(ctx, 1, 2), ShouldBeNil)

			rows, err := s.ListRankings(ctx, 1)
			So(err, ShouldBeNil)
			So(len(rows), ShouldEqual, 3)

			Convey("Then unranked rows follow the ranked ones", func() {
				So(rows[0].UserID, ShouldEqual, 3)
				So(rows[0].Rank, ShouldEqual, 1)
				So(rows[1].Rank, ShouldEqual, 0)
				So(rows[1].UserID, ShouldEqual, 1)
				So(rows[2].UserID, ShouldEqual, 2)
			})
		})

		Convey("When registering into an unknown season", func() {
			So(errors.Is(s.RegisterUser(ctx, 404, 1), ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestMemoryStoreUsers(t *testing.T) {
	Convey("Given a memory store", t, func() {
		ctx := context.Background()
		s := NewMemoryStore()

		Convey("When a user is ensured twice", func() {
			So(s.EnsureUser(ctx, model.User{ID: 5, Nickname: "first", Anonymous: true}), ShouldBeNil)
			So(s.EnsureUser(ctx, model.User{ID: 5, Nickname: "second"}), ShouldBeNil)

			u, err := s.GetUser(ctx, 5)
			So(err, ShouldBeNil)
			So(u.Nickname, ShouldEqual, "first")
			So(u.Anonymous, ShouldBeTrue)
		})

		Convey("When the profile is edited", func() {
			So(s.EnsureUser(ctx, model.User{ID: 5, Anonymous: true}), ShouldBeNil)
			So(s.SetNickname(ctx, 5, "alice"), ShouldBeNil)
			anon, err := s.ToggleAnonymous(ctx, 5)
			So(err, ShouldBeNil)
			So(anon, ShouldBeFalse)

			u, _ := s.GetUser(ctx, 5)
			So(u.Nickname, ShouldEqual, "alice")
			So(u.Anonymous, ShouldBeFalse)
		})

		Convey("When the user is unknown", func() {
			So(errors.Is(s.SetNickname(ctx, 9, "x"), ErrNotFound), ShouldBeTrue)
			_, err := s.ToggleAnonymous(ctx, 9)
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("When the store is closed", func() {
			So(s.Close(), ShouldBeNil)
			_, err := s.GetUser(ctx, 5)
			So(errors.Is(err, ErrClosed), ShouldBeTrue)
			err = s.InTx(ctx, func(context.Context, Ledger) error { return nil })
			So(errors.Is(err, ErrClosed), ShouldBeTrue)
		})
	})
}
