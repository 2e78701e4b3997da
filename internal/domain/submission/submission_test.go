package submission_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/openpotd/internal/adapters/repository"
	"github.com/okian/openpotd/internal/domain/keylock"
	"github.com/okian/openpotd/internal/domain/model"
	"github.com/okian/openpotd/internal/domain/submission"
	. "github.com/smartystreets/goconvey/convey"
)

type signal struct{ season, problem int64 }

type recorder struct {
	mu      sync.Mutex
	signals []signal
}

func (r *recorder) Signal(_ context.Context, seasonID, problemID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, signal{seasonID, problemID})
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals)
}

// newFixture seeds season 1 (running, current problem 2) with a public past
// problem 1 and a private past problem 3.
func newFixture() (*repository.MemoryStore, *recorder, *submission.Processor) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	_ = store.UpsertSeason(ctx, model.Season{ID: 1, Name: "s1", Running: true, CurrentProblemID: 2})
	_ = store.UpsertProblem(ctx, model.Problem{ID: 1, SeasonID: 1, Answer: 7, Public: true, Date: day(30)})
	_ = store.UpsertProblem(ctx, model.Problem{ID: 2, SeasonID: 1, Answer: 42, Public: true, Date: day(31)})
	_ = store.UpsertProblem(ctx, model.Problem{ID: 3, SeasonID: 1, Answer: 9, Date: day(29)})
	rec := &recorder{}
	clock := func() time.Time { return time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC) }
	p := submission.NewProcessor(store, submission.WithSignaler(rec), submission.WithClock(clock))
	return store, rec, p
}

// day returns a March 2026 date at noon UTC.
func day(d int) time.Time { return time.Date(2026, time.March, d, 12, 0, 0, 0, time.UTC) }

func official(user int64, raw string) submission.Request {
	return submission.Request{UserID: user, Nickname: "u", Channel: model.ChannelOfficial, Raw: raw}
}

func unofficial(user, problem int64, raw string) submission.Request {
	return submission.Request{UserID: user, Channel: model.ChannelUnofficial, ProblemID: problem, Raw: raw}
}

func TestParseAnswer(t *testing.T) {
	Convey("Given raw answer text", t, func() {
		cases := []struct {
			raw   string
			want  int64
			valid bool
		}{
			{"42", 42, true},
			{"  42\n", 42, true},
			{"+17", 17, true},
			{"-5", -5, true},
			{"007", 7, true},
			{"9223372036854775807", 9223372036854775807, true},
			{"-9223372036854775808", -9223372036854775808, true},
			{"9223372036854775808", 0, false},
			{"abc", 0, false},
			{"", 0, false},
			{"-", 0, false},
			{"4 2", 0, false},
			{"1e3", 0, false},
			{"1_000", 0, false},
			{"3.0", 0, false},
			{"--1", 0, false},
		}
		for _, c := range cases {
			got := submission.ParseAnswer(c.raw)
			So(got.Valid, ShouldEqual, c.valid)
			So(got.Value, ShouldEqual, c.want)
		}
	})
}

func TestOfficialSubmissions(t *testing.T) {
	Convey("Given a running season with a current problem", t, func() {
		ctx := context.Background()
		store, rec, p := newFixture()

		Convey("When a user answers correctly on the first try", func() {
			res, err := p.Submit(ctx, official(10, "42"))

			Convey("Then a solve with one attempt is recorded", func() {
				So(err, ShouldBeNil)
				So(res.Outcome, ShouldEqual, submission.OutcomeCorrect)
				So(res.Correct, ShouldBeTrue)
				So(res.AlreadySolved, ShouldBeFalse)
				So(res.OfficialAttempts, ShouldEqual, 1)
				So(res.ProblemID, ShouldEqual, 2)
				So(res.SeasonID, ShouldEqual, 1)

				solves, _ := store.ListOfficialSolves(ctx, 2)
				So(len(solves), ShouldEqual, 1)
				So(solves[0].Attempts, ShouldEqual, 1)
				So(solves[0].Official, ShouldBeTrue)
			})

			Convey("And the user is created anonymous and registered", func() {
				u, err := store.GetUser(ctx, 10)
				So(err, ShouldBeNil)
				So(u.Anonymous, ShouldBeTrue)
				ids, _ := store.ListRegisteredUsers(ctx, 1)
				So(ids, ShouldResemble, []int64{10})
			})

			Convey("And the coordinator is signalled", func() {
				So(rec.count(), ShouldEqual, 1)
				So(rec.signals[0], ShouldResemble, signal{1, 2})
			})

			Convey("And answering again reports already solved without a new solve", func() {
				again, err := p.Submit(ctx, official(10, "42"))
				So(err, ShouldBeNil)
				So(again.Outcome, ShouldEqual, submission.OutcomeAlreadySolved)
				So(again.Correct, ShouldBeTrue)
				So(again.AlreadySolved, ShouldBeTrue)
				So(again.OfficialAttempts, ShouldEqual, 2)
				So(store.SolveCount(10, 2), ShouldEqual, 1)
				So(len(store.Attempts(10, 2)), ShouldEqual, 2)
			})
		})

		Convey("When a user submits text that is not a number", func() {
			res, err := p.Submit(ctx, official(11, "forty-two"))

			Convey("Then an invalid attempt is recorded", func() {
				So(err, ShouldBeNil)
				So(res.Outcome, ShouldEqual, submission.OutcomeInvalid)
				So(res.Correct, ShouldBeFalse)
				attempts := store.Attempts(11, 2)
				So(len(attempts), ShouldEqual, 1)
				So(attempts[0].Answer.Valid, ShouldBeFalse)
				So(attempts[0].Raw, ShouldEqual, "forty-two")
				So(rec.count(), ShouldEqual, 1)
			})
		})

		Convey("When a user fails twice and then succeeds", func() {
			_, _ = p.Submit(ctx, official(12, "1"))
			_, _ = p.Submit(ctx, official(12, "2"))
			res, err := p.Submit(ctx, official(12, "42"))

			Convey("Then the solve carries three attempts", func() {
				So(err, ShouldBeNil)
				So(res.Outcome, ShouldEqual, submission.OutcomeCorrect)
				solves, _ := store.ListOfficialSolves(ctx, 2)
				So(solves[0].Attempts, ShouldEqual, 3)
			})
		})

		Convey("When an explicit season id is unknown", func() {
			req := official(10, "42")
			req.SeasonID = 99
			_, err := p.Submit(ctx, req)

			Convey("Then the season is not found and nothing is written", func() {
				So(errors.Is(err, submission.ErrSeasonNotFound), ShouldBeTrue)
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				So(len(store.Attempts(10, 2)), ShouldEqual, 0)
				So(rec.count(), ShouldEqual, 0)
			})
		})

		Convey("When the channel is unknown", func() {
			_, err := p.Submit(ctx, submission.Request{UserID: 1, Channel: "dm", Raw: "42"})
			So(errors.Is(err, submission.ErrInvalidChannel), ShouldBeTrue)
		})
	})

	Convey("Given no running season", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		_ = store.UpsertSeason(ctx, model.Season{ID: 1})
		p := submission.NewProcessor(store)

		Convey("When an official answer arrives", func() {
			_, err := p.Submit(ctx, official(10, "42"))

			Convey("Then there is no current problem", func() {
				So(errors.Is(err, submission.ErrNoCurrentProblem), ShouldBeTrue)
				_, uerr := store.GetUser(ctx, 10)
				So(errors.Is(uerr, repository.ErrNotFound), ShouldBeTrue)
			})
		})
	})

	Convey("Given a running season without a current problem", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		_ = store.UpsertSeason(ctx, model.Season{ID: 1, Running: true})
		p := submission.NewProcessor(store)

		_, err := p.Submit(ctx, official(10, "42"))
		So(errors.Is(err, submission.ErrNoCurrentProblem), ShouldBeTrue)
	})
}

func TestUnofficialSubmissions(t *testing.T) {
	Convey("Given a season with past problems", t, func() {
		ctx := context.Background()
		store, rec, p := newFixture()

		Convey("When a user checks a past public problem", func() {
			_, _ = p.Submit(ctx, unofficial(20, 1, "3"))
			res, err := p.Submit(ctx, unofficial(20, 1, "7"))

			Convey("Then an unofficial solve is recorded", func() {
				So(err, ShouldBeNil)
				So(res.Outcome, ShouldEqual, submission.OutcomeCorrect)
				So(res.UnofficialAttempts, ShouldEqual, 2)
				So(res.OfficialAttempts, ShouldEqual, 0)
				n, _ := store.CountSolves(ctx, 1, false)
				So(n, ShouldEqual, 1)
				official, _ := store.ListOfficialSolves(ctx, 1)
				So(len(official), ShouldEqual, 0)
			})

			Convey("And the user is not registered in the ranking table", func() {
				ids, _ := store.ListRegisteredUsers(ctx, 1)
				So(len(ids), ShouldEqual, 0)
			})

			Convey("And later checks still append attempts", func() {
				again, err := p.Submit(ctx, unofficial(20, 1, "7"))
				So(err, ShouldBeNil)
				So(again.AlreadySolved, ShouldBeTrue)
				So(len(store.Attempts(20, 1)), ShouldEqual, 3)
				So(store.SolveCount(20, 1), ShouldEqual, 1)
			})
		})

		Convey("When the problem is the current one", func() {
			_, err := p.Submit(ctx, unofficial(20, 2, "42"))

			Convey("Then the check is refused without writes", func() {
				So(errors.Is(err, submission.ErrProblemIsCurrent), ShouldBeTrue)
				So(len(store.Attempts(20, 2)), ShouldEqual, 0)
				So(rec.count(), ShouldEqual, 0)
			})
		})

		Convey("When the problem is not public or unknown", func() {
			_, err := p.Submit(ctx, unofficial(20, 3, "9"))
			So(errors.Is(err, submission.ErrProblemNotFound), ShouldBeTrue)
			_, err = p.Submit(ctx, unofficial(20, 404, "9"))
			So(errors.Is(err, submission.ErrProblemNotFound), ShouldBeTrue)
			So(len(store.Attempts(20, 3)), ShouldEqual, 0)
		})

		Convey("When a user checks a problem by its date", func() {
			req := submission.Request{UserID: 21, Channel: model.ChannelUnofficial, Date: day(30).Add(-11 * time.Hour), Raw: "7"}
			res, err := p.Submit(ctx, req)

			Convey("Then the public problem of that day is checked", func() {
				So(err, ShouldBeNil)
				So(res.ProblemID, ShouldEqual, 1)
				So(res.Outcome, ShouldEqual, submission.OutcomeCorrect)
			})
		})

		Convey("When the date names the current, a private or no problem", func() {
			byDate := func(d int) error {
				_, err := p.Submit(ctx, submission.Request{UserID: 21, Channel: model.ChannelUnofficial, Date: day(d), Raw: "1"})
				return err
			}
			So(errors.Is(byDate(31), submission.ErrProblemIsCurrent), ShouldBeTrue)
			So(errors.Is(byDate(29), submission.ErrProblemNotFound), ShouldBeTrue)
			So(errors.Is(byDate(1), submission.ErrProblemNotFound), ShouldBeTrue)
			So(len(store.Attempts(21, 2)), ShouldEqual, 0)
			So(len(store.Attempts(21, 3)), ShouldEqual, 0)
		})
	})
}

func TestConcurrentSubmissions(t *testing.T) {
	Convey("Given many concurrent correct answers from one user", t, func() {
		ctx := context.Background()
		store, _, p := newFixture()

		var wg sync.WaitGroup
		results := make(chan submission.Result, 25)
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := p.Submit(ctx, official(30, "42"))
				if err == nil {
					results <- res
				}
			}()
		}
		wg.Wait()
		close(results)

		correct := 0
		total := 0
		for res := range results {
			total++
			if res.Outcome == submission.OutcomeCorrect {
				correct++
			}
		}

		Convey("Then exactly one solve exists and every attempt is kept", func() {
			So(total, ShouldEqual, 25)
			So(correct, ShouldEqual, 1)
			So(store.SolveCount(30, 2), ShouldEqual, 1)
			So(len(store.Attempts(30, 2)), ShouldEqual, 25)
		})
	})

	Convey("Given a lock held elsewhere and a short wait", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		_ = store.UpsertSeason(ctx, model.Season{ID: 1, Running: true, CurrentProblemID: 2})
		_ = store.UpsertProblem(ctx, model.Problem{ID: 2, SeasonID: 1, Answer: 42})
		locker := keylock.New(keylock.WithTimeout(20 * time.Millisecond))
		p := submission.NewProcessor(store, submission.WithLocker(locker))

		unlock, err := locker.Lock(ctx, keylock.UserProblemKey(40, 2))
		So(err, ShouldBeNil)
		defer unlock()

		Convey("When the user submits", func() {
			_, err := p.Submit(ctx, official(40, "42"))

			Convey("Then the error is retryable", func() {
				So(errors.Is(err, submission.ErrRetryable), ShouldBeTrue)
				So(errors.Is(err, keylock.ErrContended), ShouldBeTrue)
				So(len(store.Attempts(40, 2)), ShouldEqual, 0)
			})

			Convey("And the user is neither created nor ranked", func() {
				_, err := store.GetUser(ctx, 40)
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				ids, _ := store.ListRegisteredUsers(ctx, 1)
				So(len(ids), ShouldEqual, 0)
				rows, _ := store.ListRankings(ctx, 1)
				So(len(rows), ShouldEqual, 0)
			})
		})
	})
}
