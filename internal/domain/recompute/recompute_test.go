package recompute_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/openpotd/internal/adapters/repository"
	"github.com/okian/openpotd/internal/domain/model"
	"github.com/okian/openpotd/internal/domain/ranking"
	"github.com/okian/openpotd/internal/domain/recompute"
	"github.com/okian/openpotd/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

type recorder struct {
	mu     sync.Mutex
	events []recompute.Event
}

func (r *recorder) Refreshed(_ context.Context, ev recompute.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

type brokenRanker struct{}

func (brokenRanker) RecomputeSeason(context.Context, int64) ([]model.Ranking, error) {
	return nil, errors.New("ranking store down")
}

// trace records the order of ranking writes and notifications.
type trace struct {
	mu    sync.Mutex
	steps []string
}

func (t *trace) add(step string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, step)
}

func (t *trace) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.steps...)
}

type tracedRanker struct {
	next recompute.Ranker
	t    *trace
}

func (r tracedRanker) RecomputeSeason(ctx context.Context, seasonID int64) ([]model.Ranking, error) {
	r.t.add("rank")
	return r.next.RecomputeSeason(ctx, seasonID)
}

func setup() *repository.MemoryStore {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	_ = store.UpsertSeason(ctx, model.Season{ID: 1, Running: true, CurrentProblemID: 2})
	_ = store.UpsertProblem(ctx, model.Problem{ID: 1, SeasonID: 1, Answer: 1, Difficulty: 3})
	_ = store.UpsertProblem(ctx, model.Problem{ID: 2, SeasonID: 1, Answer: 2})
	_ = store.InsertSolve(ctx, model.Solve{UserID: 10, ProblemID: 1, Attempts: 1, Official: true})
	_ = store.InsertSolve(ctx, model.Solve{UserID: 20, ProblemID: 1, Attempts: 2, Official: false})
	_ = store.RegisterUser(ctx, 1, 10)
	_ = store.RegisterUser(ctx, 1, 30)
	return store
}

func TestRefresh(t *testing.T) {
	Convey("Given a coordinator over a memory store", t, func() {
		ctx := context.Background()
		store := setup()
		rec := &recorder{}
		failing := recompute.NotifierFunc(func(context.Context, recompute.Event) error {
			return errors.New("subscriber gone")
		})
		c := recompute.NewCoordinator(
			scoring.NewEngine(store),
			ranking.NewEngine(store),
			store,
			recompute.WithNotifiers(failing, rec, nil),
		)

		Convey("When one problem is refreshed", func() {
			ev, err := c.Refresh(ctx, 1, 1)

			Convey("Then scoring and ranking both ran", func() {
				So(err, ShouldBeNil)
				p, _ := store.GetProblem(ctx, 1)
				So(p.BasePoints, ShouldEqual, 100)
				So(len(ev.Rankings), ShouldEqual, 2)
				So(ev.Rankings[0].UserID, ShouldEqual, 10)
				So(ev.Rankings[0].Score, ShouldEqual, 100)
			})

			Convey("Then the event carries the problem figures", func() {
				So(len(ev.Problems), ShouldEqual, 1)
				So(ev.Problems[0].OfficialSolves, ShouldEqual, 1)
				So(ev.Problems[0].UnofficialSolves, ShouldEqual, 1)
				So(ev.Problems[0].Difficulty, ShouldEqual, 3)
			})

			Convey("Then a failing notifier does not stop the others", func() {
				So(len(rec.events), ShouldEqual, 1)
				So(rec.events[0].SeasonID, ShouldEqual, 1)
			})
		})

		Convey("When a problem without official solves is refreshed", func() {
			ev, err := c.Refresh(ctx, 1, 2)

			Convey("Then ranking still runs", func() {
				So(err, ShouldBeNil)
				So(len(ev.Rankings), ShouldEqual, 2)
			})
		})

		Convey("When the whole season is refreshed", func() {
			ev, err := c.Refresh(ctx, 1, 0)
			So(err, ShouldBeNil)
			So(ev.ProblemID, ShouldEqual, 0)
			So(len(ev.Problems), ShouldEqual, 2)
		})

		Convey("When ranking fails", func() {
			c := recompute.NewCoordinator(scoring.NewEngine(store), brokenRanker{}, store, recompute.WithNotifiers(rec))
			_, err := c.Refresh(ctx, 1, 1)

			Convey("Then the error is returned and nobody is notified", func() {
				So(err, ShouldNotBeNil)
				So(len(rec.events), ShouldEqual, 0)
			})
		})
	})
}

func TestRefreshPublishOrder(t *testing.T) {
	Convey("Given a notifier that stalls on its first event", t, func() {
		ctx := context.Background()
		store := setup()
		tr := &trace{}
		entered := make(chan struct{})
		release := make(chan struct{})
		var once sync.Once
		slow := recompute.NotifierFunc(func(context.Context, recompute.Event) error {
			first := false
			once.Do(func() { first = true })
			if first {
				close(entered)
				<-release
			}
			tr.add("notify")
			return nil
		})
		c := recompute.NewCoordinator(
			scoring.NewEngine(store),
			tracedRanker{next: ranking.NewEngine(store), t: tr},
			store,
			recompute.WithNotifiers(slow),
		)

		Convey("When a second refresh of the season starts meanwhile", func() {
			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, _ = c.Refresh(ctx, 1, 1)
			}()
			<-entered
			go func() {
				defer wg.Done()
				_, _ = c.Refresh(ctx, 1, 0)
			}()
			time.Sleep(50 * time.Millisecond)
			blocked := len(tr.snapshot())
			close(release)
			wg.Wait()

			Convey("Then it cannot rank before the first refresh is published", func() {
				So(blocked, ShouldEqual, 1)
				So(tr.snapshot(), ShouldResemble, []string{"rank", "notify", "rank", "notify"})
			})
		})
	})
}
