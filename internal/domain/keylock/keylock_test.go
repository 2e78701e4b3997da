package keylock_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/openpotd/internal/domain/keylock"
	. "github.com/smartystreets/goconvey/convey"
)

func TestLocker(t *testing.T) {
	Convey("Given a key locker", t, func() {
		l := keylock.New(keylock.WithTimeout(time.Second))
		ctx := context.Background()

		Convey("When a key is locked and released", func() {
			unlock, err := l.Lock(ctx, "a")
			So(err, ShouldBeNil)
			So(l.Len(), ShouldEqual, 1)
			unlock()

			Convey("Then the registry entry is dropped", func() {
				So(l.Len(), ShouldEqual, 0)
			})

			Convey("And calling unlock twice is harmless", func() {
				So(func() { unlock() }, ShouldNotPanic)
				So(l.Len(), ShouldEqual, 0)
			})
		})

		Convey("When different keys are locked", func() {
			ua, err := l.Lock(ctx, "a")
			So(err, ShouldBeNil)
			ub, err := l.Lock(ctx, "b")
			So(err, ShouldBeNil)

			Convey("Then both are held at once", func() {
				So(l.Len(), ShouldEqual, 2)
				ua()
				ub()
			})
		})

		Convey("When many goroutines contend on one key", func() {
			var inside, maxInside atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = l.Do(ctx, "shared", func() error {
						n := inside.Add(1)
						for {
							m := maxInside.Load()
							if n <= m || maxInside.CompareAndSwap(m, n) {
								break
							}
						}
						time.Sleep(time.Millisecond)
						inside.Add(-1)
						return nil
					})
				}()
			}
			wg.Wait()

			Convey("Then at most one runs at a time", func() {
				So(maxInside.Load(), ShouldEqual, 1)
				So(l.Len(), ShouldEqual, 0)
			})
		})
	})
}

func TestLockerContention(t *testing.T) {
	Convey("Given a held key", t, func() {
		l := keylock.New(keylock.WithTimeout(20 * time.Millisecond))
		unlock, err := l.Lock(context.Background(), "held")
		So(err, ShouldBeNil)
		defer unlock()

		Convey("When another caller waits past the timeout", func() {
			_, err := l.Lock(context.Background(), "held")

			Convey("Then it gets a contention error", func() {
				So(errors.Is(err, keylock.ErrContended), ShouldBeTrue)
				So(l.Len(), ShouldEqual, 1)
			})
		})

		Convey("When the waiter's context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := l.Lock(ctx, "held")

			Convey("Then it reports contention wrapping the context error", func() {
				So(errors.Is(err, keylock.ErrContended), ShouldBeTrue)
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
			})
		})
	})
}

func TestKeys(t *testing.T) {
	Convey("Key helpers produce distinct namespaces", t, func() {
		So(keylock.UserProblemKey(1, 2), ShouldEqual, "attempt:1:2")
		So(keylock.ProblemKey(2), ShouldEqual, "problem:2")
		So(keylock.SeasonKey(2), ShouldEqual, "season:2")
		So(keylock.PublishKey(2), ShouldEqual, "publish:2")
	})
}
