// Package keylock serializes work per string key.
//
// Each key owns a one-slot semaphore; entries are reference counted and
// dropped once no caller holds or waits on them, so the registry only grows
// with the number of keys in flight.
package keylock

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

const defaultTimeout = 5 * time.Second

type entry struct {
	slot chan struct{}
	refs int
}

// Locker hands out per-key mutual exclusion.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
	timeout time.Duration
}

// New creates a Locker with configuration options.
func New(opts ...Option) *Locker {
	l := &Locker{
		entries: make(map[string]*entry),
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock blocks until key is free, ctx is done or the configured timeout
// elapses. On success the returned func must be called exactly once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	e := l.acquire(key)

	var timeout <-chan time.Time
	if l.timeout > 0 {
		t := time.NewTimer(l.timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, fmt.Errorf("%w: %s: %w", ErrContended, key, ctx.Err())
	case <-timeout:
		l.release(key, e)
		return nil, fmt.Errorf("%w: %s: waited %s", ErrContended, key, l.timeout)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.slot
			l.release(key, e)
		})
	}, nil
}

// Do runs fn while holding key.
func (l *Locker) Do(ctx context.Context, key string, fn func() error) error {
	unlock, err := l.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// Len returns the number of keys currently held or awaited.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Locker) acquire(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{slot: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Locker) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// UserProblemKey scopes a lock to one user's attempts on one problem.
func UserProblemKey(userID, problemID int64) string {
	return "attempt:" + strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(problemID, 10)
}

// ProblemKey scopes a lock to one problem's derived fields.
func ProblemKey(problemID int64) string {
	return "problem:" + strconv.FormatInt(problemID, 10)
}

// SeasonKey scopes a lock to one season's ranking table.
func SeasonKey(seasonID int64) string {
	return "season:" + strconv.FormatInt(seasonID, 10)
}

// PublishKey scopes a lock to one season's rank-then-notify sequence. It is
// taken before SeasonKey, never while holding it.
func PublishKey(seasonID int64) string {
	return "publish:" + strconv.FormatInt(seasonID, 10)
}
