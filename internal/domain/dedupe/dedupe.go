// Package dedupe remembers recently seen submission message ids so a
// retried delivery is answered without recording a second attempt.
package dedupe

import (
	"context"
	"sync"
)

// DefaultMaxSize bounds the guard when no size is configured.
const DefaultMaxSize = 50000

// Deduper records seen message ids.
type Deduper interface {
	// SeenAndRecord reports whether id was already seen and records it if not.
	SeenAndRecord(ctx context.Context, id string) bool
	// Unrecord forgets id so a failed submission can be retried.
	Unrecord(ctx context.Context, id string)
	// Size returns the number of remembered ids.
	Size() int
}

// Guard is a bounded FIFO Deduper: once full, the oldest id is evicted.
// A non-positive max size keeps every id.
type Guard struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	order   []string // ring of ids in insertion order, bounded mode only
	head    int
	maxSize int
}

// New creates a Guard.
func New(opts ...Option) *Guard {
	g := &Guard{maxSize: DefaultMaxSize}
	for _, opt := range opts {
		opt(g)
	}
	g.seen = make(map[string]struct{})
	if g.maxSize > 0 {
		g.order = make([]string, 0, min(g.maxSize, 1024))
	}
	return g
}

// SeenAndRecord implements Deduper. Empty ids are never deduplicated.
func (g *Guard) SeenAndRecord(_ context.Context, id string) bool {
	if id == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[id]; ok {
		return true
	}
	g.seen[id] = struct{}{}
	if g.maxSize <= 0 {
		return false
	}

	if len(g.order) < g.maxSize {
		g.order = append(g.order, id)
		return false
	}
	// ring is full: overwrite the oldest slot
	delete(g.seen, g.order[g.head])
	g.order[g.head] = id
	g.head = (g.head + 1) % g.maxSize
	return false
}

// Unrecord implements Deduper.
func (g *Guard) Unrecord(_ context.Context, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[id]; !ok {
		return
	}
	delete(g.seen, id)
	if g.maxSize <= 0 {
		return
	}
	g.removeFromRingLocked(id)
}

// removeFromRingLocked drops id from the ring and re-linearises it so the
// oldest entry sits at index 0.
func (g *Guard) removeFromRingLocked(id string) {
	ordered := make([]string, 0, len(g.order))
	ordered = append(ordered, g.order[g.head:]...)
	ordered = append(ordered, g.order[:g.head]...)
	for i, v := range ordered {
		if v == id {
			ordered = append(ordered[:i], ordered[i+1:]...)
			break
		}
	}
	g.order = ordered
	g.head = 0
}

// Size implements Deduper.
func (g *Guard) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
