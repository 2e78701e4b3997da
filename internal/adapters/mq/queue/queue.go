// Package queue carries ranking refresh requests from submissions to the
// refresh workers. Requests are sharded by season so one season is always
// refreshed by one consumer, in arrival order.
package queue

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/openpotd/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultShards   = 4
	defaultCapacity = 1024
)

// RefreshRequest asks for a season to be rescored and reranked.
type RefreshRequest struct {
	ID         uuid.UUID
	SeasonID   int64
	ProblemID  int64 // 0 means every problem of the season
	EnqueuedAt time.Time

	done chan error
}

// NewRefreshRequest builds a request with a fresh id.
func NewRefreshRequest(seasonID, problemID int64) RefreshRequest {
	return RefreshRequest{
		ID:         uuid.New(),
		SeasonID:   seasonID,
		ProblemID:  problemID,
		EnqueuedAt: time.Now(),
	}
}

// WithDone returns a copy of r that reports its outcome on a channel.
// The channel is buffered so the consumer never blocks on it.
func (r RefreshRequest) WithDone() (RefreshRequest, <-chan error) {
	ch := make(chan error, 1)
	r.done = ch
	return r, ch
}

// Complete reports the outcome to a waiter, if any.
func (r RefreshRequest) Complete(err error) {
	if r.done != nil {
		r.done <- err
	}
}

// Queue provides non-blocking enqueue and per-shard channel dequeue.
type Queue interface {
	// Enqueue adds a request to its season shard. Returns false when the shard
	// is full or the queue is closed.
	Enqueue(ctx context.Context, r RefreshRequest) bool
	// Dequeue returns the channel of one shard. It is closed with the queue.
	Dequeue(shard int) <-chan RefreshRequest
	// Shards returns the number of shards.
	Shards() int
	// Len returns the number of pending requests across shards.
	Len() int
	// Close stops accepting requests and closes every shard channel.
	Close() error
}

// KeyedQueue implements Queue with one buffered channel per shard.
type KeyedQueue struct {
	shards   []chan RefreshRequest
	n        int
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewKeyedQueue creates a queue.
func NewKeyedQueue(opts ...Option) *KeyedQueue {
	q := &KeyedQueue{
		n:        defaultShards,
		capacity: defaultCapacity,
	}
	for _, opt := range opts {
		opt(q)
	}

	q.shards = make([]chan RefreshRequest, q.n)
	for i := range q.shards {
		q.shards[i] = make(chan RefreshRequest, q.capacity)
	}

	metrics.UpdateQueueCapacity(q.n * q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0)
	return q
}

// ShardFor maps a season to its shard.
func (q *KeyedQueue) ShardFor(seasonID int64) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(seasonID, 10)))
	return int(h.Sum32() % uint32(q.n))
}

// Enqueue implements Queue.
func (q *KeyedQueue) Enqueue(ctx context.Context, r RefreshRequest) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}
	if r.EnqueuedAt.IsZero() {
		r.EnqueuedAt = time.Now()
	}

	select {
	case q.shards[q.ShardFor(r.SeasonID)] <- r:
		metrics.RecordQueueEnqueue()
		q.observe()
		return true
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "shard_full")
		return false
	}
}

// Dequeue implements Queue.
func (q *KeyedQueue) Dequeue(shard int) <-chan RefreshRequest {
	return q.shards[shard]
}

// Shards implements Queue.
func (q *KeyedQueue) Shards() int { return q.n }

// Len implements Queue.
func (q *KeyedQueue) Len() int {
	total := 0
	for _, ch := range q.shards {
		total += len(ch)
	}
	return total
}

// Observe refreshes the size gauges; consumers call it after taking a request.
func (q *KeyedQueue) Observe() {
	metrics.RecordQueueDequeue()
	q.observe()
}

func (q *KeyedQueue) observe() {
	size := q.Len()
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.n*q.capacity))
}

// Close implements Queue.
func (q *KeyedQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	for _, ch := range q.shards {
		close(ch)
	}
	return nil
}

// IsClosed reports whether Close was called.
func (q *KeyedQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
