// Package worker runs the refresh consumers: one sequential worker per
// queue shard, so refreshes of the same season never overlap.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/openpotd/internal/adapters/mq/queue"
	"github.com/okian/openpotd/pkg/logger"
	"github.com/okian/openpotd/pkg/metrics"
)

const poolShutdownTimeout = 30 * time.Second

// Refresher rescores and reranks a season.
type Refresher interface {
	Refresh(ctx context.Context, seasonID, problemID int64) error
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, seasonID, problemID int64) error

// Refresh calls f.
func (f RefresherFunc) Refresh(ctx context.Context, seasonID, problemID int64) error {
	return f(ctx, seasonID, problemID)
}

// Queue defines how workers receive requests.
type Queue interface {
	Dequeue(shard int) <-chan queue.RefreshRequest
	Shards() int
	Close() error
}

// observer is implemented by queues that track size gauges.
type observer interface {
	Observe()
}

// ShardWorker drains one shard.
type ShardWorker struct {
	shard     int
	queue     Queue
	refresher Refresher
	name      string
	busy      *atomic.Int32

	done   chan struct{}
	logger logger.Logger
}

// NewShardWorker creates a worker for one shard.
func NewShardWorker(shard int, q Queue, r Refresher, opts ...Option) *ShardWorker {
	w := &ShardWorker{
		shard:     shard,
		queue:     q,
		refresher: r,
		name:      "worker-" + strconv.Itoa(shard),
		busy:      &atomic.Int32{},
		done:      make(chan struct{}),
		logger:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run processes requests until the shard channel is closed. Requests left
// in the shard after ctx is cancelled are completed with ctx's error.
func (w *ShardWorker) Run(ctx context.Context) {
	defer close(w.done)

	for req := range w.queue.Dequeue(w.shard) {
		if o, ok := w.queue.(observer); ok {
			o.Observe()
		}
		if err := ctx.Err(); err != nil {
			req.Complete(err)
			continue
		}
		req.Complete(w.process(ctx, req))
	}
}

// Done is closed when Run returns.
func (w *ShardWorker) Done() <-chan struct{} { return w.done }

func (w *ShardWorker) process(ctx context.Context, req queue.RefreshRequest) error {
	w.busy.Add(1)
	start := time.Now()
	defer func() {
		w.busy.Add(-1)
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
		metrics.RecordQueueProcessingLatency(float64(time.Since(req.EnqueuedAt).Milliseconds()))
	}()

	if err := w.refresher.Refresh(ctx, req.SeasonID, req.ProblemID); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "refresh_error")
		w.logger.Error(ctx, "refresh failed",
			logger.String("request_id", req.ID.String()),
			logger.Int64("season_id", req.SeasonID),
			logger.Int64("problem_id", req.ProblemID),
			logger.Error(err))
		return fmt.Errorf("refresh season %d: %w", req.SeasonID, err)
	}
	return nil
}

// Pool runs one ShardWorker per queue shard.
type Pool struct {
	workers []*ShardWorker
	queue   Queue
	busy    atomic.Int32

	startOnce sync.Once
	stopOnce  sync.Once
	logger    logger.Logger
}

// NewPool creates a pool over every shard of q.
func NewPool(q Queue, r Refresher, opts ...Option) *Pool {
	p := &Pool{
		queue:  q,
		logger: logger.Nop(),
	}
	probe := &ShardWorker{logger: logger.Nop()}
	for _, opt := range opts {
		opt(probe)
	}
	p.logger = probe.logger.Named("worker-pool")

	p.workers = make([]*ShardWorker, q.Shards())
	for i := range p.workers {
		w := NewShardWorker(i, q, r, opts...)
		w.busy = &p.busy
		p.workers[i] = w
	}

	metrics.UpdateWorkerCount(len(p.workers))
	metrics.UpdateWorkerActiveCount(0)
	metrics.UpdateWorkerIdleCount(len(p.workers))
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Active returns the number of workers currently refreshing.
func (p *Pool) Active() int { return int(p.busy.Load()) }

// Start launches every worker plus a gauge updater bound to ctx.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		for _, w := range p.workers {
			go w.Run(ctx)
		}
		go p.reportGauges(ctx)
	})
}

func (p *Pool) reportGauges(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active := p.Active()
			metrics.UpdateWorkerActiveCount(active)
			metrics.UpdateWorkerIdleCount(len(p.workers) - active)
		}
	}
}

// Shutdown closes the queue and waits for workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		if cerr := p.queue.Close(); cerr != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(cerr))
		}

		waitCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
		defer cancel()
		for i, w := range p.workers {
			select {
			case <-w.done:
			case <-waitCtx.Done():
				p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
				err = fmt.Errorf("shutdown timed out: %w", waitCtx.Err())
				return
			}
		}
	})
	return err
}
