package loadgen

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/openpotd/pkg/logger"
)

// submitScripts plays every script through a worker pool. A user's
// submissions are sent in order by a single worker.
func submitScripts(ctx context.Context, config *Config, scripts []Script, stats *Stats) error {
	log := logger.Get()
	log.Info(ctx, "submitting scripts", logger.Int("users", len(scripts)), logger.Int("workers", config.Workers))

	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/submissions"

	var submitted, correct, incorrect, duplicate, failed int64
	var lastReport atomic.Int64

	scriptChan := make(chan Script, config.Workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup

	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for script := range scriptChan {
				for _, sub := range script.Submissions {
					if ctx.Err() != nil {
						return
					}
					var reply Reply
					atomic.AddInt64(&submitted, 1)
					switch err := client.Post(ctx, url, sub, &reply); {
					case err != nil:
						atomic.AddInt64(&failed, 1)
						if config.Verbose {
							log.Warn(ctx, "submission failed", logger.Int64("user", sub.UserID), logger.Error(err))
						}
					case reply.Duplicate:
						atomic.AddInt64(&duplicate, 1)
					case reply.Correct:
						atomic.AddInt64(&correct, 1)
					default:
						atomic.AddInt64(&incorrect, 1)
					}
				}

				now := time.Now().UnixNano()
				last := lastReport.Load()
				if time.Duration(now-last) >= reportInterval && lastReport.CompareAndSwap(last, now) {
					log.Info(ctx, "progress",
						logger.Int64("submitted", atomic.LoadInt64(&submitted)),
						logger.Int64("correct", atomic.LoadInt64(&correct)),
						logger.Int64("failed", atomic.LoadInt64(&failed)))
				}
			}
		}()
	}

	go func() {
		defer close(scriptChan)
		for _, s := range scripts {
			select {
			case <-ctx.Done():
				return
			case scriptChan <- s:
			}
		}
	}()

	wg.Wait()

	stats.Submitted = int(atomic.LoadInt64(&submitted))
	stats.Correct = int(atomic.LoadInt64(&correct))
	stats.Incorrect = int(atomic.LoadInt64(&incorrect))
	stats.Duplicate = int(atomic.LoadInt64(&duplicate))
	stats.Failed = int(atomic.LoadInt64(&failed))

	log.Info(ctx, "submission completed",
		logger.Int("correct", stats.Correct),
		logger.Int("incorrect", stats.Incorrect),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("failed", stats.Failed))
	return ctx.Err()
}
