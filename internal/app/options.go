package service

import (
	"time"

	"github.com/okian/openpotd/internal/config"
	"github.com/okian/openpotd/internal/domain/recompute"
	"github.com/okian/openpotd/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the backend. Without it Start uses a memory store.
// The service closes the backend on Stop.
func WithStore(b Backend) Option {
	return func(s *Service) {
		s.store = b
	}
}

// WithWorkerCount sets the number of refresh shards, one worker each.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of each refresh shard.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many message ids are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithBasePoints sets the default point pool of a problem.
func WithBasePoints(pool float64) Option {
	return func(s *Service) {
		if pool > 0 {
			s.basePoints = pool
		}
	}
}

// WithLockTimeout bounds how long a submission waits for its lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.lockTimeout = d
	}
}

// WithMaxNicknameLen caps nickname length in characters.
func WithMaxNicknameLen(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxNicknameLen = n
		}
	}
}

// WithMaxRankingsLimit caps how many ranking rows one read returns.
func WithMaxRankingsLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRankingsLimit = n
		}
	}
}

// WithSeed provisions seasons and problems on Start.
func WithSeed(seed config.Seed) Option {
	return func(s *Service) {
		s.seed = seed
	}
}

// WithNotifiers adds receivers of refreshed events.
func WithNotifiers(n ...recompute.Notifier) Option {
	return func(s *Service) {
		s.notifiers = append(s.notifiers, n...)
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// FromConfig maps a loaded Config to options. The backend is opened
// separately with OpenStore.
func FromConfig(cfg *config.Config) []Option {
	return []Option{
		WithWorkerCount(cfg.RefreshWorkers),
		WithQueueSize(cfg.RefreshQueueSize),
		WithDedupeSize(cfg.DedupeSize),
		WithBasePoints(cfg.BasePoints),
		WithLockTimeout(time.Duration(cfg.LockTimeoutMS) * time.Millisecond),
		WithMaxNicknameLen(cfg.MaxNicknameLen),
		WithMaxRankingsLimit(cfg.MaxRankingsLimit),
		WithSeed(cfg.Seed),
	}
}
