package scoring

import (
	"github.com/okian/openpotd/internal/domain/keylock"
	"github.com/okian/openpotd/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithPointPool sets the global point pool shared by a problem's solvers.
// Problems with their own pool override it.
func WithPointPool(pool float64) Option {
	return func(e *Engine) {
		if pool > 0 {
			e.pool = pool
		}
	}
}

// WithLocker shares a key locker with other components.
func WithLocker(l *keylock.Locker) Option {
	return func(e *Engine) {
		if l != nil {
			e.locker = l
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}
