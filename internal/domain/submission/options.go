package submission

import (
	"time"

	"github.com/okian/openpotd/internal/domain/keylock"
	"github.com/okian/openpotd/pkg/logger"
)

// Option applies a configuration option to the Processor.
type Option func(*Processor)

// WithLocker shares a key locker with other components.
func WithLocker(l *keylock.Locker) Option {
	return func(p *Processor) {
		if l != nil {
			p.locker = l
		}
	}
}

// WithSignaler sets the collaborator told about every accepted submission.
func WithSignaler(s Signaler) Option {
	return func(p *Processor) {
		p.signaler = s
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.log = l
		}
	}
}

// WithClock overrides the time source used when a request carries no timestamp.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}
