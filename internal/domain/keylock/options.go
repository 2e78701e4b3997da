package keylock

import "time"

// Option applies a configuration option to the Locker.
type Option func(*Locker)

// WithTimeout bounds how long Lock waits. Zero or negative waits until ctx is done.
func WithTimeout(d time.Duration) Option {
	return func(l *Locker) {
		l.timeout = d
	}
}
