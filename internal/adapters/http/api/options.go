package api

import "github.com/okian/openpotd/pkg/logger"

const defaultMaxRankingsLimit = 1000

type options struct {
	maxRankingsLimit int
	logger           logger.Logger
}

// Option configures a Server.
type Option func(*options)

// WithMaxRankingsLimit caps GET /rankings?limit.
func WithMaxRankingsLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRankingsLimit = n
		}
	}
}

// WithLogger sets the logger used for failed requests.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
