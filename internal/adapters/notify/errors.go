package notify

import "errors"

// ErrRedisConnection is returned when Redis cannot be reached at startup.
var ErrRedisConnection = errors.New("notify: redis connection failed")
