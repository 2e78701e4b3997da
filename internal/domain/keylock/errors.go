package keylock

import "errors"

// ErrContended is returned when a key could not be acquired in time.
var ErrContended = errors.New("key lock contended")
