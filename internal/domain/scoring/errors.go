package scoring

import "errors"

// ErrNotComputable is returned for a problem without official solves.
var ErrNotComputable = errors.New("problem has no official solves")
