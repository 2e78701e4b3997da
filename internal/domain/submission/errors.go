package submission

import (
	"errors"
	"fmt"

	"github.com/okian/openpotd/internal/adapters/repository"
)

// Sentinel kinds for submission errors. The not-found kinds match
// repository.ErrNotFound through errors.Is.
var (
	ErrNoCurrentProblem = fmt.Errorf("no current problem: %w", repository.ErrNotFound)
	ErrProblemNotFound  = fmt.Errorf("problem: %w", repository.ErrNotFound)
	ErrSeasonNotFound   = fmt.Errorf("season: %w", repository.ErrNotFound)
	ErrProblemIsCurrent = errors.New("problem is the current problem of its season")
	ErrInvalidChannel   = errors.New("invalid channel")
	ErrRetryable        = errors.New("retryable")
)
