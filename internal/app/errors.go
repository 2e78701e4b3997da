package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrNotStarted      = errors.New("service not started")
	ErrInvalidNickname = errors.New("invalid nickname")
	ErrInvalidSeed     = errors.New("invalid seed")
)
