package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadySolved = errors.New("solve already recorded")
	ErrClosed        = errors.New("store closed")
)
