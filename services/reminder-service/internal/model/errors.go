package model

import "errors"

var (
	// ErrValidation marks malformed input; nothing was persisted.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound means the referenced appointment or customer does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a compare-and-swap precondition did not hold; the
	// caller should re-read and re-evaluate instead of overwriting.
	ErrConflict = errors.New("status precondition failed")
)
