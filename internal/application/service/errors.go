package service

import "errors"

var (
	// ErrNotFound means the admin token, slug or log id did not
	// resolve to a stored entity.
	ErrNotFound = errors.New("service: not found")

	// ErrInvalidState means the mutation is not allowed for the
	// client's current status (e.g. logging work on a paused
	// retainer).
	ErrInvalidState = errors.New("service: invalid state")

	// ErrValidation means the input itself is malformed (empty name,
	// non-positive hours, unknown status, bad refill link).
	ErrValidation = errors.New("service: validation failed")
)
