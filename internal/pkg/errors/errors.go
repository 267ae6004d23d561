package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict marks a request that lost against the current persisted state.
	ErrConflict = errors.New("conflict")
	// ErrInvalidTransition marks a document status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)
