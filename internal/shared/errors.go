package shared

import (
	"context"
	"errors"
)

// Error classes shared by every module. Domain errors wrap one of these so
// transports can map them without knowing the domain.
var (
	// ErrInvalidRequest indicates a missing field, non-positive amount or malformed range.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState indicates the resource cannot accept the operation in its current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrConflict indicates a duplicate submission.
	ErrConflict = errors.New("conflict")
)

// IsRetryable reports whether err is a store-layer failure the caller may retry.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrConflict),
		errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}
