package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies input/config/payload validation failures.
	ErrValidation = errors.New("jobs validation error")
	// ErrNotFound classifies missing logical resources (for example a lost lease).
	ErrNotFound = errors.New("jobs not found")
	// ErrConflict classifies state conflicts (for example an already-running worker).
	ErrConflict = errors.New("jobs conflict")
	// ErrClosed classifies operations on an already closed backend.
	ErrClosed = errors.New("jobs closed")
	// ErrUnknownQueue classifies references to queues outside the pipeline set.
	ErrUnknownQueue = errors.New("jobs unknown queue")

	// ErrPermanent marks handler failures that must not be retried. Wrapping
	// a handler error with Permanent sends the job straight to the dead
	// letter store instead of climbing the backoff ladder.
	ErrPermanent = errors.New("permanent job failure")
)

// PanicError wraps a recovered handler panic together with the stack
// captured at the recovery point.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic while handling job: %v", e.Value)
}

// Permanent wraps err so the worker skips retries for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsPermanent reports whether err carries the non-retryable marker.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

func jobsError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
