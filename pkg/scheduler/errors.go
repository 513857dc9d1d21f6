package scheduler

import (
	"errors"
	"fmt"
)

// Sentinel kinds callers match with errors.Is.
var (
	// ErrValidation covers config, schedule and input defects.
	ErrValidation = errors.New("scheduler validation error")
	// ErrConflict covers lost lock races and duplicate registrations.
	ErrConflict = errors.New("scheduler conflict")
	// ErrNotFound covers lookups of unregistered tasks.
	ErrNotFound = errors.New("scheduler not found")
	// ErrRetryable covers transient provider failures.
	ErrRetryable = errors.New("scheduler retryable error")
	// ErrInvalidArgument covers bad caller arguments.
	ErrInvalidArgument = errors.New("scheduler invalid argument")
	// ErrNotInitialized covers use of an unconstructed component.
	ErrNotInitialized = errors.New("scheduler not initialized")
	// ErrClosed covers operations after shutdown.
	ErrClosed = errors.New("scheduler closed")
)

func schedulerError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
