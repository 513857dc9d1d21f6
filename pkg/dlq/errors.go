package dlq

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies malformed entries or arguments.
	ErrValidation = errors.New("dlq validation error")
	// ErrNotFound classifies lookups for entries that are gone. Concurrent
	// retriers racing for the same entry see this error when they lose.
	ErrNotFound = errors.New("dlq entry not found")
	// ErrClosed classifies operations on a closed store.
	ErrClosed = errors.New("dlq store closed")
)

func dlqError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
