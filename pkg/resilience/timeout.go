// Package resilience holds small fault-tolerance primitives shared by the
// pipeline: attempt timeouts and a circuit breaker for the authority client.
package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when an operation exceeds its timeout.
var ErrTimeout = errors.New("operation timed out")

// WithTimeout executes fn under a deadline. fn receives a derived context
// and should honor its cancellation; when the deadline passes first,
// WithTimeout returns ErrTimeout without waiting for fn.
func WithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(timeoutCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return timeoutCtx.Err()
	}
}
