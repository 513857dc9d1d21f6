package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errDownstream = errors.New("downstream unavailable")

func failing(context.Context) error    { return errDownstream }
func succeeding(context.Context) error { return nil }

func TestCircuitOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, failing); !errors.Is(err, errDownstream) {
			t.Fatalf("attempt %d: got %v, want downstream error", i, err)
		}
	}
	if cb.CurrentState() != StateOpen {
		t.Fatalf("state = %v, want open", cb.CurrentState())
	}
	if err := cb.Execute(ctx, succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("open breaker executed anyway: %v", err)
	}
}

func TestCircuitHalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	if cb.CurrentState() != StateOpen {
		t.Fatalf("state = %v, want open", cb.CurrentState())
	}

	time.Sleep(20 * time.Millisecond)

	// Successful probe closes the circuit again.
	if err := cb.Execute(ctx, succeeding); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("state after probe = %v, want closed", cb.CurrentState())
	}
}

func TestCircuitHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	time.Sleep(20 * time.Millisecond)

	_ = cb.Execute(ctx, failing)
	if cb.CurrentState() != StateOpen {
		t.Errorf("state = %v, want reopened", cb.CurrentState())
	}
}

func TestCircuitSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, succeeding)
	_ = cb.Execute(ctx, failing)
	if cb.CurrentState() != StateClosed {
		t.Errorf("interleaved success should keep breaker closed, state = %v", cb.CurrentState())
	}
}

func TestCircuitReset(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Hour)
	_ = cb.Execute(context.Background(), failing)
	if cb.CurrentState() != StateOpen {
		t.Fatal("expected open breaker")
	}
	cb.Reset()
	if cb.CurrentState() != StateClosed {
		t.Error("Reset did not close the breaker")
	}
}
