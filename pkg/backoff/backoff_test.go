package backoff

import (
	"testing"
	"time"
)

func TestConstantDelay(t *testing.T) {
	s := NewConstant(5 * time.Second)
	for _, attempt := range []int{0, 1, 7, 100} {
		if got := s.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want 5s", attempt, got)
		}
	}
}

func TestExponentialDelayDoubles(t *testing.T) {
	s := NewExponential(time.Second, time.Hour)
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 1024 * time.Second},
	}
	for _, tt := range tests {
		if got := s.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponentialDelayCapped(t *testing.T) {
	s := NewExponential(time.Second, 30*time.Second)
	if got := s.Delay(10); got != 30*time.Second {
		t.Errorf("Delay(10) = %v, want cap of 30s", got)
	}
	// Extreme attempt counts must not overflow into negatives.
	if got := s.Delay(500); got != 30*time.Second {
		t.Errorf("Delay(500) = %v, want cap of 30s", got)
	}
}

func TestExponentialDefaultsWhenUnset(t *testing.T) {
	s := &Exponential{}
	if got := s.Delay(0); got != DefaultInitial {
		t.Errorf("Delay(0) with zero config = %v, want %v", got, DefaultInitial)
	}
}

func TestExponentialWithJitterBounds(t *testing.T) {
	s := NewExponentialWithJitter(time.Second, time.Minute)
	for attempt := 0; attempt < 8; attempt++ {
		upper := (&Exponential{Initial: time.Second, Max: time.Minute}).Delay(attempt)
		for i := 0; i < 50; i++ {
			got := s.Delay(attempt)
			if got < 0 || got > upper {
				t.Fatalf("Delay(%d) = %v outside [0, %v]", attempt, got, upper)
			}
		}
	}
}
