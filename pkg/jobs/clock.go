package jobs

import "time"

// Clock abstracts wall-clock reads so delayed-job due times and lease
// expiries are testable without real waits.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
