package scheduler

import (
	"context"
	"time"
)

// LockLease is proof of lock ownership. The token guards release and
// renew against a lock that expired and was re-acquired elsewhere.
type LockLease struct {
	Key      string
	Token    string
	ExpireAt time.Time
}

// LockProvider arbitrates task firings across instances: exactly one
// Acquire per key succeeds until the lease expires or is released.
type LockProvider interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*LockLease, bool, error)
	Renew(ctx context.Context, lease *LockLease, ttl time.Duration) error
	Release(ctx context.Context, lease *LockLease) error
	HealthCheck(ctx context.Context) error
	Close() error
}
