package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryLockProvider implements LockProvider for single-process
// deployments and tests. Locks are process-local.
type MemoryLockProvider struct {
	mu     sync.Mutex
	locks  map[string]memoryLock
	closed bool
}

type memoryLock struct {
	token    string
	expireAt time.Time
}

// NewMemoryLockProvider creates an in-process lock provider.
func NewMemoryLockProvider() *MemoryLockProvider {
	return &MemoryLockProvider{locks: map[string]memoryLock{}}
}

// Acquire takes the lock if it is free or expired.
func (p *MemoryLockProvider) Acquire(ctx context.Context, key string, ttl time.Duration) (*LockLease, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, schedulerError(ErrInvalidArgument, "lock key is required")
	}
	if ttl <= 0 {
		return nil, false, schedulerError(ErrInvalidArgument, "ttl must be > 0")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, false, ErrClosed
	}

	now := time.Now().UTC()
	if held, exists := p.locks[key]; exists && held.expireAt.After(now) {
		return nil, false, nil
	}

	token := randomSchedulerID()
	expireAt := now.Add(ttl)
	p.locks[key] = memoryLock{token: token, expireAt: expireAt}
	return &LockLease{Key: key, Token: token, ExpireAt: expireAt}, true, nil
}

// Renew extends the lease when the token still matches.
func (p *MemoryLockProvider) Renew(ctx context.Context, lease *LockLease, ttl time.Duration) error {
	if lease == nil {
		return schedulerError(ErrInvalidArgument, "lease is required")
	}
	if ttl <= 0 {
		return schedulerError(ErrInvalidArgument, "ttl must be > 0")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	held, exists := p.locks[lease.Key]
	if !exists || held.token != lease.Token || !held.expireAt.After(time.Now().UTC()) {
		return schedulerError(ErrConflict, "lock renew rejected")
	}
	held.expireAt = time.Now().UTC().Add(ttl)
	p.locks[lease.Key] = held
	lease.ExpireAt = held.expireAt
	return nil
}

// Release frees the lock when the token matches.
func (p *MemoryLockProvider) Release(ctx context.Context, lease *LockLease) error {
	if lease == nil {
		return schedulerError(ErrInvalidArgument, "lease is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	held, exists := p.locks[lease.Key]
	if !exists || held.token != lease.Token {
		return schedulerError(ErrConflict, "lock release rejected")
	}
	delete(p.locks, lease.Key)
	return nil
}

// HealthCheck always succeeds while the provider is open.
func (p *MemoryLockProvider) HealthCheck(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return nil
}

// Close marks the provider closed.
func (p *MemoryLockProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.locks = map[string]memoryLock{}
	return nil
}
