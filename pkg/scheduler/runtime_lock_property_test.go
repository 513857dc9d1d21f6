package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/dteflow/dteflow/pkg/observability/logger"
)

type scriptedLockProvider struct {
	mu       sync.Mutex
	outcomes []bool
	index    int
	acquires int
	releases int
}

func newScriptedLockProvider(outcomes []bool) *scriptedLockProvider {
	copied := make([]bool, len(outcomes))
	copy(copied, outcomes)
	return &scriptedLockProvider{outcomes: copied}
}

func (p *scriptedLockProvider) Acquire(_ context.Context, key string, ttl time.Duration) (*LockLease, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquires++

	outcome := false
	if p.index < len(p.outcomes) {
		outcome = p.outcomes[p.index]
	}
	p.index++
	if !outcome {
		return nil, false, nil
	}

	return &LockLease{
		Key:      key,
		Token:    fmt.Sprintf("lease-%d", p.acquires),
		ExpireAt: time.Now().UTC().Add(ttl),
	}, true, nil
}

func (p *scriptedLockProvider) Renew(context.Context, *LockLease, time.Duration) error { return nil }

func (p *scriptedLockProvider) Release(context.Context, *LockLease) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releases++
	return nil
}

func (p *scriptedLockProvider) HealthCheck(context.Context) error { return nil }
func (p *scriptedLockProvider) Close() error                      { return nil }

func (p *scriptedLockProvider) stats() (acquires int, releases int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquires, p.releases
}

func TestRuntime_Property_FiringCountMatchesAcquiredLocks(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	properties.Property("tasks run and locks release only when the lock is acquired", prop.ForAll(
		func(outcomes []bool) bool {
			lockProvider := newScriptedLockProvider(outcomes)

			runtime, err := NewRuntime(lockProvider, logger.NewNop(), Config{})
			if err != nil {
				return false
			}

			var fired atomic.Int64
			task := Task{
				Name:     "certificate-expiry-sweep",
				Schedule: "@every 1h",
				LockTTL:  150 * time.Millisecond,
				Run: func(ctx context.Context) error {
					fired.Add(1)
					return nil
				},
			}

			for idx := range outcomes {
				firedAt := time.Unix(int64(idx+1), 0).UTC()
				if err := runtime.fireTask(context.Background(), task, firedAt); err != nil {
					return false
				}
			}

			expectedFirings := 0
			for _, acquired := range outcomes {
				if acquired {
					expectedFirings++
				}
			}

			acquires, releases := lockProvider.stats()
			return acquires == len(outcomes) &&
				releases == expectedFirings &&
				fired.Load() == int64(expectedFirings)
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
