package scheduler

import (
	"strings"
	"time"

	"github.com/dteflow/dteflow/pkg/health"
)

const defaultLockProviderHealthCheckName = "scheduler-lock-provider"

// NewLockProviderHealthChecker exposes a lock provider on the health
// registry so a broken lock backend degrades /ready.
func NewLockProviderHealthChecker(name string, provider LockProvider, timeout time.Duration) health.Checker {
	checkName := strings.TrimSpace(name)
	if checkName == "" {
		checkName = defaultLockProviderHealthCheckName
	}
	return health.NewAdapterChecker(checkName, provider, timeout)
}
