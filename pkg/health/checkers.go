package health

import (
	"context"
	"time"
)

const defaultCheckTimeout = 5 * time.Second

// Checkable is implemented by components exposing a simple error-based
// health probe, such as queue backends and datastores.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker wraps a Checkable into a named, timeout-bounded Checker.
type AdapterChecker struct {
	name    string
	adapter Checkable
	timeout time.Duration
}

// NewAdapterChecker creates a checker over any Checkable component.
func NewAdapterChecker(name string, adapter Checkable, timeout time.Duration) *AdapterChecker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &AdapterChecker{name: name, adapter: adapter, timeout: timeout}
}

func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.adapter.HealthCheck(checkCtx); err != nil {
		return CheckResult{
			Name:      c.name,
			Status:    StatusUnhealthy,
			Error:     err.Error(),
			Timestamp: time.Now(),
			Duration:  time.Since(start),
		}
	}
	return CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "OK",
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
}

func (c *AdapterChecker) Name() string { return c.name }

// CheckerFunc adapts a function returning (status, message, error) into
// a named Checker.
type CheckerFunc struct {
	name string
	fn   func(ctx context.Context) (Status, string, error)
}

// NewCheckerFunc creates a function-backed checker.
func NewCheckerFunc(name string, fn func(ctx context.Context) (Status, string, error)) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

func (c *CheckerFunc) Check(ctx context.Context) CheckResult {
	start := time.Now()
	status, message, err := c.fn(ctx)
	result := CheckResult{
		Name:      c.name,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

func (c *CheckerFunc) Name() string { return c.name }

// PingChecker always reports healthy. Used for liveness probes.
type PingChecker struct {
	name string
}

// NewPingChecker creates an always-healthy checker.
func NewPingChecker(name string) *PingChecker {
	return &PingChecker{name: name}
}

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	return CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "alive",
		Timestamp: time.Now(),
	}
}

func (c *PingChecker) Name() string { return c.name }
