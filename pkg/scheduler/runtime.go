// Package scheduler fires periodic maintenance sweeps, such as
// certificate expiry checks and dead-letter purges, coordinated across
// instances with distributed locks so each firing runs exactly once.
package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dteflow/dteflow/pkg/observability/logger"
)

const (
	DefaultRunTimeout = 60 * time.Second
	DefaultLockTTL    = 30 * time.Second
)

// Config controls scheduler runtime behavior.
type Config struct {
	// RunTimeout bounds one task execution.
	RunTimeout time.Duration
	// DefaultLockTTL applies to tasks that set no LockTTL of their own.
	DefaultLockTTL time.Duration
}

func (c *Config) normalize() {
	if c.RunTimeout <= 0 {
		c.RunTimeout = DefaultRunTimeout
	}
	if c.DefaultLockTTL <= 0 {
		c.DefaultLockTTL = DefaultLockTTL
	}
}

// Runtime fires registered tasks on their schedules under distributed locks.
type Runtime struct {
	lock LockProvider
	log  logger.Logger

	config Config

	mu      sync.Mutex
	tasks   map[string]Task
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRuntime creates a scheduler runtime.
func NewRuntime(lockProvider LockProvider, log logger.Logger, cfg Config) (*Runtime, error) {
	if lockProvider == nil {
		return nil, errors.New("lock provider is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	cfg.normalize()
	return &Runtime{
		lock:   lockProvider,
		log:    log,
		config: cfg,
		tasks:  map[string]Task{},
	}, nil
}

// Register adds a new scheduled task.
func (r *Runtime) Register(task Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[task.Name]; exists {
		return schedulerError(ErrConflict, fmt.Sprintf("task %q is already registered", task.Name))
	}
	r.tasks[task.Name] = task
	return nil
}

// Start runs all registered tasks until context cancellation.
func (r *Runtime) Start(ctx context.Context) error {
	if r == nil {
		return schedulerError(ErrNotInitialized, "scheduler runtime is not initialized")
	}
	if ctx == nil {
		return schedulerError(ErrInvalidArgument, "context is required")
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return schedulerError(ErrConflict, "scheduler already running")
	}
	runningCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	tasks := make([]Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		tasks = append(tasks, task)
	}
	r.mu.Unlock()

	if len(tasks) == 0 {
		return schedulerError(ErrValidation, "no scheduler tasks registered")
	}

	for _, task := range tasks {
		r.wg.Add(1)
		go r.runTaskLoop(runningCtx, task)
	}

	<-runningCtx.Done()
	return r.Stop(context.Background())
}

// Trigger fires one registered task immediately, outside its schedule.
// The firing still goes through the distributed lock.
func (r *Runtime) Trigger(ctx context.Context, name string) error {
	r.mu.Lock()
	task, exists := r.tasks[name]
	r.mu.Unlock()
	if !exists {
		return schedulerError(ErrNotFound, fmt.Sprintf("task %q is not registered", name))
	}
	return r.fireTask(ctx, task, time.Now().UTC())
}

// Stop requests scheduler shutdown and waits for active loops.
func (r *Runtime) Stop(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.cancel = nil
	r.running = false
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	waitCh := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-waitCh:
		return nil
	}
}

func (r *Runtime) runTaskLoop(ctx context.Context, task Task) {
	defer r.wg.Done()

	now := time.Now().UTC()
	for {
		nextRun, err := task.nextRun(now)
		if err != nil {
			r.log.Error("scheduler task has invalid schedule", "task", task.Name, "error", err)
			return
		}

		wait := time.Until(nextRun)
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := r.fireTask(ctx, task, nextRun); err != nil {
			r.log.Error("scheduler task failed", "task", task.Name, "error", err)
		}

		now = nextRun.Add(time.Second)
	}
}

// fireTask runs one firing under the task's distributed lock. Losing the
// lock race means another instance owns this firing.
func (r *Runtime) fireTask(ctx context.Context, task Task, firedAt time.Time) error {
	lockTTL := task.LockTTL
	if lockTTL <= 0 {
		lockTTL = r.config.DefaultLockTTL
	}

	lockKey := fmt.Sprintf("scheduler:%s:%d", task.Name, firedAt.Unix())
	lease, acquired, err := r.lock.Acquire(ctx, lockKey, lockTTL)
	if err != nil {
		recordSchedulerFire(task.Name, "lock_error")
		return fmt.Errorf("acquire lock failed: %w", err)
	}
	if !acquired {
		recordSchedulerFire(task.Name, "skipped")
		return nil
	}

	incrementSchedulerInFlight(task.Name)
	defer decrementSchedulerInFlight(task.Name)

	runCtx, cancel := context.WithTimeout(ctx, r.config.RunTimeout)
	defer cancel()

	runErr := task.Run(runCtx)

	var releaseErr error
	if lease != nil {
		releaseErr = r.lock.Release(ctx, lease)
	}

	if runErr != nil {
		recordSchedulerFire(task.Name, "error")
	} else {
		recordSchedulerFire(task.Name, "ok")
	}
	if runErr != nil || releaseErr != nil {
		return errors.Join(runErr, releaseErr)
	}
	return nil
}

func randomSchedulerID() string {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(raw)
}
