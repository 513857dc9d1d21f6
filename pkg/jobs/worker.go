package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/dteflow/dteflow/pkg/backoff"
	"github.com/dteflow/dteflow/pkg/observability/logger"
	"github.com/dteflow/dteflow/pkg/resilience"
)

const (
	DefaultWorkerReserveTimeout = time.Second
	DefaultWorkerStopTimeout    = 10 * time.Second
	DefaultWorkerAttemptTimeout = 30 * time.Second
)

// Handler processes one job attempt. Returning nil settles the job as
// completed. Returning an error wrapped with Permanent skips remaining
// retries.
type Handler func(ctx context.Context, job *Job) error

// DeadLetterer captures jobs that exhausted their attempts. Implemented
// by the dead-letter store service. stackTrace is empty unless the final
// failure was a recovered panic.
type DeadLetterer interface {
	Capture(ctx context.Context, job *Job, reason, stackTrace string) error
}

// AuditSink receives worker lifecycle events for the audit trail.
type AuditSink interface {
	Record(ctx context.Context, event string, fields map[string]string)
}

// WorkerConfig configures worker lifecycle and concurrency.
type WorkerConfig struct {
	Queues         []string
	Concurrency    int
	LeaseTTL       time.Duration
	ReserveTimeout time.Duration
	StopTimeout    time.Duration
	AttemptTimeout time.Duration
	Backoff        backoff.Strategy
}

func (c *WorkerConfig) normalize() {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = DefaultLeaseTTL
	}
	if c.ReserveTimeout <= 0 {
		c.ReserveTimeout = DefaultWorkerReserveTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultWorkerStopTimeout
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultWorkerAttemptTimeout
	}
	if c.Backoff == nil {
		c.Backoff = backoff.Default()
	}
}

// Worker defines a background jobs worker lifecycle.
type Worker interface {
	Register(kind string, handler Handler) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// RuntimeWorker processes jobs from backend queues with retries and
// dead-letter capture.
type RuntimeWorker struct {
	backend Backend
	dlq     DeadLetterer
	audit   AuditSink
	log     logger.Logger
	clock   Clock
	config  WorkerConfig

	mu       sync.RWMutex
	handlers map[string]Handler

	lifecycleMu sync.Mutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// WorkerOption customizes worker construction.
type WorkerOption func(*RuntimeWorker)

// WithDeadLetterer routes exhausted jobs to a dead-letter store.
func WithDeadLetterer(dlq DeadLetterer) WorkerOption {
	return func(w *RuntimeWorker) { w.dlq = dlq }
}

// WithAuditSink records terminal job outcomes in the audit trail.
func WithAuditSink(sink AuditSink) WorkerOption {
	return func(w *RuntimeWorker) { w.audit = sink }
}

// WithClock overrides the time source, mainly for tests.
func WithClock(clock Clock) WorkerOption {
	return func(w *RuntimeWorker) { w.clock = clock }
}

// NewWorker creates a worker from backend plus configuration.
func NewWorker(backend Backend, log logger.Logger, cfg WorkerConfig, opts ...WorkerOption) (*RuntimeWorker, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()
	if len(cfg.Queues) == 0 {
		return nil, errors.New("at least one queue is required")
	}

	queues := make([]string, 0, len(cfg.Queues))
	for _, queue := range cfg.Queues {
		trimmed := strings.TrimSpace(queue)
		if trimmed == "" {
			continue
		}
		if !IsKnownQueue(trimmed) {
			return nil, jobsError(ErrUnknownQueue, trimmed)
		}
		queues = append(queues, trimmed)
	}
	if len(queues) == 0 {
		return nil, errors.New("at least one non-empty queue is required")
	}
	cfg.Queues = queues

	worker := &RuntimeWorker{
		backend:  backend,
		log:      log,
		clock:    SystemClock{},
		config:   cfg,
		handlers: map[string]Handler{},
	}
	for _, opt := range opts {
		opt(worker)
	}
	if worker.clock == nil {
		worker.clock = SystemClock{}
	}
	return worker, nil
}

// Register binds a handler to a job kind.
func (w *RuntimeWorker) Register(kind string, handler Handler) error {
	if w == nil {
		return errors.New("worker is not initialized")
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return errors.New("job kind is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[kind] = handler
	return nil
}

// Start launches worker loops and blocks until context cancellation.
func (w *RuntimeWorker) Start(ctx context.Context) error {
	if w == nil {
		return errors.New("worker is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	w.lifecycleMu.Lock()
	if w.running {
		w.lifecycleMu.Unlock()
		return errors.New("worker already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.lifecycleMu.Unlock()

	for _, queue := range w.config.Queues {
		for idx := 0; idx < w.config.Concurrency; idx++ {
			w.wg.Add(1)
			go w.runQueueLoop(runCtx, queue)
		}
	}

	<-runCtx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), w.config.StopTimeout)
	defer stopCancel()
	return w.Stop(stopCtx)
}

// Stop requests graceful shutdown and waits for in-flight attempts to
// finish.
func (w *RuntimeWorker) Stop(ctx context.Context) error {
	if w == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	w.lifecycleMu.Lock()
	if !w.running {
		w.lifecycleMu.Unlock()
		return nil
	}
	cancel := w.cancel
	w.cancel = nil
	w.running = false
	w.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}

	waitCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-waitCh:
		return nil
	}
}

func (w *RuntimeWorker) runQueueLoop(ctx context.Context, queue string) {
	defer w.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		reserveCtx, cancel := context.WithTimeout(ctx, w.config.ReserveTimeout)
		job, lease, err := w.backend.Reserve(reserveCtx, queue, w.config.LeaseTTL)
		cancel()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			w.log.Warn("jobs reserve failed", "queue", queue, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}
		if job == nil || lease == nil {
			continue
		}

		incrementJobInFlight(queue)
		if err := w.process(ctx, job, lease); err != nil {
			w.log.Warn("jobs processing failed",
				"queue", queue, "job_id", job.ID, "kind", job.Kind,
				"correlation_id", job.CorrelationID, "error", err)
			recordJobProcessed(queue, job.Kind, "error")
		}
		decrementJobInFlight(queue)
	}
}

func (w *RuntimeWorker) process(ctx context.Context, job *Job, lease *Lease) error {
	handler, found := w.lookupHandler(job.Kind)
	if !found {
		// No handler will ever appear mid-flight, so retrying is pointless.
		missingHandlerErr := Permanent(fmt.Errorf("handler not registered for job kind %q", job.Kind))
		return w.handleFailure(ctx, job, lease, missingHandlerErr)
	}

	started := w.clock.Now()
	execErr := w.executeHandler(ctx, job, handler)
	recordAttemptDuration(job.Queue, job.Kind, w.clock.Now().Sub(started).Seconds())

	if execErr != nil {
		return w.handleFailure(ctx, job, lease, execErr)
	}

	if err := w.backend.Ack(ctx, lease); err != nil {
		return fmt.Errorf("ack failed: %w", err)
	}
	recordJobProcessed(job.Queue, job.Kind, "success")
	return nil
}

func (w *RuntimeWorker) executeHandler(ctx context.Context, job *Job, handler Handler) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()

	return resilience.WithTimeout(ctx, w.config.AttemptTimeout, func(runCtx context.Context) error {
		return handler(logger.ContextWithCorrelationID(runCtx, job.CorrelationID), job)
	})
}

func (w *RuntimeWorker) handleFailure(ctx context.Context, job *Job, lease *Lease, failure error) error {
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	// Backends increment Attempt when they requeue on Nack, so the count
	// of attempts already made is Attempt+1.
	attemptsMade := job.Attempt + 1
	if !IsPermanent(failure) && attemptsMade < maxAttempts {
		nextRun := w.clock.Now().UTC().Add(w.config.Backoff.Delay(attemptsMade))
		if err := w.backend.Nack(ctx, lease, nextRun, failure); err != nil {
			return fmt.Errorf("nack failed: %w", err)
		}
		recordJobRetry(job.Queue, job.Kind)
		recordJobProcessed(job.Queue, job.Kind, "retry")
		return nil
	}

	return w.deadLetter(ctx, job, lease, failure)
}

func (w *RuntimeWorker) deadLetter(ctx context.Context, job *Job, lease *Lease, failure error) error {
	reason := "unknown"
	if failure != nil {
		reason = failure.Error()
	}
	var stackTrace string
	var panicked *PanicError
	if errors.As(failure, &panicked) {
		stackTrace = string(panicked.Stack)
	}

	if w.dlq != nil {
		// Capture before settling so the job survives a crash in between.
		// A duplicate dead-letter entry is preferable to a lost job.
		if err := w.dlq.Capture(ctx, job, reason, stackTrace); err != nil {
			return fmt.Errorf("dead-letter capture failed: %w", errors.Join(err, failure))
		}
	}
	if err := w.backend.Fail(ctx, lease, failure); err != nil {
		return fmt.Errorf("fail settle failed: %w", err)
	}

	recordJobDeadLettered(job.Queue, job.Kind)
	recordJobProcessed(job.Queue, job.Kind, "dead_lettered")
	w.log.Error("job exhausted attempts, dead-lettered",
		"queue", job.Queue, "job_id", job.ID, "kind", job.Kind,
		"tenant_id", job.TenantID, "correlation_id", job.CorrelationID,
		"attempt", job.Attempt, "reason", reason)
	if w.audit != nil {
		w.audit.Record(ctx, "job_moved_to_dlq", map[string]string{
			"queue":          job.Queue,
			"job_id":         job.ID,
			"kind":           job.Kind,
			"tenant_id":      job.TenantID,
			"correlation_id": job.CorrelationID,
			"reason":         reason,
		})
	}
	return nil
}

func (w *RuntimeWorker) lookupHandler(kind string) (Handler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	handler, ok := w.handlers[strings.TrimSpace(kind)]
	return handler, ok
}
