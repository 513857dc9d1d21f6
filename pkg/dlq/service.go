package dlq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dteflow/dteflow/pkg/jobs"
	"github.com/dteflow/dteflow/pkg/observability/logger"
)

// DefaultRetention is how long dead letters are kept before purge sweeps
// remove them.
const DefaultRetention = 30 * 24 * time.Hour

// Enqueuer is the slice of the jobs backend the service needs to retry
// entries.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *jobs.Job) error
}

// ServiceConfig tunes retry and retention behavior.
type ServiceConfig struct {
	// Retention bounds entry lifetime for PurgeExpired. Defaults to 30 days.
	Retention time.Duration
}

func (c *ServiceConfig) normalize() {
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
}

// Service exposes dead letter operations over a Store: capture from the
// worker, operator-facing retry/discard, and retention purges.
type Service struct {
	store  Store
	queue  Enqueuer
	audit  jobs.AuditSink
	log    logger.Logger
	clock  jobs.Clock
	config ServiceConfig
}

// ServiceOption customizes service construction.
type ServiceOption func(*Service)

// WithAuditSink records capture/retry/discard events in the audit trail.
func WithAuditSink(sink jobs.AuditSink) ServiceOption {
	return func(s *Service) { s.audit = sink }
}

// WithClock overrides the time source, mainly for tests.
func WithClock(clock jobs.Clock) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

// NewService creates a dead letter service.
func NewService(store Store, queue Enqueuer, log logger.Logger, cfg ServiceConfig, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if queue == nil {
		return nil, errors.New("enqueuer is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()

	service := &Service{
		store:  store,
		queue:  queue,
		log:    log,
		clock:  jobs.SystemClock{},
		config: cfg,
	}
	for _, opt := range opts {
		opt(service)
	}
	if service.clock == nil {
		service.clock = jobs.SystemClock{}
	}
	return service, nil
}

// Capture persists a failed job as a dead letter entry. Implements the
// worker's DeadLetterer contract. stackTrace is empty unless the final
// failure was a recovered panic.
func (s *Service) Capture(ctx context.Context, job *jobs.Job, reason, stackTrace string) error {
	if job == nil {
		return dlqError(ErrValidation, "job is required")
	}

	entry := &Entry{
		ID:                uuid.NewString(),
		OriginQueue:       job.Queue,
		OriginalJobID:     job.ID,
		Kind:              job.Kind,
		PayloadSnapshot:   append([]byte(nil), job.Payload...),
		Error:             reason,
		StackTrace:        stackTrace,
		TenantID:          job.TenantID,
		CorrelationID:     job.CorrelationID,
		Priority:          job.Priority,
		AttemptsAtFailure: job.Attempt + 1,
		MaxAttempts:       job.MaxAttempts,
		FailedAt:          s.clock.Now().UTC(),
	}
	if err := s.store.Put(ctx, entry); err != nil {
		return fmt.Errorf("store dead letter failed: %w", err)
	}

	s.log.Info("dead letter captured",
		"entry_id", entry.ID, "origin_queue", entry.OriginQueue,
		"job_id", entry.OriginalJobID, "tenant_id", entry.TenantID,
		"reason", reason)
	s.recordAudit(ctx, "dlq.captured", entry)
	return nil
}

// Retry removes the entry and enqueues a fresh job on its origin queue.
// The new job starts at attempt zero with a lowered attempt budget and a
// bumped priority, so a repeatedly failing document cannot loop through
// the dead letter store forever at full cost.
//
// The delete happens before the enqueue. Of several concurrent retriers
// exactly one deletes the entry; the rest get ErrNotFound.
func (s *Service) Retry(ctx context.Context, id string) (*jobs.Job, error) {
	entry, err := s.store.Delete(ctx, id)
	if err != nil {
		return nil, err
	}

	maxAttempts := entry.MaxAttempts - 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	now := s.clock.Now().UTC()
	job := &jobs.Job{
		ID:      uuid.NewString(),
		Queue:   entry.OriginQueue,
		Kind:    entry.Kind,
		Payload: append([]byte(nil), entry.PayloadSnapshot...),
		Headers: map[string]string{
			jobs.HeaderManualRetry: "true",
			jobs.HeaderOriginQueue: entry.OriginQueue,
		},
		TenantID:      entry.TenantID,
		CorrelationID: entry.CorrelationID,
		Priority:      entry.Priority + 1,
		Attempt:       0,
		MaxAttempts:   maxAttempts,
		RunAt:         now,
		CreatedAt:     now,
	}

	if err := s.queue.Enqueue(ctx, job); err != nil {
		// Put the entry back so the failure is not destructive.
		if restoreErr := s.store.Put(ctx, entry); restoreErr != nil {
			return nil, errors.Join(
				fmt.Errorf("retry enqueue failed: %w", err),
				fmt.Errorf("restore entry failed: %w", restoreErr))
		}
		return nil, fmt.Errorf("retry enqueue failed: %w", err)
	}

	s.log.Info("dead letter retried",
		"entry_id", entry.ID, "origin_queue", entry.OriginQueue,
		"new_job_id", job.ID, "max_attempts", job.MaxAttempts,
		"priority", job.Priority)
	s.recordAudit(ctx, "dlq.retried", entry)
	return job, nil
}

// Discard removes the entry without re-enqueueing it.
func (s *Service) Discard(ctx context.Context, id string) (*Entry, error) {
	entry, err := s.store.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.Info("dead letter discarded",
		"entry_id", entry.ID, "origin_queue", entry.OriginQueue,
		"job_id", entry.OriginalJobID)
	s.recordAudit(ctx, "dlq.discarded", entry)
	return entry, nil
}

// PurgeOlderThan removes entries older than the given age.
func (s *Service) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	if age <= 0 {
		return 0, dlqError(ErrValidation, "purge age must be positive")
	}
	cutoff := s.clock.Now().UTC().Add(-age)
	removed, err := s.store.Purge(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.Info("dead letters purged", "removed", removed, "cutoff", cutoff)
	}
	return removed, nil
}

// PurgeExpired applies the configured retention.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.PurgeOlderThan(ctx, s.config.Retention)
}

// List returns entries newest first.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]*Entry, error) {
	return s.store.List(ctx, opts)
}

// Get returns one entry by id.
func (s *Service) Get(ctx context.Context, id string) (*Entry, error) {
	return s.store.Get(ctx, id)
}

// Stats groups counts and oldest failure age by origin queue.
func (s *Service) Stats(ctx context.Context) ([]QueueStats, error) {
	return s.store.Stats(ctx)
}

func (s *Service) recordAudit(ctx context.Context, event string, entry *Entry) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, event, map[string]string{
		"entry_id":       entry.ID,
		"origin_queue":   entry.OriginQueue,
		"job_id":         entry.OriginalJobID,
		"kind":           entry.Kind,
		"tenant_id":      entry.TenantID,
		"correlation_id": entry.CorrelationID,
		"reason":         entry.Error,
	})
}
