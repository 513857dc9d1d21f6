package jobs

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/dteflow/dteflow/pkg/observability/logger"
)

// Producer is the enqueue-side convenience API. It builds jobs from
// typed payloads and tags them with correlation IDs.
type Producer struct {
	backend Backend
	log     logger.Logger
	clock   Clock
}

// NewProducer creates a producer over a backend.
func NewProducer(backend Backend, log logger.Logger) (*Producer, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &Producer{backend: backend, log: log, clock: SystemClock{}}, nil
}

// Enqueue builds and stores a job for the queue matching the payload.
func (p *Producer) Enqueue(ctx context.Context, queue string, payload Payload, opts Options) (*Job, error) {
	if strings.TrimSpace(opts.CorrelationID) == "" {
		if fromCtx := logger.CorrelationIDFromContext(ctx); fromCtx != "" {
			opts.CorrelationID = fromCtx
		} else {
			opts.CorrelationID = uuid.NewString()
		}
	}

	job, err := NewJob(queue, payload, opts, p.clock)
	if err != nil {
		return nil, err
	}
	if err := p.backend.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	p.log.Debug("job enqueued",
		"queue", job.Queue, "job_id", job.ID, "kind", job.Kind,
		"tenant_id", job.TenantID, "correlation_id", job.CorrelationID,
		"priority", job.Priority, "run_at", job.RunAt)
	return job, nil
}

// EnqueueTransmission schedules a document transmission.
func (p *Producer) EnqueueTransmission(ctx context.Context, payload TransmissionPayload, opts Options) (*Job, error) {
	if strings.TrimSpace(opts.TenantID) == "" {
		opts.TenantID = payload.TenantID
	}
	return p.Enqueue(ctx, QueueTransmission, payload, opts)
}

// EnqueueSigning schedules a standalone signing job.
func (p *Producer) EnqueueSigning(ctx context.Context, payload SigningPayload, opts Options) (*Job, error) {
	return p.Enqueue(ctx, QueueSigning, payload, opts)
}

// EnqueueNotification schedules a notification delivery.
func (p *Producer) EnqueueNotification(ctx context.Context, payload NotificationPayload, opts Options) (*Job, error) {
	if strings.TrimSpace(opts.TenantID) == "" {
		opts.TenantID = payload.TenantID
	}
	return p.Enqueue(ctx, QueueNotification, payload, opts)
}
