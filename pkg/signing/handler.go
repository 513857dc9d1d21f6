package signing

import (
	"context"
	"errors"
	"fmt"

	"github.com/dteflow/dteflow/pkg/jobs"
	"github.com/dteflow/dteflow/pkg/observability/logger"
)

// Handler processes standalone signing jobs on the signing queue.
type Handler struct {
	pool  *Pool
	audit jobs.AuditSink
	log   logger.Logger
}

// NewHandler creates a signing queue handler. audit may be nil.
func NewHandler(pool *Pool, audit jobs.AuditSink, log logger.Logger) (*Handler, error) {
	if pool == nil {
		return nil, errors.New("signer pool is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &Handler{pool: pool, audit: audit, log: log}, nil
}

// Handle is the jobs.Handler for the signing queue. Key and document
// defects are permanent; only pool unavailability is retryable.
func (h *Handler) Handle(ctx context.Context, job *jobs.Job) error {
	decoded, err := jobs.DecodePayload(job)
	if err != nil {
		return jobs.Permanent(err)
	}
	payload, ok := decoded.(jobs.SigningPayload)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected payload type %T on signing queue", decoded))
	}

	result, err := h.pool.Sign(ctx, Request{
		Document:   payload.DocumentObject,
		KeyBundle:  payload.KeyBundleBytes,
		Passphrase: payload.Passphrase,
	})
	if err != nil {
		return fmt.Errorf("signer pool failed: %w", err)
	}
	if !result.Success {
		h.recordAudit(ctx, "signing.failed", job, map[string]string{
			"error_kind": result.ErrorKind,
			"error":      result.Message,
		})
		return jobs.Permanent(result.Err())
	}

	h.log.Info("signing completed",
		"job_id", job.ID, "tenant_id", job.TenantID,
		"correlation_id", job.CorrelationID)
	h.recordAudit(ctx, "signing.completed", job, nil)
	return nil
}

func (h *Handler) recordAudit(ctx context.Context, action string, job *jobs.Job, extra map[string]string) {
	if h.audit == nil {
		return
	}
	fields := map[string]string{
		"job_id":    job.ID,
		"tenant_id": job.TenantID,
	}
	for key, value := range extra {
		fields[key] = value
	}
	h.audit.Record(ctx, action, fields)
}
