package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/dteflow/dteflow/pkg/jobs"
	"github.com/dteflow/dteflow/pkg/observability/logger"
)

// Handler routes notification jobs to the sender registered for their
// channel.
type Handler struct {
	senders map[string]Sender
	audit   jobs.AuditSink
	log     logger.Logger
}

// NewHandler creates a notification handler over the given senders.
// audit may be nil.
func NewHandler(senders []Sender, audit jobs.AuditSink, log logger.Logger) (*Handler, error) {
	if len(senders) == 0 {
		return nil, errors.New("at least one sender is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	byChannel := make(map[string]Sender, len(senders))
	for _, sender := range senders {
		if sender == nil {
			return nil, errors.New("nil sender")
		}
		if _, dup := byChannel[sender.Channel()]; dup {
			return nil, fmt.Errorf("duplicate sender for channel %q", sender.Channel())
		}
		byChannel[sender.Channel()] = sender
	}
	return &Handler{senders: byChannel, audit: audit, log: log}, nil
}

// Handle is the jobs.Handler for the notification queue. Payload defects
// and unroutable channels are permanent; delivery failures are retried.
func (h *Handler) Handle(ctx context.Context, job *jobs.Job) error {
	decoded, err := jobs.DecodePayload(job)
	if err != nil {
		return jobs.Permanent(err)
	}
	payload, ok := decoded.(jobs.NotificationPayload)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected payload type %T on notification queue", decoded))
	}
	if err := payload.Validate(); err != nil {
		return jobs.Permanent(err)
	}

	sender, ok := h.senders[payload.Channel]
	if !ok {
		return jobs.Permanent(notifyError(ErrUnknownChannel, payload.Channel))
	}

	if err := sender.Send(ctx, payload); err != nil {
		h.log.Warn("notification delivery failed",
			"channel", payload.Channel, "type", payload.Type,
			"tenant_id", payload.TenantID, "error", err)
		return err
	}

	h.recordAudit(ctx, "notification.delivered", payload)
	return nil
}

// Close closes every sender, joining their errors.
func (h *Handler) Close() error {
	var errs []error
	for _, sender := range h.senders {
		if err := sender.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Handler) recordAudit(ctx context.Context, action string, payload jobs.NotificationPayload) {
	if h.audit == nil {
		return
	}
	h.audit.Record(ctx, action, map[string]string{
		"channel":   payload.Channel,
		"type":      payload.Type,
		"tenant_id": payload.TenantID,
	})
}
