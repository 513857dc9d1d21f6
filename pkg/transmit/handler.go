package transmit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/dteflow/dteflow/pkg/canonical"
	"github.com/dteflow/dteflow/pkg/jobs"
	"github.com/dteflow/dteflow/pkg/observability/logger"
	"github.com/dteflow/dteflow/pkg/signing"
)

// Handler processes transmission jobs: resolve the tenant's key bundle,
// canonicalize and sign the document, submit it to the authority, and
// record the outcome.
type Handler struct {
	keys      KeyStore
	pool      *signing.Pool
	authority Submitter
	audit     jobs.AuditSink
	log       logger.Logger

	mu        sync.Mutex
	submitted map[string]string
}

// NewHandler creates a transmission handler. audit may be nil.
func NewHandler(keys KeyStore, pool *signing.Pool, authority Submitter, audit jobs.AuditSink, log logger.Logger) (*Handler, error) {
	if keys == nil {
		return nil, errors.New("key store is required")
	}
	if pool == nil {
		return nil, errors.New("signer pool is required")
	}
	if authority == nil {
		return nil, errors.New("authority client is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &Handler{
		keys:      keys,
		pool:      pool,
		authority: authority,
		audit:     audit,
		log:       log,
		submitted: map[string]string{},
	}, nil
}

// Handle is the jobs.Handler for the transmission queue.
func (h *Handler) Handle(ctx context.Context, job *jobs.Job) error {
	decoded, err := jobs.DecodePayload(job)
	if err != nil {
		return jobs.Permanent(err)
	}
	payload, ok := decoded.(jobs.TransmissionPayload)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected payload type %T on transmission queue", decoded))
	}

	canonicalBytes, err := canonical.Marshal(payload.DocumentObject)
	if err != nil {
		// A document that cannot canonicalize will never sign.
		return jobs.Permanent(fmt.Errorf("canonicalize document failed: %w", err))
	}
	idempotencyKey := submissionKey(canonicalBytes)

	// A retried job whose previous attempt was accepted but not settled
	// must not create a second submission.
	if receiptID, done := h.alreadySubmitted(idempotencyKey); done {
		h.log.Info("transmission already submitted, skipping",
			"document_id", payload.DocumentID, "tenant_id", payload.TenantID,
			"receipt_id", receiptID)
		return nil
	}

	bundle, err := h.keys.Fetch(ctx, payload.KeyBundleRef)
	if err != nil {
		if errors.Is(err, ErrKeyBundleUnresolved) {
			return jobs.Permanent(err)
		}
		return err
	}

	result, err := h.pool.Sign(ctx, signing.Request{
		Document:   payload.DocumentObject,
		KeyBundle:  bundle.Bundle,
		Passphrase: bundle.Passphrase,
	})
	if err != nil {
		return fmt.Errorf("signer pool failed: %w", err)
	}
	if !result.Success {
		signErr := result.Err()
		h.recordAudit(ctx, "transmission.signing_failed", payload, map[string]string{
			"error_kind": result.ErrorKind,
			"error":      result.Message,
		})
		// Bad bundles and broken keys do not heal on retry.
		return jobs.Permanent(signErr)
	}

	receipt, err := h.authority.Submit(ctx, Submission{
		DocumentID:     payload.DocumentID,
		TenantID:       payload.TenantID,
		Token:          result.Token,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		if errors.Is(err, ErrRejected) {
			h.recordAudit(ctx, "transmission.rejected", payload, map[string]string{
				"reason": receiptMessage(receipt),
			})
			return jobs.Permanent(err)
		}
		return err
	}

	h.markSubmitted(idempotencyKey, receipt.ReceiptID)
	h.log.Info("transmission accepted",
		"document_id", payload.DocumentID, "tenant_id", payload.TenantID,
		"receipt_id", receipt.ReceiptID, "correlation_id", job.CorrelationID)
	h.recordAudit(ctx, "transmission.accepted", payload, map[string]string{
		"receipt_id": receipt.ReceiptID,
	})
	return nil
}

func (h *Handler) alreadySubmitted(key string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	receiptID, ok := h.submitted[key]
	return receiptID, ok
}

func (h *Handler) markSubmitted(key, receiptID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.submitted[key] = receiptID
}

func (h *Handler) recordAudit(ctx context.Context, action string, payload jobs.TransmissionPayload, extra map[string]string) {
	if h.audit == nil {
		return
	}
	fields := map[string]string{
		"document_id": payload.DocumentID,
		"tenant_id":   payload.TenantID,
	}
	for key, value := range extra {
		fields[key] = value
	}
	h.audit.Record(ctx, action, fields)
}

func submissionKey(canonicalBytes []byte) string {
	sum := sha256.Sum256(canonicalBytes)
	return hex.EncodeToString(sum[:])
}

func receiptMessage(receipt *Receipt) string {
	if receipt == nil {
		return ""
	}
	return receipt.Message
}
