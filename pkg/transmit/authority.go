// Package transmit submits signed fiscal documents to the tax authority
// and classifies its responses for the retry machinery.
package transmit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dteflow/dteflow/pkg/observability/logger"
	"github.com/dteflow/dteflow/pkg/resilience"
)

const (
	defaultAuthorityTimeout  = 15 * time.Second
	defaultBreakerFailures   = 5
	defaultBreakerCooldown   = 30 * time.Second
	idempotencyKeyHeader     = "X-Idempotency-Key"
	authorityStatusAccepted  = "accepted"
	authorityStatusRejected  = "rejected"
	authorityStatusDuplicate = "duplicate"
)

// AuthorityConfig configures the external authority client.
type AuthorityConfig struct {
	Endpoint        string
	Token           string
	Timeout         time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

func (c *AuthorityConfig) normalize() {
	if c.Timeout <= 0 {
		c.Timeout = defaultAuthorityTimeout
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = defaultBreakerFailures
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = defaultBreakerCooldown
	}
}

// Receipt is the authority's answer to a submission.
type Receipt struct {
	Status    string `json:"status"`
	ReceiptID string `json:"receiptId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Submission carries one signed document to the authority.
type Submission struct {
	DocumentID     string `json:"documentId"`
	TenantID       string `json:"tenantId"`
	Token          string `json:"token"`
	IdempotencyKey string `json:"-"`
}

// Submitter is the slice of the authority client the handler depends on.
type Submitter interface {
	Submit(ctx context.Context, submission Submission) (*Receipt, error)
}

// AuthorityClient posts compact signed tokens to the authority endpoint.
// Transient failures trip a circuit breaker so a down authority does not
// soak up every worker attempt.
type AuthorityClient struct {
	client  *http.Client
	breaker *resilience.CircuitBreaker
	log     logger.Logger
	config  AuthorityConfig
}

// NewAuthorityClient creates a client for the authority endpoint.
func NewAuthorityClient(cfg AuthorityConfig, log logger.Logger) (*AuthorityClient, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("authority endpoint is required")
	}
	cfg.normalize()
	return &AuthorityClient{
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: resilience.NewCircuitBreaker(cfg.BreakerFailures, cfg.BreakerCooldown),
		log:     log,
		config:  cfg,
	}, nil
}

// Submit posts one signed document. Rejections come back as ErrRejected,
// transport and authority-side failures as ErrUnavailable. Duplicate
// submissions of the same idempotency key succeed with the original
// receipt.
func (c *AuthorityClient) Submit(ctx context.Context, submission Submission) (*Receipt, error) {
	if strings.TrimSpace(submission.DocumentID) == "" {
		return nil, errors.New("document id is required")
	}
	if strings.TrimSpace(submission.Token) == "" {
		return nil, errors.New("signed token is required")
	}

	var receipt *Receipt
	err := c.breaker.Execute(ctx, func(execCtx context.Context) error {
		result, postErr := c.post(execCtx, submission)
		if postErr != nil {
			return postErr
		}
		receipt = result
		return nil
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, transmitError(ErrUnavailable, "circuit open")
		}
		return nil, err
	}

	switch receipt.Status {
	case authorityStatusAccepted, authorityStatusDuplicate:
		return receipt, nil
	case authorityStatusRejected:
		return receipt, transmitError(ErrRejected, receipt.Message)
	default:
		return nil, transmitError(ErrUnavailable, "unexpected authority status "+receipt.Status)
	}
}

// post performs the HTTP exchange. Only transient failures return an
// error, so the breaker trips on availability problems but not on
// rejections.
func (c *AuthorityClient) post(ctx context.Context, submission Submission) (*Receipt, error) {
	body, err := json.Marshal(submission)
	if err != nil {
		return nil, fmt.Errorf("marshal submission failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build submission request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(submission.IdempotencyKey) != "" {
		req.Header.Set(idempotencyKeyHeader, submission.IdempotencyKey)
	}
	if strings.TrimSpace(c.config.Token) != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transmitError(ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, transmitError(ErrUnavailable, err.Error())
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		receipt := &Receipt{}
		if err := json.Unmarshal(raw, receipt); err != nil {
			return nil, transmitError(ErrUnavailable, "malformed authority response")
		}
		if receipt.Status == "" {
			receipt.Status = authorityStatusAccepted
		}
		return receipt, nil
	case resp.StatusCode == http.StatusConflict:
		// The authority already holds this document.
		receipt := &Receipt{Status: authorityStatusDuplicate}
		_ = json.Unmarshal(raw, receipt)
		receipt.Status = authorityStatusDuplicate
		return receipt, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		receipt := &Receipt{Status: authorityStatusRejected}
		_ = json.Unmarshal(raw, receipt)
		receipt.Status = authorityStatusRejected
		if receipt.Message == "" {
			receipt.Message = strings.TrimSpace(string(raw))
		}
		return receipt, nil
	default:
		return nil, transmitError(ErrUnavailable, fmt.Sprintf("authority responded %d", resp.StatusCode))
	}
}

// BreakerState exposes the circuit state for health reporting.
func (c *AuthorityClient) BreakerState() resilience.State {
	return c.breaker.CurrentState()
}
