package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dteflow/dteflow/pkg/jobs"
	"github.com/dteflow/dteflow/pkg/observability/logger"
)

// WebhookConfig configures the webhook sender.
type WebhookConfig struct {
	// Secret, when set, is sent as a bearer token on every callback.
	Secret  string
	Timeout time.Duration
}

func (c *WebhookConfig) normalize() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// WebhookSender posts notification callbacks to the recipient URL.
type WebhookSender struct {
	cfg    WebhookConfig
	client *http.Client
	log    logger.Logger
}

// NewWebhookSender creates an HTTP webhook sender.
func NewWebhookSender(cfg WebhookConfig, log logger.Logger) (*WebhookSender, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	cfg.normalize()
	return &WebhookSender{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}, nil
}

// Channel identifies the sender.
func (s *WebhookSender) Channel() string { return jobs.ChannelWebhook }

// webhookEnvelope is the JSON body posted to the recipient URL.
type webhookEnvelope struct {
	TenantID string            `json:"tenantId"`
	Type     string            `json:"type"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`
	SentAt   time.Time         `json:"sentAt"`
}

// Send posts the notification to the recipient, which must be an http or
// https URL.
func (s *WebhookSender) Send(ctx context.Context, payload jobs.NotificationPayload) error {
	target, err := url.Parse(strings.TrimSpace(payload.Recipient))
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		return notifyError(ErrDelivery, "webhook recipient must be an http(s) url")
	}

	body, err := json.Marshal(webhookEnvelope{
		TenantID: payload.TenantID,
		Type:     payload.Type,
		Body:     payload.Body,
		Metadata: payload.Metadata,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		return notifyError(ErrDelivery, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return notifyError(ErrDelivery, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(s.cfg.Secret) != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Secret)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return notifyError(ErrDelivery, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return notifyError(ErrDelivery, fmt.Sprintf("webhook responded %d", resp.StatusCode))
	}
	s.log.Debug("notification webhook delivered",
		"recipient", target.Host, "type", payload.Type, "tenant_id", payload.TenantID)
	return nil
}

// Close releases nothing; connections are pooled by the HTTP client.
func (s *WebhookSender) Close() error { return nil }
