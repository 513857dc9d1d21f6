package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dteflow/dteflow/pkg/observability/logger"
)

const defaultSIEMTimeout = 5 * time.Second

// SIEMConfig configures the HTTP event forwarder.
type SIEMConfig struct {
	Endpoint string
	Token    string
	Timeout  time.Duration
}

func (c *SIEMConfig) normalize() {
	if c.Timeout <= 0 {
		c.Timeout = defaultSIEMTimeout
	}
}

// SIEMSender posts audit events to a SIEM collector as JSON. Delivery is
// best effort; callers treat returned errors as log-only signals.
type SIEMSender struct {
	client *http.Client
	log    logger.Logger
	config SIEMConfig
}

// NewSIEMSender creates an HTTP forwarder.
func NewSIEMSender(cfg SIEMConfig, log logger.Logger) (*SIEMSender, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("siem endpoint is required")
	}
	cfg.normalize()
	return &SIEMSender{
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
		config: cfg,
	}, nil
}

// Send posts one event. A non-2xx response counts as failure.
func (s *SIEMSender) Send(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal siem event failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build siem request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(s.config.Token) != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post siem event failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("siem responded %d", resp.StatusCode)
	}
	return nil
}
