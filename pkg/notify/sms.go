package notify

import (
	"context"
	"fmt"

	"github.com/dteflow/dteflow/pkg/jobs"
	"github.com/dteflow/dteflow/pkg/observability/logger"
)

// LogSMSSender records SMS notifications in the structured log instead of
// delivering them. It stands in until an SMS gateway is wired up, so SMS
// jobs complete instead of dead-lettering.
type LogSMSSender struct {
	log logger.Logger
}

// NewLogSMSSender creates the logging SMS sender.
func NewLogSMSSender(log logger.Logger) (*LogSMSSender, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &LogSMSSender{log: log}, nil
}

// Channel identifies the sender.
func (s *LogSMSSender) Channel() string { return jobs.ChannelSMS }

// Send logs the message at Info level.
func (s *LogSMSSender) Send(ctx context.Context, payload jobs.NotificationPayload) error {
	s.log.Info("sms notification",
		"recipient", payload.Recipient, "type", payload.Type,
		"tenant_id", payload.TenantID, "body", payload.Body)
	return nil
}

// Close releases nothing.
func (s *LogSMSSender) Close() error { return nil }
