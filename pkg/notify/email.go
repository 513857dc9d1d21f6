package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/dteflow/dteflow/pkg/jobs"
	"github.com/dteflow/dteflow/pkg/observability/logger"
)

type smtpSendMailFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// EmailConfig configures the SMTP-backed email sender.
type EmailConfig struct {
	Host             string
	Port             int
	Username         string
	Password         string
	From             string
	OperationTimeout time.Duration
}

func (c *EmailConfig) normalize() {
	if c.Port <= 0 {
		c.Port = 587
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 10 * time.Second
	}
}

// EmailSender delivers email notifications over SMTP.
type EmailSender struct {
	cfg      EmailConfig
	log      logger.Logger
	sendMail smtpSendMailFunc
}

// NewEmailSender creates an SMTP email sender.
func NewEmailSender(cfg EmailConfig, log logger.Logger) (*EmailSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	cfg.normalize()
	return &EmailSender{cfg: cfg, log: log, sendMail: smtp.SendMail}, nil
}

// Channel identifies the sender.
func (s *EmailSender) Channel() string { return jobs.ChannelEmail }

// Send delivers one notification as a plain-text email. The subject comes
// from the payload metadata when present, otherwise from the notification
// type.
func (s *EmailSender) Send(ctx context.Context, payload jobs.NotificationPayload) error {
	subject := payload.Metadata["subject"]
	if strings.TrimSpace(subject) == "" {
		subject = payload.Type
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	raw := buildPlainTextMessage(s.cfg.From, payload.Recipient, subject, payload.Body)

	var auth smtp.Auth
	if strings.TrimSpace(s.cfg.Username) != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	// smtp.SendMail has no context support; the dial timeout inside the
	// net/smtp default transport bounds the call in practice.
	if err := s.sendMail(addr, auth, s.cfg.From, []string{payload.Recipient}, raw); err != nil {
		return notifyError(ErrDelivery, err.Error())
	}
	s.log.Debug("notification email sent",
		"recipient", payload.Recipient, "type", payload.Type, "tenant_id", payload.TenantID)
	return nil
}

// Close releases nothing; SMTP connections are per-send.
func (s *EmailSender) Close() error { return nil }

func buildPlainTextMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
