// Package alerts watches signing credentials and raises operator
// notifications before certificates expire.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dteflow/dteflow/pkg/jobs"
	"github.com/dteflow/dteflow/pkg/observability/logger"
	"github.com/dteflow/dteflow/pkg/scheduler"
	"github.com/dteflow/dteflow/pkg/signing"
	"github.com/dteflow/dteflow/pkg/transmit"
)

const (
	// DefaultWarningWindow is how far ahead of expiry alerts start.
	DefaultWarningWindow = 30 * 24 * time.Hour
	// DefaultSchedule fires the sweep once a day.
	DefaultSchedule = "@every 24h"

	// TypeCertificateExpiring is raised inside the warning window.
	TypeCertificateExpiring = "certificate.expiring"
	// TypeCertificateExpired is raised once the certificate is past NotAfter.
	TypeCertificateExpired = "certificate.expired"

	// DefaultAlertTenant attributes alerts for bundles that are not
	// nested under a tenant directory.
	DefaultAlertTenant = "system"
)

// WatchedBundle names one tenant credential the sweep inspects.
type WatchedBundle struct {
	TenantID string
	Ref      string
}

// ExpiryConfig configures the certificate expiry sweep.
type ExpiryConfig struct {
	WarningWindow time.Duration
	// Recipient receives the alert notifications.
	Recipient string
	// Channel selects the notification sender. Defaults to email.
	Channel string
	// DefaultTenant attributes alerts for bundles without a tenant of
	// their own. Defaults to DefaultAlertTenant.
	DefaultTenant string
	Clock         jobs.Clock
}

func (c *ExpiryConfig) normalize() {
	if c.WarningWindow <= 0 {
		c.WarningWindow = DefaultWarningWindow
	}
	if strings.TrimSpace(c.Channel) == "" {
		c.Channel = jobs.ChannelEmail
	}
	if strings.TrimSpace(c.DefaultTenant) == "" {
		c.DefaultTenant = DefaultAlertTenant
	}
	if c.Clock == nil {
		c.Clock = jobs.SystemClock{}
	}
}

// ExpiryChecker sweeps watched key bundles and enqueues notifications
// for certificates near or past expiry.
type ExpiryChecker struct {
	keys        transmit.KeyStore
	passphrases map[string]string
	producer    *jobs.Producer
	log         logger.Logger
	config      ExpiryConfig

	bundles []WatchedBundle
}

// NewExpiryChecker creates a certificate expiry checker. passphrases maps
// bundle refs to their container passphrases.
func NewExpiryChecker(keys transmit.KeyStore, passphrases map[string]string, producer *jobs.Producer, bundles []WatchedBundle, cfg ExpiryConfig, log logger.Logger) (*ExpiryChecker, error) {
	if keys == nil {
		return nil, errors.New("key store is required")
	}
	if producer == nil {
		return nil, errors.New("producer is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if strings.TrimSpace(cfg.Recipient) == "" {
		return nil, errors.New("alert recipient is required")
	}
	cfg.normalize()

	copied := make(map[string]string, len(passphrases))
	for ref, pass := range passphrases {
		copied[ref] = pass
	}
	return &ExpiryChecker{
		keys:        keys,
		passphrases: copied,
		producer:    producer,
		log:         log,
		config:      cfg,
		bundles:     append([]WatchedBundle(nil), bundles...),
	}, nil
}

// Sweep inspects every watched bundle once. Bundles that fail to resolve
// or parse are logged and skipped so one broken credential does not hide
// the expiry state of the others.
func (c *ExpiryChecker) Sweep(ctx context.Context) error {
	now := c.config.Clock.Now().UTC()
	var errs []error
	for _, watched := range c.bundles {
		if err := c.checkBundle(ctx, watched, now); err != nil {
			c.log.Warn("certificate expiry check failed",
				"tenant_id", watched.TenantID, "ref", watched.Ref, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", watched.Ref, err))
		}
	}
	return errors.Join(errs...)
}

func (c *ExpiryChecker) checkBundle(ctx context.Context, watched WatchedBundle, now time.Time) error {
	bundle, err := c.keys.Fetch(ctx, watched.Ref)
	if err != nil {
		return err
	}
	passphrase := bundle.Passphrase
	if passphrase == "" {
		passphrase = c.passphrases[watched.Ref]
	}

	material, err := signing.ParseKeyBundle(bundle.Bundle, passphrase)
	if err != nil {
		return err
	}
	if material.Certificate == nil {
		return errors.New("bundle holds no certificate")
	}

	notAfter := material.Certificate.NotAfter.UTC()
	remaining := notAfter.Sub(now)
	if remaining > c.config.WarningWindow {
		return nil
	}

	alertType := TypeCertificateExpiring
	if remaining <= 0 {
		alertType = TypeCertificateExpired
	}
	daysLeft := int(remaining.Hours() / 24)
	if daysLeft < 0 {
		daysLeft = 0
	}

	// Flat key layouts leave the tenant blank; the alert still has to
	// reach the recipient, so it is attributed to the default tenant.
	tenantID := strings.TrimSpace(watched.TenantID)
	if tenantID == "" {
		tenantID = c.config.DefaultTenant
	}

	payload := jobs.NotificationPayload{
		TenantID:  tenantID,
		Type:      alertType,
		Channel:   c.config.Channel,
		Recipient: c.config.Recipient,
		Body:      expiryBody(watched, tenantID, material.Certificate.Subject.CommonName, notAfter, remaining),
		Metadata: map[string]string{
			"ref":       watched.Ref,
			"not_after": notAfter.Format(time.RFC3339),
			"days_left": strconv.Itoa(daysLeft),
		},
	}
	if _, err := c.producer.EnqueueNotification(ctx, payload, jobs.Options{TenantID: tenantID}); err != nil {
		return fmt.Errorf("enqueue alert failed: %w", err)
	}

	c.log.Info("certificate expiry alert raised",
		"tenant_id", tenantID, "ref", watched.Ref,
		"type", alertType, "not_after", notAfter, "days_left", daysLeft)
	return nil
}

func expiryBody(watched WatchedBundle, tenantID, commonName string, notAfter time.Time, remaining time.Duration) string {
	if remaining <= 0 {
		return fmt.Sprintf("The signing certificate %q for tenant %s (ref %s) expired on %s. Document transmission for this tenant will be rejected until the certificate is replaced.",
			commonName, tenantID, watched.Ref, notAfter.Format("2006-01-02"))
	}
	return fmt.Sprintf("The signing certificate %q for tenant %s (ref %s) expires on %s. Replace it before then to keep document transmission running.",
		commonName, tenantID, watched.Ref, notAfter.Format("2006-01-02"))
}

// Task wraps the sweep as a scheduler task. An empty schedule uses the
// daily default.
func (c *ExpiryChecker) Task(schedule string) scheduler.Task {
	if strings.TrimSpace(schedule) == "" {
		schedule = DefaultSchedule
	}
	return scheduler.Task{
		Name:     "certificate-expiry-sweep",
		Schedule: schedule,
		Run:      c.Sweep,
	}
}
