package alerts

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/dteflow/dteflow/pkg/jobs"
	"github.com/dteflow/dteflow/pkg/observability/logger"
	"github.com/dteflow/dteflow/pkg/transmit"
)

const alertTestPassphrase = "prueba123"

func bundleExpiringIn(t *testing.T, lifetime time.Duration) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "FACTURADOR PRUEBAS S.A. DE C.V."},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(lifetime),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	bundle, err := pkcs12.Modern.Encode(key, cert, nil, alertTestPassphrase)
	if err != nil {
		t.Fatalf("encode pkcs12 bundle: %v", err)
	}
	return bundle
}

type alertFixture struct {
	checker *ExpiryChecker
	backend *jobs.MemoryBackend
}

func newAlertFixture(t *testing.T, bundles map[string][]byte, watched []WatchedBundle) *alertFixture {
	t.Helper()
	backend, err := jobs.NewMemoryBackend(jobs.MemoryBackendConfig{}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewMemoryBackend: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })

	producer, err := jobs.NewProducer(backend, logger.NewNop())
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}

	keys := transmit.NewMemoryKeyStore()
	for ref, bundle := range bundles {
		keys.Put(ref, bundle, alertTestPassphrase)
	}

	checker, err := NewExpiryChecker(keys, nil, producer, watched, ExpiryConfig{
		WarningWindow: 30 * 24 * time.Hour,
		Recipient:     "ops@example.com",
	}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewExpiryChecker: %v", err)
	}
	return &alertFixture{checker: checker, backend: backend}
}

func notificationWaiting(t *testing.T, backend *jobs.MemoryBackend) []jobs.NotificationPayload {
	t.Helper()
	stats, err := backend.Stats(context.Background(), jobs.QueueNotification)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	payloads := make([]jobs.NotificationPayload, 0, stats.Waiting)
	for i := int64(0); i < stats.Waiting; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		job, lease, err := backend.Reserve(ctx, jobs.QueueNotification, time.Minute)
		cancel()
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		var payload jobs.NotificationPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		payloads = append(payloads, payload)
		if err := backend.Ack(context.Background(), lease); err != nil {
			t.Fatalf("Ack: %v", err)
		}
	}
	return payloads
}

func TestSweepRaisesExpiringAlert(t *testing.T) {
	fx := newAlertFixture(t,
		map[string][]byte{"tenant-1/cert": bundleExpiringIn(t, 10*24*time.Hour)},
		[]WatchedBundle{{TenantID: "tenant-1", Ref: "tenant-1/cert"}},
	)

	if err := fx.checker.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	payloads := notificationWaiting(t, fx.backend)
	if len(payloads) != 1 {
		t.Fatalf("got %d notifications, want 1", len(payloads))
	}
	alert := payloads[0]
	if alert.Type != TypeCertificateExpiring {
		t.Errorf("type = %q, want %q", alert.Type, TypeCertificateExpiring)
	}
	if alert.TenantID != "tenant-1" || alert.Recipient != "ops@example.com" {
		t.Errorf("unexpected routing: %+v", alert)
	}
	if alert.Metadata["days_left"] != "9" && alert.Metadata["days_left"] != "10" {
		t.Errorf("days_left = %q, want about 10", alert.Metadata["days_left"])
	}
}

func TestSweepRaisesExpiredAlert(t *testing.T) {
	fx := newAlertFixture(t,
		map[string][]byte{"tenant-1/cert": bundleExpiringIn(t, -24*time.Hour)},
		[]WatchedBundle{{TenantID: "tenant-1", Ref: "tenant-1/cert"}},
	)

	if err := fx.checker.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	payloads := notificationWaiting(t, fx.backend)
	if len(payloads) != 1 {
		t.Fatalf("got %d notifications, want 1", len(payloads))
	}
	if payloads[0].Type != TypeCertificateExpired {
		t.Errorf("type = %q, want %q", payloads[0].Type, TypeCertificateExpired)
	}
}

func TestSweepStaysQuietOutsideWindow(t *testing.T) {
	fx := newAlertFixture(t,
		map[string][]byte{"tenant-1/cert": bundleExpiringIn(t, 365*24*time.Hour)},
		[]WatchedBundle{{TenantID: "tenant-1", Ref: "tenant-1/cert"}},
	)

	if err := fx.checker.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if payloads := notificationWaiting(t, fx.backend); len(payloads) != 0 {
		t.Errorf("got %d notifications, want none", len(payloads))
	}
}

func TestSweepSkipsBrokenBundleAndChecksTheRest(t *testing.T) {
	fx := newAlertFixture(t,
		map[string][]byte{
			"tenant-1/cert": []byte("not a pkcs12 container"),
			"tenant-2/cert": bundleExpiringIn(t, 5*24*time.Hour),
		},
		[]WatchedBundle{
			{TenantID: "tenant-1", Ref: "tenant-1/cert"},
			{TenantID: "tenant-2", Ref: "tenant-2/cert"},
		},
	)

	err := fx.checker.Sweep(context.Background())
	if err == nil {
		t.Fatal("expected error for the broken bundle")
	}
	payloads := notificationWaiting(t, fx.backend)
	if len(payloads) != 1 || payloads[0].TenantID != "tenant-2" {
		t.Fatalf("expected one alert for tenant-2, got %+v", payloads)
	}
}

func TestSweepAttributesFlatBundleToDefaultTenant(t *testing.T) {
	fx := newAlertFixture(t,
		map[string][]byte{"cert": bundleExpiringIn(t, 10*24*time.Hour)},
		[]WatchedBundle{{TenantID: "", Ref: "cert"}},
	)

	if err := fx.checker.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	payloads := notificationWaiting(t, fx.backend)
	if len(payloads) != 1 {
		t.Fatalf("got %d notifications, want 1", len(payloads))
	}
	alert := payloads[0]
	if alert.TenantID != DefaultAlertTenant {
		t.Errorf("tenant = %q, want %q", alert.TenantID, DefaultAlertTenant)
	}
	if alert.Type != TypeCertificateExpiring {
		t.Errorf("type = %q, want %q", alert.Type, TypeCertificateExpiring)
	}
}

func TestSweepHonorsConfiguredDefaultTenant(t *testing.T) {
	backend, err := jobs.NewMemoryBackend(jobs.MemoryBackendConfig{}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewMemoryBackend: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	producer, err := jobs.NewProducer(backend, logger.NewNop())
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	keys := transmit.NewMemoryKeyStore()
	keys.Put("cert", bundleExpiringIn(t, 24*time.Hour), alertTestPassphrase)

	checker, err := NewExpiryChecker(keys, nil, producer,
		[]WatchedBundle{{Ref: "cert"}},
		ExpiryConfig{Recipient: "ops@example.com", DefaultTenant: "platform"},
		logger.NewNop())
	if err != nil {
		t.Fatalf("NewExpiryChecker: %v", err)
	}

	if err := checker.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	payloads := notificationWaiting(t, backend)
	if len(payloads) != 1 {
		t.Fatalf("got %d notifications, want 1", len(payloads))
	}
	if payloads[0].TenantID != "platform" {
		t.Errorf("tenant = %q, want platform", payloads[0].TenantID)
	}
}
