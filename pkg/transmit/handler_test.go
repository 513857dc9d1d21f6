package transmit

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/dteflow/dteflow/pkg/jobs"
	"github.com/dteflow/dteflow/pkg/observability/logger"
	"github.com/dteflow/dteflow/pkg/signing"
)

const handlerTestPassphrase = "prueba123"

var (
	handlerKeyOnce   sync.Once
	handlerKeyBundle []byte
)

func testBundle(t *testing.T) []byte {
	t.Helper()
	handlerKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate rsa key: %v", err)
		}
		template := &x509.Certificate{
			SerialNumber: big.NewInt(1),
			Subject:      pkix.Name{CommonName: "FACTURADOR PRUEBAS S.A. DE C.V."},
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     time.Now().Add(365 * 24 * time.Hour),
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
		bundle, err := pkcs12.Modern.Encode(key, cert, nil, handlerTestPassphrase)
		if err != nil {
			t.Fatalf("encode pkcs12 bundle: %v", err)
		}
		handlerKeyBundle = bundle
	})
	if handlerKeyBundle == nil {
		t.Fatal("test bundle unavailable")
	}
	return handlerKeyBundle
}

type fakeSubmitter struct {
	mu          sync.Mutex
	submissions []Submission
	receipt     *Receipt
	err         error
}

func (f *fakeSubmitter) Submit(ctx context.Context, submission Submission) (*Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions = append(f.submissions, submission)
	if f.err != nil {
		return f.receipt, f.err
	}
	if f.receipt != nil {
		return f.receipt, nil
	}
	return &Receipt{Status: authorityStatusAccepted, ReceiptID: "rcpt-1"}, nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submissions)
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Record(ctx context.Context, event string, fields map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) has(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, got := range s.events {
		if got == event {
			return true
		}
	}
	return false
}

type handlerFixture struct {
	handler   *Handler
	authority *fakeSubmitter
	sink      *recordingSink
}

func newHandlerFixture(t *testing.T, passphrase string) *handlerFixture {
	t.Helper()
	pool, err := signing.NewPool(signing.PoolConfig{Size: 1}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	keys := NewMemoryKeyStore()
	keys.Put("tenant-1/cert", testBundle(t), passphrase)

	authority := &fakeSubmitter{}
	sink := &recordingSink{}
	handler, err := NewHandler(keys, pool, authority, sink, logger.NewNop())
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return &handlerFixture{handler: handler, authority: authority, sink: sink}
}

func transmissionJob(t *testing.T, documentID string) *jobs.Job {
	t.Helper()
	job, err := jobs.NewJob(jobs.QueueTransmission, jobs.TransmissionPayload{
		TenantID:     "tenant-1",
		DocumentID:   documentID,
		KeyBundleRef: "tenant-1/cert",
		DocumentObject: map[string]any{
			"identificacion": map[string]any{"codigoGeneracion": documentID},
			"resumen":        map[string]any{"totalPagar": 113.0},
		},
	}, jobs.Options{TenantID: "tenant-1"}, nil)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	return job
}

func TestHandlerSignsAndSubmits(t *testing.T) {
	fx := newHandlerFixture(t, handlerTestPassphrase)
	job := transmissionJob(t, "doc-accepted")

	if err := fx.handler.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if fx.authority.count() != 1 {
		t.Fatalf("authority saw %d submissions, want 1", fx.authority.count())
	}
	submission := fx.authority.submissions[0]
	if submission.Token == "" {
		t.Error("submission carries no signed token")
	}
	if submission.IdempotencyKey == "" {
		t.Error("submission carries no idempotency key")
	}
	if !fx.sink.has("transmission.accepted") {
		t.Error("missing transmission.accepted audit event")
	}
}

func TestHandlerRetryAfterAcceptanceDoesNotResubmit(t *testing.T) {
	fx := newHandlerFixture(t, handlerTestPassphrase)
	job := transmissionJob(t, "doc-once")

	if err := fx.handler.Handle(context.Background(), job); err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	// A redelivery of the same document must short-circuit locally.
	job.Attempt++
	if err := fx.handler.Handle(context.Background(), job); err != nil {
		t.Fatalf("second Handle: %v", err)
	}
	if fx.authority.count() != 1 {
		t.Errorf("authority saw %d submissions, want 1", fx.authority.count())
	}
}

func TestHandlerRejectionIsPermanent(t *testing.T) {
	fx := newHandlerFixture(t, handlerTestPassphrase)
	fx.authority.receipt = &Receipt{Status: authorityStatusRejected, Message: "invalid totals"}
	fx.authority.err = transmitError(ErrRejected, "invalid totals")

	err := fx.handler.Handle(context.Background(), transmissionJob(t, "doc-rejected"))
	if !jobs.IsPermanent(err) {
		t.Fatalf("got %v, want permanent", err)
	}
	if !errors.Is(err, ErrRejected) {
		t.Errorf("got %v, want ErrRejected", err)
	}
	if !fx.sink.has("transmission.rejected") {
		t.Error("missing transmission.rejected audit event")
	}
}

func TestHandlerUnavailableIsTransient(t *testing.T) {
	fx := newHandlerFixture(t, handlerTestPassphrase)
	fx.authority.err = transmitError(ErrUnavailable, "authority responded 503")

	err := fx.handler.Handle(context.Background(), transmissionJob(t, "doc-retry"))
	if err == nil {
		t.Fatal("expected error")
	}
	if jobs.IsPermanent(err) {
		t.Errorf("availability failure must stay retryable, got %v", err)
	}
}

func TestHandlerUnresolvedBundleIsPermanent(t *testing.T) {
	fx := newHandlerFixture(t, handlerTestPassphrase)
	job := transmissionJob(t, "doc-nokey")
	var payload jobs.TransmissionPayload
	decoded, err := jobs.DecodePayload(job)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	payload = decoded.(jobs.TransmissionPayload)
	payload.KeyBundleRef = "tenant-9/missing"
	job.Payload, err = jobs.EncodePayload(payload)
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}

	handleErr := fx.handler.Handle(context.Background(), job)
	if !jobs.IsPermanent(handleErr) {
		t.Fatalf("got %v, want permanent", handleErr)
	}
	if !errors.Is(handleErr, ErrKeyBundleUnresolved) {
		t.Errorf("got %v, want ErrKeyBundleUnresolved", handleErr)
	}
	if fx.authority.count() != 0 {
		t.Error("authority must not be called without a key bundle")
	}
}

func TestHandlerBadPassphraseIsPermanent(t *testing.T) {
	fx := newHandlerFixture(t, "incorrecta")

	err := fx.handler.Handle(context.Background(), transmissionJob(t, "doc-badkey"))
	if !jobs.IsPermanent(err) {
		t.Fatalf("got %v, want permanent", err)
	}
	if !fx.sink.has("transmission.signing_failed") {
		t.Error("missing transmission.signing_failed audit event")
	}
	if fx.authority.count() != 0 {
		t.Error("authority must not be called when signing fails")
	}
}
