package jobs

import (
	"errors"
	"testing"
	"time"
)

func TestNewJob_Defaults(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	job, err := NewJob(QueueTransmission, TransmissionPayload{
		TenantID:       "tenant-1",
		DocumentID:     "doc-1",
		DocumentObject: map[string]any{"total": 100.5},
		KeyBundleRef:   "vault://tenant-1/cert",
	}, Options{}, clock)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}

	if job.ID == "" {
		t.Fatal("expected generated job ID")
	}
	if job.Kind != KindTransmission {
		t.Fatalf("unexpected kind %q", job.Kind)
	}
	if job.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("expected default max attempts %d, got %d", DefaultMaxAttempts, job.MaxAttempts)
	}
	if job.Attempt != 0 {
		t.Fatalf("expected attempt 0, got %d", job.Attempt)
	}
	if !job.RunAt.Equal(clock.Now()) {
		t.Fatalf("expected immediate run_at, got %s", job.RunAt)
	}
}

func TestNewJob_DelayShiftsRunAt(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	job, err := NewJob(QueueNotification, NotificationPayload{
		TenantID:  "tenant-1",
		Type:      "certificate.expiry",
		Channel:   ChannelEmail,
		Recipient: "admin@acme.sv",
		Body:      "certificate expires in 30 days",
	}, Options{Delay: 2 * time.Hour}, clock)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if want := clock.Now().Add(2 * time.Hour); !job.RunAt.Equal(want) {
		t.Fatalf("expected run_at %s, got %s", want, job.RunAt)
	}
}

func TestNewJob_Rejections(t *testing.T) {
	clock := newFakeClock(time.Now())
	validTransmission := TransmissionPayload{
		TenantID:       "tenant-1",
		DocumentID:     "doc-1",
		DocumentObject: map[string]any{"total": 1},
		KeyBundleRef:   "ref",
	}

	tests := []struct {
		name    string
		queue   string
		payload Payload
		wantErr error
	}{
		{"unknown queue", "invoices", validTransmission, ErrUnknownQueue},
		{"nil payload", QueueTransmission, nil, ErrValidation},
		{"kind mismatch", QueueSigning, validTransmission, ErrValidation},
		{"invalid payload", QueueTransmission, TransmissionPayload{}, ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewJob(tc.queue, tc.payload, Options{}, clock); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestJobCloneIsIndependent(t *testing.T) {
	clock := newFakeClock(time.Now())
	job := makeTransmissionJob(t, clock, Options{Headers: map[string]string{"source": "api"}})

	copied := job.Clone()
	copied.Headers["source"] = "mutated"
	copied.Payload[0] = '!'

	if job.Headers["source"] != "api" {
		t.Fatal("clone shares headers with original")
	}
	if job.Payload[0] == '!' {
		t.Fatal("clone shares payload bytes with original")
	}
}

func TestPermanentMarker(t *testing.T) {
	base := errors.New("rejected")
	wrapped := Permanent(base)
	if !IsPermanent(wrapped) {
		t.Fatal("expected permanent marker to be detectable")
	}
	if !errors.Is(wrapped, base) {
		t.Fatal("expected original error to remain reachable")
	}
	if IsPermanent(base) {
		t.Fatal("unwrapped error must not read as permanent")
	}
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) must stay nil")
	}
}
