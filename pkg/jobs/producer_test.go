package jobs

import (
	"context"
	"sync"
	"testing"
)

type captureBackend struct {
	fakeBackend
	mu       sync.Mutex
	enqueued []*Job
}

func (b *captureBackend) Enqueue(_ context.Context, job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enqueued = append(b.enqueued, job.Clone())
	return nil
}

func TestProducerAssignsCorrelationID(t *testing.T) {
	backend := &captureBackend{}
	producer, err := NewProducer(backend, testLogger())
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}

	job, err := producer.EnqueueTransmission(context.Background(), TransmissionPayload{
		TenantID:       "tenant-1",
		DocumentID:     "doc-9",
		DocumentObject: map[string]any{"total": 1},
		KeyBundleRef:   "vault://tenant-1/cert",
	}, Options{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if job.CorrelationID == "" {
		t.Fatal("expected generated correlation ID")
	}
	if job.TenantID != "tenant-1" {
		t.Fatalf("expected tenant propagated from payload, got %q", job.TenantID)
	}
	if len(backend.enqueued) != 1 {
		t.Fatalf("expected one enqueued job, got %d", len(backend.enqueued))
	}
}

func TestProducerKeepsExplicitCorrelationID(t *testing.T) {
	backend := &captureBackend{}
	producer, err := NewProducer(backend, testLogger())
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}

	job, err := producer.EnqueueNotification(context.Background(), NotificationPayload{
		TenantID:  "tenant-2",
		Type:      "dlq.alert",
		Channel:   ChannelEmail,
		Recipient: "ops@acme.sv",
		Body:      "dead letters pending review",
	}, Options{CorrelationID: "corr-42"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.CorrelationID != "corr-42" {
		t.Fatalf("expected corr-42, got %q", job.CorrelationID)
	}
}
