package jobs

import (
	"errors"
	"testing"
	"time"
)

func TestDecodePayloadRestoresType(t *testing.T) {
	clock := newFakeClock(time.Now())
	job := makeTransmissionJob(t, clock, Options{})

	decoded, err := DecodePayload(job)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	payload, ok := decoded.(TransmissionPayload)
	if !ok {
		t.Fatalf("expected TransmissionPayload, got %T", decoded)
	}
	if payload.TenantID != "tenant-1" || payload.DocumentID != "doc-1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.DocumentObject["nit"] != "0614-240797-001-1" {
		t.Fatalf("document object lost: %+v", payload.DocumentObject)
	}
}

func TestDecodePayloadUnknownKind(t *testing.T) {
	job := &Job{Kind: "document.teleport", Payload: []byte(`{}`)}
	if _, err := DecodePayload(job); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNotificationPayloadValidation(t *testing.T) {
	valid := NotificationPayload{
		TenantID:  "tenant-1",
		Type:      "transmission.failed",
		Channel:   ChannelWebhook,
		Recipient: "https://acme.sv/hooks/dte",
		Body:      `{"documentId":"doc-1"}`,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}

	badChannel := valid
	badChannel.Channel = "fax"
	if err := badChannel.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for channel, got %v", err)
	}

	noRecipient := valid
	noRecipient.Recipient = "  "
	if err := noRecipient.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for recipient, got %v", err)
	}
}

func TestSigningPayloadValidation(t *testing.T) {
	if err := (SigningPayload{DocumentObject: map[string]any{"a": 1}}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error without key bundle, got %v", err)
	}
	ok := SigningPayload{
		DocumentObject: map[string]any{"a": 1},
		KeyBundleBytes: []byte{0x30, 0x82},
		Passphrase:     "prueba123",
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
}
