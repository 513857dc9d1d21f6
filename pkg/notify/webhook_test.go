package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dteflow/dteflow/pkg/jobs"
	"github.com/dteflow/dteflow/pkg/observability/logger"
)

func webhookPayload(recipient string) jobs.NotificationPayload {
	return jobs.NotificationPayload{
		TenantID:  "tenant-1",
		Type:      "queue.congested",
		Channel:   jobs.ChannelWebhook,
		Recipient: recipient,
		Body:      "transmission queue backlog above threshold",
		Metadata:  map[string]string{"queue": "transmission"},
	}
}

func TestWebhookSenderPostsEnvelope(t *testing.T) {
	var envelope webhookEnvelope
	var authHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
	}))
	defer server.Close()

	sender, err := NewWebhookSender(WebhookConfig{Secret: "hook-secret"}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewWebhookSender: %v", err)
	}
	if err := sender.Send(context.Background(), webhookPayload(server.URL)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if envelope.Type != "queue.congested" || envelope.TenantID != "tenant-1" {
		t.Errorf("unexpected envelope: %+v", envelope)
	}
	if envelope.Metadata["queue"] != "transmission" {
		t.Errorf("metadata not forwarded: %+v", envelope.Metadata)
	}
	if authHeader != "Bearer hook-secret" {
		t.Errorf("authorization = %q, want bearer secret", authHeader)
	}
}

func TestWebhookSenderNon2xxIsDeliveryError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sender, err := NewWebhookSender(WebhookConfig{}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewWebhookSender: %v", err)
	}
	sendErr := sender.Send(context.Background(), webhookPayload(server.URL))
	if !errors.Is(sendErr, ErrDelivery) {
		t.Errorf("got %v, want ErrDelivery", sendErr)
	}
}

func TestWebhookSenderRejectsNonHTTPRecipient(t *testing.T) {
	sender, err := NewWebhookSender(WebhookConfig{}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewWebhookSender: %v", err)
	}
	for _, recipient := range []string{"ops@example.com", "ftp://host/path", ""} {
		if sendErr := sender.Send(context.Background(), webhookPayload(recipient)); !errors.Is(sendErr, ErrDelivery) {
			t.Errorf("Send(%q) = %v, want ErrDelivery", recipient, sendErr)
		}
	}
}
