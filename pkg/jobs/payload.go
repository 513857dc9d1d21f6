package jobs

import (
	"encoding/json"
	"errors"
	"strings"
)

// Payload kinds. Each queue carries exactly one kind, so handler dispatch
// over kinds is exhaustive.
const (
	KindTransmission = "document.transmit"
	KindSigning      = "document.sign"
	KindNotification = "notification.send"
)

// Notification channels.
const (
	ChannelEmail   = "email"
	ChannelSMS     = "sms"
	ChannelWebhook = "webhook"
)

// Payload is the typed content of a job.
type Payload interface {
	Kind() string
	Validate() error
}

// TransmissionPayload references a fiscal document to sign and submit.
type TransmissionPayload struct {
	TenantID       string         `json:"tenantId"`
	DocumentID     string         `json:"documentId"`
	DocumentObject map[string]any `json:"documentObject"`
	KeyBundleRef   string         `json:"keyBundleRef"`
}

// Kind identifies the payload type.
func (TransmissionPayload) Kind() string { return KindTransmission }

// Validate checks producer-supplied fields.
func (p TransmissionPayload) Validate() error {
	if strings.TrimSpace(p.TenantID) == "" {
		return jobsError(ErrValidation, "transmission tenantId is required")
	}
	if strings.TrimSpace(p.DocumentID) == "" {
		return jobsError(ErrValidation, "transmission documentId is required")
	}
	if len(p.DocumentObject) == 0 {
		return jobsError(ErrValidation, "transmission documentObject is required")
	}
	if strings.TrimSpace(p.KeyBundleRef) == "" {
		return jobsError(ErrValidation, "transmission keyBundleRef is required")
	}
	return nil
}

// SigningPayload carries a standalone signing computation.
type SigningPayload struct {
	DocumentObject map[string]any `json:"documentObject"`
	KeyBundleBytes []byte         `json:"keyBundleBytes"`
	Passphrase     string         `json:"passphrase"`
}

// Kind identifies the payload type.
func (SigningPayload) Kind() string { return KindSigning }

// Validate checks producer-supplied fields.
func (p SigningPayload) Validate() error {
	if len(p.DocumentObject) == 0 {
		return jobsError(ErrValidation, "signing documentObject is required")
	}
	if len(p.KeyBundleBytes) == 0 {
		return jobsError(ErrValidation, "signing keyBundleBytes is required")
	}
	return nil
}

// NotificationPayload describes one outbound notification.
type NotificationPayload struct {
	TenantID  string            `json:"tenantId"`
	Type      string            `json:"type"`
	Channel   string            `json:"channel"`
	Recipient string            `json:"recipient"`
	Body      string            `json:"body"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Kind identifies the payload type.
func (NotificationPayload) Kind() string { return KindNotification }

// Validate checks producer-supplied fields.
func (p NotificationPayload) Validate() error {
	if strings.TrimSpace(p.TenantID) == "" {
		return jobsError(ErrValidation, "notification tenantId is required")
	}
	switch p.Channel {
	case ChannelEmail, ChannelSMS, ChannelWebhook:
	default:
		return jobsError(ErrValidation, "notification channel must be email, sms or webhook")
	}
	if strings.TrimSpace(p.Recipient) == "" {
		return jobsError(ErrValidation, "notification recipient is required")
	}
	if strings.TrimSpace(p.Body) == "" {
		return jobsError(ErrValidation, "notification body is required")
	}
	return nil
}

func kindForQueue(queue string) string {
	switch queue {
	case QueueTransmission:
		return KindTransmission
	case QueueSigning:
		return KindSigning
	case QueueNotification:
		return KindNotification
	default:
		return ""
	}
}

// EncodePayload serializes a typed payload for queue storage.
func EncodePayload(payload Payload) ([]byte, error) {
	if payload == nil {
		return nil, jobsError(ErrValidation, "payload is required")
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Join(jobsError(ErrValidation, "marshal payload failed"), err)
	}
	return encoded, nil
}

// DecodePayload reconstructs the typed payload of a job from its kind tag.
func DecodePayload(job *Job) (Payload, error) {
	if job == nil {
		return nil, jobsError(ErrValidation, "job is nil")
	}
	switch job.Kind {
	case KindTransmission:
		var payload TransmissionPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, errors.Join(jobsError(ErrValidation, "decode transmission payload failed"), err)
		}
		return payload, nil
	case KindSigning:
		var payload SigningPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, errors.Join(jobsError(ErrValidation, "decode signing payload failed"), err)
		}
		return payload, nil
	case KindNotification:
		var payload NotificationPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, errors.Join(jobsError(ErrValidation, "decode notification payload failed"), err)
		}
		return payload, nil
	default:
		return nil, jobsError(ErrValidation, "unknown payload kind "+job.Kind)
	}
}
