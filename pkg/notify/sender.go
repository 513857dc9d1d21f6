// Package notify delivers operator and tenant notifications produced by
// the pipeline: alert emails, webhook callbacks and SMS messages, each
// behind a per-channel sender.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/dteflow/dteflow/pkg/jobs"
)

var (
	// ErrUnknownChannel classifies payloads for a channel with no sender.
	ErrUnknownChannel = errors.New("notify: unknown channel")
	// ErrDelivery classifies transport failures; callers may retry.
	ErrDelivery = errors.New("notify: delivery failed")
)

// Sender delivers notifications for one channel.
type Sender interface {
	Channel() string
	Send(ctx context.Context, payload jobs.NotificationPayload) error
	Close() error
}

func notifyError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
