package transmit

import (
	"errors"
	"fmt"
)

var (
	// ErrRejected classifies authoritative rejections. The document as
	// submitted will never be accepted, so retrying is pointless.
	ErrRejected = errors.New("authority rejected document")
	// ErrUnavailable classifies transient transport or authority-side
	// failures worth retrying.
	ErrUnavailable = errors.New("authority unavailable")
	// ErrKeyBundleUnresolved classifies key store references that cannot
	// be materialized into a bundle.
	ErrKeyBundleUnresolved = errors.New("key bundle unresolved")
)

func transmitError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
