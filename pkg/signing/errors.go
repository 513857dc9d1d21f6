package signing

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyBundleInvalid classifies malformed containers and wrong passphrases.
	ErrKeyBundleInvalid = errors.New("signing key bundle invalid")
	// ErrKeyExtractionFailed classifies containers that decode but hold no usable private key.
	ErrKeyExtractionFailed = errors.New("signing key extraction failed")
	// ErrSigningFailed classifies failures of the signature primitive itself.
	ErrSigningFailed = errors.New("signing operation failed")
	// ErrPoolClosed classifies submissions to a stopped signer pool.
	ErrPoolClosed = errors.New("signer pool is closed")
)

// Error kinds reported across the isolation boundary. They mirror the
// sentinel errors above, as plain strings so results stay serializable.
const (
	KindKeyBundleInvalid    = "KeyBundleInvalid"
	KindKeyExtractionFailed = "KeyExtractionFailed"
	KindSigningFailed       = "SigningFailed"
)

// KindOf maps a signing error to its wire-level kind string.
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrKeyBundleInvalid):
		return KindKeyBundleInvalid
	case errors.Is(err, ErrKeyExtractionFailed):
		return KindKeyExtractionFailed
	default:
		return KindSigningFailed
	}
}

func signingError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
