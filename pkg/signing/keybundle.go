package signing

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"

	legacypkcs12 "golang.org/x/crypto/pkcs12"
	"software.sslmate.com/src/go-pkcs12"
)

// KeyMaterial is the usable content of a decoded key bundle.
type KeyMaterial struct {
	PrivateKey  *rsa.PrivateKey
	Certificate *x509.Certificate
}

// ParseKeyBundle decodes a password-protected PKCS#12 container. The modern
// shrouded-key-bag format is tried first; containers produced by older
// tooling fall back to the legacy decoder. A wrong passphrase or a
// malformed container yields ErrKeyBundleInvalid; a container that decodes
// but carries no RSA private key yields ErrKeyExtractionFailed.
func ParseKeyBundle(bundle []byte, passphrase string) (*KeyMaterial, error) {
	if len(bundle) == 0 {
		return nil, signingError(ErrKeyBundleInvalid, "empty key bundle")
	}

	material, modernErr := decodeModern(bundle, passphrase)
	if modernErr == nil {
		return material, nil
	}
	if errors.Is(modernErr, ErrKeyExtractionFailed) {
		return nil, modernErr
	}

	material, legacyErr := decodeLegacy(bundle, passphrase)
	if legacyErr == nil {
		return material, nil
	}
	if errors.Is(legacyErr, ErrKeyExtractionFailed) {
		return nil, legacyErr
	}

	if errors.Is(modernErr, ErrKeyBundleInvalid) {
		return nil, modernErr
	}
	return nil, legacyErr
}

func decodeModern(bundle []byte, passphrase string) (*KeyMaterial, error) {
	key, cert, err := pkcs12.Decode(bundle, passphrase)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, signingError(ErrKeyBundleInvalid, "incorrect passphrase")
		}
		return nil, errors.Join(signingError(ErrKeyBundleInvalid, "decode pkcs12 container failed"), err)
	}
	return materialize(key, cert)
}

// decodeLegacy handles plain-key-bag containers through ToPEM, which
// accepts bundles the strict decoder rejects (multiple certificates,
// key-only bags).
func decodeLegacy(bundle []byte, passphrase string) (*KeyMaterial, error) {
	blocks, err := legacypkcs12.ToPEM(bundle, passphrase)
	if err != nil {
		return nil, errors.Join(signingError(ErrKeyBundleInvalid, "decode legacy pkcs12 container failed"), err)
	}

	var key *rsa.PrivateKey
	var cert *x509.Certificate
	for _, block := range blocks {
		switch block.Type {
		case "PRIVATE KEY":
			if key != nil {
				continue
			}
			key = parsePEMPrivateKey(block)
		case "CERTIFICATE":
			if cert != nil {
				continue
			}
			if parsed, certErr := x509.ParseCertificate(block.Bytes); certErr == nil {
				cert = parsed
			}
		}
	}

	if key == nil {
		return nil, signingError(ErrKeyExtractionFailed, "no rsa private key in legacy container")
	}
	return &KeyMaterial{PrivateKey: key, Certificate: cert}, nil
}

func parsePEMPrivateKey(block *pem.Block) *rsa.PrivateKey {
	if parsed, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return parsed
	}
	if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := parsed.(*rsa.PrivateKey); ok {
			return rsaKey
		}
	}
	return nil
}

func materialize(key any, cert *x509.Certificate) (*KeyMaterial, error) {
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok || rsaKey == nil {
		return nil, signingError(ErrKeyExtractionFailed, "container holds no rsa private key")
	}
	return &KeyMaterial{PrivateKey: rsaKey, Certificate: cert}, nil
}
