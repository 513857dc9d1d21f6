package signing

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dteflow/dteflow/pkg/canonical"
)

// tokenHeader is the fixed header of every compact token. RS512 is
// deterministic, so identical canonical input always yields an identical
// token.
var tokenHeader = map[string]any{
	"alg": "RS512",
	"typ": "JWT",
}

// SignedToken is a compact three-segment signature token.
type SignedToken struct {
	// Token is headerSegment.payloadSegment.signatureSegment.
	Token string
	// PayloadSegment is the base64url canonical document, exposed so
	// callers can compare payloads without re-splitting the token.
	PayloadSegment string
	// SignatureValue is the base64url signature segment.
	SignatureValue string
}

// SignDocument canonicalizes the document and produces the compact token
// using the RS512 primitive over headerSegment + "." + payloadSegment.
func SignDocument(document any, key *rsa.PrivateKey) (*SignedToken, error) {
	if key == nil {
		return nil, signingError(ErrSigningFailed, "private key is required")
	}

	headerBytes, err := canonical.Marshal(tokenHeader)
	if err != nil {
		return nil, errors.Join(signingError(ErrSigningFailed, "canonicalize token header failed"), err)
	}
	payloadBytes, err := canonical.Marshal(document)
	if err != nil {
		return nil, errors.Join(signingError(ErrSigningFailed, "canonicalize document failed"), err)
	}

	headerSegment := base64.RawURLEncoding.EncodeToString(headerBytes)
	payloadSegment := base64.RawURLEncoding.EncodeToString(payloadBytes)
	signingInput := headerSegment + "." + payloadSegment

	signature, err := jwt.SigningMethodRS512.Sign(signingInput, key)
	if err != nil {
		return nil, errors.Join(signingError(ErrSigningFailed, "rs512 sign failed"), err)
	}
	signatureSegment := base64.RawURLEncoding.EncodeToString(signature)

	return &SignedToken{
		Token:          signingInput + "." + signatureSegment,
		PayloadSegment: payloadSegment,
		SignatureValue: signatureSegment,
	}, nil
}

// VerifyToken checks a compact token against the signer's public key.
// Used by tests and by operators replaying rejected submissions.
func VerifyToken(token string, key *rsa.PublicKey) error {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return signingError(ErrSigningFailed, "token must have three segments")
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return errors.Join(signingError(ErrSigningFailed, "decode signature segment failed"), err)
	}
	if err := jwt.SigningMethodRS512.Verify(parts[0]+"."+parts[1], signature, key); err != nil {
		return errors.Join(signingError(ErrSigningFailed, "signature verification failed"), err)
	}
	return nil
}

// DecodePayloadSegment returns the canonical document bytes carried by a
// compact token's payload segment.
func DecodePayloadSegment(token string) ([]byte, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, signingError(ErrSigningFailed, "token must have three segments")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errors.Join(signingError(ErrSigningFailed, "decode payload segment failed"), err)
	}
	return payload, nil
}
