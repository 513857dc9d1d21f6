package signing

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/dteflow/dteflow/pkg/canonical"
)

func TestSignDocumentProducesThreeSegments(t *testing.T) {
	key, _ := testKeyMaterial(t)
	token, err := SignDocument(map[string]any{"total": 100.5}, key)
	if err != nil {
		t.Fatalf("SignDocument: %v", err)
	}
	parts := strings.Split(token.Token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d segments, want 3", len(parts))
	}
	if parts[1] != token.PayloadSegment {
		t.Error("PayloadSegment does not match token middle segment")
	}
	if parts[2] != token.SignatureValue {
		t.Error("SignatureValue does not match token last segment")
	}
	for idx, part := range parts {
		if strings.ContainsAny(part, "=+/") {
			t.Errorf("segment %d is not unpadded base64url: %q", idx, part)
		}
	}
}

func TestSignDocumentHeaderIsCanonical(t *testing.T) {
	key, _ := testKeyMaterial(t)
	token, err := SignDocument(map[string]any{"x": 1}, key)
	if err != nil {
		t.Fatalf("SignDocument: %v", err)
	}
	header := strings.Split(token.Token, ".")[0]
	decoded, err := base64.RawURLEncoding.DecodeString(header)
	if err != nil {
		t.Fatalf("decode header segment: %v", err)
	}
	if string(decoded) != `{"alg":"RS512","typ":"JWT"}` {
		t.Errorf("header = %s", decoded)
	}
}

func TestSignDocumentDeterministic(t *testing.T) {
	key, _ := testKeyMaterial(t)
	document := map[string]any{
		"nit":   "0614-240797-001-1",
		"total": 100.5,
	}

	first, err := SignDocument(document, key)
	if err != nil {
		t.Fatalf("first sign: %v", err)
	}
	second, err := SignDocument(document, key)
	if err != nil {
		t.Fatalf("second sign: %v", err)
	}
	// RS512 (PKCS#1 v1.5) is deterministic: the whole token must match.
	if first.Token != second.Token {
		t.Error("signing the same document twice produced different tokens")
	}
}

func TestSignDocumentKeyOrderIrrelevant(t *testing.T) {
	key, _ := testKeyMaterial(t)

	orderedOneWay := map[string]any{"total": 100.50, "nit": "0614-240797-001-1"}
	orderedOtherWay := map[string]any{"nit": "0614-240797-001-1", "total": 100.5}

	first, err := SignDocument(orderedOneWay, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	second, err := SignDocument(orderedOtherWay, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if first.PayloadSegment != second.PayloadSegment {
		t.Error("payload segments differ for deep-equal documents")
	}
}

func TestVerifyToken(t *testing.T) {
	key, _ := testKeyMaterial(t)
	token, err := SignDocument(map[string]any{"documento": "dte-01"}, key)
	if err != nil {
		t.Fatalf("SignDocument: %v", err)
	}
	if err := VerifyToken(token.Token, &key.PublicKey); err != nil {
		t.Errorf("VerifyToken: %v", err)
	}

	tampered := token.Token[:len(token.Token)-4] + "AAAA"
	if err := VerifyToken(tampered, &key.PublicKey); err == nil {
		t.Error("tampered token verified")
	}
}

func TestDecodePayloadSegment(t *testing.T) {
	key, _ := testKeyMaterial(t)
	document := map[string]any{"total": 100.5, "nit": "0614-240797-001-1"}
	token, err := SignDocument(document, key)
	if err != nil {
		t.Fatalf("SignDocument: %v", err)
	}
	payload, err := DecodePayloadSegment(token.Token)
	if err != nil {
		t.Fatalf("DecodePayloadSegment: %v", err)
	}
	want, err := canonical.Marshal(document)
	if err != nil {
		t.Fatalf("canonical.Marshal: %v", err)
	}
	if string(payload) != string(want) {
		t.Errorf("payload = %s, want %s", payload, want)
	}
}

func TestSignDocumentNilKey(t *testing.T) {
	if _, err := SignDocument(map[string]any{}, nil); err == nil {
		t.Error("expected error for nil key")
	}
}
