package webhooks

import (
	"testing"
)

func TestSign(t *testing.T) {
	secret := "secret"
	payload := []byte("payload")

	// Calculated using: echo -n "payload" | openssl dgst -sha256 -hmac "secret"
	expected := "b82fcb791acec57859b989b430a826488ce2e479fdf92326bd0a2e8375a42ba4"

	got := Sign(secret, payload)

	if got != expected {
		t.Errorf("Sign() = %v, want %v", got, expected)
	}
}

func TestVerifySignature(t *testing.T) {
	secret := "secret"
	payload := []byte(`{"id":"evt_1","type":"assignment.created"}`)
	sig := Sign(secret, payload)

	if !VerifySignature(payload, sig, secret) {
		t.Error("valid signature rejected")
	}
	if !VerifySignature(payload, "sha256="+sig, secret) {
		t.Error("valid prefixed signature rejected")
	}
	if VerifySignature(payload, sig, "wrong-secret") {
		t.Error("signature verified under the wrong secret")
	}
	if VerifySignature([]byte("tampered"), sig, secret) {
		t.Error("signature verified over tampered payload")
	}
	if VerifySignature(payload, "", secret) {
		t.Error("empty signature verified")
	}
}
