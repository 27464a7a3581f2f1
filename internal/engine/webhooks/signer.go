package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sign computes the hex HMAC-SHA256 of payload under secret. The wire
// header carries it prefixed as "sha256=<hex>".
func Sign(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature recomputes the signature and compares in constant
// time. Accepts the value with or without the "sha256=" prefix.
func VerifySignature(payload []byte, signature, secret string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")

	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
