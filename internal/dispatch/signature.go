package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
)

// Signature computes the payload signature a receiver can verify:
// hex-encoded SHA-256 over the webhook secret concatenated with the
// exact request body, prefixed with the scheme name.
func Signature(secret string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
