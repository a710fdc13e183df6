// Package signature implements the payload authenticity contract shared with
// subscribers: an HMAC-SHA256 over the raw payload bytes, rendered as
// "sha256=<lowercase hex>" in the X-VeriBits-Signature header. Verify is the
// subscriber-side half; the platform itself only signs.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Prefix identifies the signature scheme in the header value.
const Prefix = "sha256="

// Sign computes the delivery signature for payload with the webhook secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return Prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature and compares it to the received header
// value in constant time.
func Verify(payload []byte, signatureHeader, secret string) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}
