// Package webhook ingests carrier status callbacks: signature check, payload
// decoding, status normalization and an idempotent apply.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// Verifier checks HMAC-SHA256 signatures over raw request bodies.
type Verifier struct {
	secret        []byte
	allowUnsigned bool
}

// NewVerifier creates a verifier. allowUnsigned only has an effect when no
// secret is configured; callers must not set it in production.
func NewVerifier(secret string, allowUnsigned bool) *Verifier {
	return &Verifier{secret: []byte(secret), allowUnsigned: allowUnsigned}
}

// Verify reports whether signature is a valid HMAC of body. The signature
// may be hex (any case) or base64, optionally prefixed with "sha256=".
// Without a secret it fails closed unless unsigned deliveries are allowed.
func (v *Verifier) Verify(body []byte, signature string) bool {
	if len(v.secret) == 0 {
		return v.allowUnsigned
	}

	sig := strings.TrimSpace(signature)
	if len(sig) >= len(signaturePrefix) && strings.EqualFold(sig[:len(signaturePrefix)], signaturePrefix) {
		sig = sig[len(signaturePrefix):]
	}
	if sig == "" {
		return false
	}

	expected := mac(v.secret, body)

	// Both encodings are always compared so timing does not reveal which
	// one the sender used.
	fromHex, _ := hex.DecodeString(sig)
	fromBase64, _ := base64.StdEncoding.DecodeString(sig)
	hexOK := hmac.Equal(fromHex, expected)
	base64OK := hmac.Equal(fromBase64, expected)
	return hexOK || base64OK
}

// Sign returns the lowercase hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	return hex.EncodeToString(mac([]byte(secret), body))
}

func mac(secret, body []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return h.Sum(nil)
}
