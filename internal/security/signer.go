// Package security decides whether inbound webhook calls are authorized.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// SignaturePrefix is the scheme tag carried in the X-Signature header.
const SignaturePrefix = "sha256="

// Signer produces and verifies webhook body signatures. The same signer is
// used by the evaluator to check inbound calls and by the curl test harness
// to build replayable outbound calls, so the two can never disagree about
// what a valid signature looks like.
type Signer struct {
	secret []byte
}

// NewSigner creates a new HMAC-SHA256 signer with the given shared secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the signature header value for a raw body:
// "sha256=" + hex(HMAC-SHA256(body)).
func (s *Signer) Sign(body []byte) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write(body)
	return SignaturePrefix + hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature header value against a raw body. The comparison
// is constant-time.
func (s *Signer) Verify(body []byte, signature string) bool {
	if !strings.HasPrefix(signature, SignaturePrefix) {
		return false
	}
	expected := s.Sign(body)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// CanonicalQuery renders query parameters in the canonical form signed for
// GET requests: keys sorted, values URL-encoded. Both sides of a signed GET
// exchange must use this form.
func CanonicalQuery(params url.Values) string {
	return params.Encode()
}
