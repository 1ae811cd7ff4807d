// pkg/security/signature.go
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
)

// SignSHA256 signs a payload with HMAC-SHA256 over the exact serialized body.
func SignSHA256(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignSHA512 signs a payload with HMAC-SHA512.
func SignSHA512(payload []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares a header-supplied signature against the HMAC of
// the raw body, accepting SHA256 or SHA512 digests. Comparison is constant
// time. Mismatches must be rejected before any ledger effect.
func VerifySignature(body []byte, signature, secret string) error {
	if signature == "" {
		return fmt.Errorf("missing signature")
	}
	for _, candidate := range []string{SignSHA256(body, secret), SignSHA512(body, secret)} {
		if hmac.Equal([]byte(signature), []byte(candidate)) {
			return nil
		}
	}
	return fmt.Errorf("signature mismatch")
}
