// Package auth signs and verifies event submissions.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignaturePrefix may precede the hex digest in a signature header.
const SignaturePrefix = "sha256="

// ComputeSignature returns the lowercase hex encoded HMAC-SHA256 signature for body.
func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares a received signature with a freshly computed one.
// The candidate may carry the sha256= prefix and any hex case.
func VerifySignature(secret string, body []byte, candidate string) bool {
	candidate = strings.TrimSpace(candidate)
	if len(candidate) >= len(SignaturePrefix) && strings.EqualFold(candidate[:len(SignaturePrefix)], SignaturePrefix) {
		candidate = candidate[len(SignaturePrefix):]
	}
	got, err := hex.DecodeString(candidate)
	if err != nil || len(got) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), got)
}
