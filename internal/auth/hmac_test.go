package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHMACVerify(t *testing.T) {
	secret := "super-secret"
	body := []byte(`{"event":{"project":"wikipedia"}}`)

	sig := ComputeSignature(secret, body)
	require.Len(t, sig, 64)
	require.True(t, VerifySignature(secret, body, sig))
	require.True(t, VerifySignature(secret, body, SignaturePrefix+sig))
	require.True(t, VerifySignature(secret, body, strings.ToUpper(sig)))
	require.False(t, VerifySignature(secret, body, "deadbeef"))
	require.False(t, VerifySignature(secret, body, "not-hex"))
	require.False(t, VerifySignature("other", body, sig))
	require.False(t, VerifySignature(secret, []byte(`{}`), sig))
}
