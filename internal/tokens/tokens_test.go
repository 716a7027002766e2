package tokens

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerify(t *testing.T) {
	const secret = "test-secret-0123456789"
	raw, err := GenerateAccessToken(secret, "user-1", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	v := NewHMACVerifier(secret)
	tok, err := v.Verify(context.Background(), raw)
	require.NoError(t, err)

	var claims map[string]interface{}
	require.NoError(t, tok.Claims(&claims))
	require.Equal(t, "user-1", claims["sub"])
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	raw, err := GenerateAccessToken("secret-a", "user-1", time.Minute)
	require.NoError(t, err)

	_, err = NewHMACVerifier("secret-b").Verify(context.Background(), raw)
	require.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	raw, err := GenerateAccessToken("secret", "user-1", -time.Minute)
	require.NoError(t, err)

	_, err = NewHMACVerifier("secret").Verify(context.Background(), raw)
	require.Error(t, err)
}
