package forge

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPrivateKeyPEM(t *testing.T) ([]byte, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return pem.EncodeToMemory(block), key
}

func TestTokenFromEnvPrefersAppCredentials(t *testing.T) {
	pemKey, _ := testPrivateKeyPEM(t)
	env := map[string]string{
		"GITHUB_APP_ID":              "12345",
		"GITHUB_APP_INSTALLATION_ID": "678",
		"GITHUB_APP_PRIVATE_KEY":     string(pemKey),
		"GITHUB_TOKEN":               "ignored",
	}
	source, err := TokenFromEnv(func(k string) string { return env[k] })
	require.NoError(t, err)
	_, isApp := source.(*AppTokenSource)
	assert.True(t, isApp)
}

func TestTokenFromEnvBase64Key(t *testing.T) {
	pemKey, _ := testPrivateKeyPEM(t)
	env := map[string]string{
		"GITHUB_APP_ID":                 "12345",
		"GITHUB_APP_INSTALLATION_ID":    "678",
		"GITHUB_APP_PRIVATE_KEY_BASE64": base64.StdEncoding.EncodeToString(pemKey),
	}
	_, err := TokenFromEnv(func(k string) string { return env[k] })
	require.NoError(t, err)
}

func TestTokenFromEnvFallsBackToStaticToken(t *testing.T) {
	env := map[string]string{"GITHUB_TOKEN": "ghp_token"}
	source, err := TokenFromEnv(func(k string) string { return env[k] })
	require.NoError(t, err)
	assert.Equal(t, StaticToken("ghp_token"), source)
}

func TestTokenFromEnvNoCredentials(t *testing.T) {
	_, err := TokenFromEnv(func(string) string { return "" })
	require.Error(t, err)
}

func TestTokenFromEnvAppWithoutKey(t *testing.T) {
	env := map[string]string{"GITHUB_APP_ID": "12345"}
	_, err := TokenFromEnv(func(k string) string { return env[k] })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private key")
}

func TestAppTokenSourceServesCachedToken(t *testing.T) {
	pemKey, _ := testPrivateKeyPEM(t)
	source, err := NewAppTokenSource("12345", "678", pemKey)
	require.NoError(t, err)

	// A cached token comfortably before expiry is returned without minting.
	source.token = "cached-token"
	source.expiresAt = time.Now().Add(time.Hour)

	token, err := source.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached-token", token)
}

func TestSignAppJWTClaims(t *testing.T) {
	pemKey, key := testPrivateKeyPEM(t)
	source, err := NewAppTokenSource("12345", "678", pemKey)
	require.NoError(t, err)

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	source.now = func() time.Time { return now }

	signed, err := source.signAppJWT()
	require.NoError(t, err)

	parsed, err := jwt.ParseWithClaims(signed, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithTimeFunc(func() time.Time { return now }))
	require.NoError(t, err)

	claims := parsed.Claims.(*jwt.RegisteredClaims)
	assert.Equal(t, "12345", claims.Issuer)
	assert.Equal(t, now.Add(-60*time.Second).Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, now.Add(9*time.Minute).Unix(), claims.ExpiresAt.Unix())
}
