package verify

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignTokenRoundTrip(t *testing.T) {
	privatePEM, publicPEM, err := GenerateKeyPair(2048)
	require.NoError(t, err)
	privateKey, err := ParsePrivateKey(privatePEM)
	require.NoError(t, err)

	tests := []struct {
		name   string
		key    any
		config JWTConfig
	}{
		{name: "HS256", key: testSecret, config: JWTConfig{Secret: testSecret}},
		{name: "RS256", key: privateKey, config: JWTConfig{PublicKeyPEM: publicPEM}},
	}

	body := []byte(`{"user":"tobi"}`)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := SignToken(body, tt.key, TokenOptions{Subject: "client-1", TTL: time.Minute})
			require.NoError(t, err)

			tt.config.Logger = testLogger()
			v, err := NewJWTVerifier(tt.config)
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			assert.NoError(t, v.Verify(nil, req, body, ""))
			assert.Equal(t, http.StatusForbidden, hookStatus(t, v.Verify(nil, req, []byte("tampered"), "")))
		})
	}
}

func TestSignTokenClaims(t *testing.T) {
	token, err := SignToken([]byte("x"), testSecret, TokenOptions{Subject: "s", Issuer: "i"})
	require.NoError(t, err)

	claims := &BodyClaims{}
	_, err = jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) { return testSecret, nil })
	require.NoError(t, err)

	assert.Equal(t, BodyDigest([]byte("x")), claims.BodySHA256)
	assert.Equal(t, "s", claims.Subject)
	assert.Equal(t, "i", claims.Issuer)
	assert.Nil(t, claims.ExpiresAt)
	assert.Len(t, claims.ID, 36)
}

func TestSignTokenKeyErrors(t *testing.T) {
	_, err := SignToken(nil, []byte{}, TokenOptions{})
	assert.ErrorIs(t, err, ErrNoKey)

	_, err = SignToken(nil, "string key", TokenOptions{})
	assert.ErrorContains(t, err, "unsupported signing key type string")
}

func TestParsePrivateKeyPKCS8(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	parsed, err := ParsePrivateKey(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))

	_, err = ParsePrivateKey([]byte("garbage"))
	assert.ErrorContains(t, err, "failed to decode PEM block")
}

func TestGenerateSecret(t *testing.T) {
	secret, err := GenerateSecret(32)
	require.NoError(t, err)
	assert.Len(t, secret, 64)

	other, err := GenerateSecret(32)
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)

	_, err = GenerateSecret(8)
	assert.ErrorIs(t, err, ErrSecretTooShort)
}
