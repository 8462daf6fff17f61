package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/beacon/pipeline/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACVerifier(t *testing.T) {
	v := NewHMACVerifier("secret")
	token, err := v.Sign("user-1", "a@example.com")
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, "a@example.com", id.Email)

	_, err = NewHMACVerifier("other").Verify(token)
	assert.Error(t, err)
}

func TestChain(t *testing.T) {
	good := NewHMACVerifier("good")
	token, err := good.Sign("user-2", "")
	require.NoError(t, err)

	id, err := Chain{NewHMACVerifier("bad"), good}.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-2", id.UserID)

	_, err = Chain{NewHMACVerifier("bad")}.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = Chain{nil}.Verify(token)
	assert.Error(t, err)
}

func TestJWKSVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keys := func(*jwt.Token) (interface{}, error) { return &key.PublicKey, nil }
	v := newJWKSVerifier(keys, config.OIDCConfig{Issuer: "https://id.example.com", ClientID: "scanner"})

	sign := func(c OIDCClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, c).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := OIDCClaims{
		Email: "b@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-3",
			Issuer:    "https://id.example.com",
			Audience:  jwt.ClaimStrings{"scanner"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	id, err := v.Verify(sign(valid))
	require.NoError(t, err)
	assert.Equal(t, "user-3", id.UserID)
	assert.Equal(t, "b@example.com", id.Email)

	wrongAud := valid
	wrongAud.Audience = jwt.ClaimStrings{"other"}
	_, err = v.Verify(sign(wrongAud))
	assert.Error(t, err)

	noExp := valid
	noExp.ExpiresAt = nil
	_, err = v.Verify(sign(noExp))
	assert.Error(t, err)
}

func TestDiscoverJWKSURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"jwks_uri":"https://id.example.com/keys"}`)
	}))
	defer srv.Close()

	url, err := discoverJWKSURL(context.Background(), srv.Client(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "https://id.example.com/keys", url)

	_, err = discoverJWKSURL(context.Background(), srv.Client(), srv.URL+"/missing")
	assert.Error(t, err)
}
