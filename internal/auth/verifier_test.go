package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testProject = "https://abc.supabase.co"
	testSecret  = "super-secret-jwt-token-with-at-least-32-characters"
)

func newHMACVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(context.Background(), VerifierConfig{SupabaseURL: testProject + "/", Secret: testSecret})
	require.NoError(t, err)
	return v
}

func hmacToken(t *testing.T, mutate func(jwt.MapClaims)) string {
	t.Helper()
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   testProject + "/auth/v1",
		"aud":   Audience,
		"sub":   "user-123",
		"email": "user@example.com",
		"role":  "authenticated",
		"exp":   now.Add(10 * time.Minute).Unix(),
		"iat":   now.Unix(),
	}
	if mutate != nil {
		mutate(claims)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestVerifyHMAC(t *testing.T) {
	v := newHMACVerifier(t)
	claims, err := v.Verify(hmacToken(t, nil))
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.Subject)
	assert.Equal(t, "user@example.com", claims.Email)
}

func TestVerifyRejects(t *testing.T) {
	v := newHMACVerifier(t)

	cases := map[string]func(jwt.MapClaims){
		"expired":      func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() },
		"no expiry":    func(c jwt.MapClaims) { delete(c, "exp") },
		"wrong issuer": func(c jwt.MapClaims) { c["iss"] = "https://other.supabase.co/auth/v1" },
		"wrong aud":    func(c jwt.MapClaims) { c["aud"] = "anon" },
		"missing sub":  func(c jwt.MapClaims) { delete(c, "sub") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(hmacToken(t, mutate))
			require.Error(t, err)
		})
	}

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": testProject + "/auth/v1", "aud": Audience, "sub": "user-123",
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("another-secret-another-secret-another"))
	require.NoError(t, err)
	_, err = v.Verify(forged)
	require.Error(t, err)

	_, err = v.Verify("not-a-jwt")
	require.Error(t, err)
}

func TestNewVerifierRequiresURL(t *testing.T) {
	_, err := NewVerifier(context.Background(), VerifierConfig{Secret: testSecret})
	require.Error(t, err)
}

func TestVerifyJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := map[string]any{"keys": []map[string]string{{
		"kty": "RSA",
		"kid": "test-key",
		"use": "sig",
		"alg": "RS256",
		"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
	}}}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks)
	}))
	t.Cleanup(server.Close)

	v, err := NewVerifier(context.Background(), VerifierConfig{SupabaseURL: testProject, JWKSURL: server.URL})
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": testProject + "/auth/v1",
		"aud": Audience,
		"sub": "user-rsa",
		"exp": time.Now().Add(10 * time.Minute).Unix(),
	})
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	claims, err := v.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-rsa", claims.Subject)

	// HS256 tokens are not accepted when verifying against JWKS.
	_, err = v.Verify(hmacToken(t, nil))
	require.Error(t, err)
}
