package auth

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
	"go.uber.org/zap"

	"github.com/IdanMittelpunkt/UAPES/internal/domain"
)

func newKeyPair(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key, &key.PublicKey
}

func signToken(t *testing.T, key *rsa.PrivateKey, tenantID int, subject string) string {
	t.Helper()
	claims := &domain.CustomClaims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestVerifyTokenValid(t *testing.T) {
	priv, pub := newKeyPair(t)
	v := NewBaseValidator(pub)

	claims, err := v.VerifyToken("Bearer " + signToken(t, priv, 15, "alice@example.com"))
	require.NoError(t, err)
	assert.Equal(t, 15, claims.TenantID)
	assert.Equal(t, "alice@example.com", claims.Subject)
}

func TestVerifyTokenWrongKey(t *testing.T) {
	priv, _ := newKeyPair(t)
	_, otherPub := newKeyPair(t)
	v := NewBaseValidator(otherPub)

	_, err := v.VerifyToken(signToken(t, priv, 15, "alice@example.com"))
	require.Error(t, err)
}

func TestVerifyTokenRejectsHMAC(t *testing.T) {
	_, pub := newKeyPair(t)
	v := NewBaseValidator(pub)

	// Подмена алгоритма на симметричный не должна проходить проверку.
	hmacToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "alice@example.com",
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = v.VerifyToken(hmacToken)
	require.Error(t, err)
}

func TestVerifyTokenExpired(t *testing.T) {
	priv, pub := newKeyPair(t)
	v := NewBaseValidator(pub)

	claims := &domain.CustomClaims{
		TenantID: 15,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice@example.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(priv)
	require.NoError(t, err)

	_, err = v.VerifyToken(signed)
	require.Error(t, err)
}

func TestParseRSAPublicKey(t *testing.T) {
	_, pub := newKeyPair(t)
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	pemData := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	parsed, err := ParseRSAPublicKey(pemData)
	require.NoError(t, err)
	assert.True(t, pub.Equal(parsed))

	_, err = ParseRSAPublicKey(nil)
	require.Error(t, err)

	_, err = ParseRSAPublicKey([]byte("not a pem"))
	require.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	priv, pub := newKeyPair(t)
	mw := NewMiddleware(NewBaseValidator(pub), zap.NewNop())

	var gotIdentity domain.Identity
	var gotOK bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity, gotOK = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mw(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/policies", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/policies", nil)
		req.Header.Set("Authorization", "Bearer garbage")
		rec := httptest.NewRecorder()
		mw(next).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/policies", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, priv, 15, "alice@example.com"))
		rec := httptest.NewRecorder()
		mw(next).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		require.True(t, gotOK)
		assert.Equal(t, domain.Identity{TenantID: 15, Email: "alice@example.com"}, gotIdentity)
	})
}
