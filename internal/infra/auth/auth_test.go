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

	"github.com/xela07ax/applyflow/internal/domain"
)

func signToken(t *testing.T, key *rsa.PrivateKey, claims domain.CustomClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func validClaims(userID string, scopes ...string) domain.CustomClaims {
	sc := map[string]bool{}
	for _, s := range scopes {
		sc[s] = true
	}
	return domain.CustomClaims{
		UserID: userID,
		Scopes: sc,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestVerifyToken(t *testing.T) {
	key := newKey(t)
	v := NewBaseValidator(&key.PublicKey)

	claims, err := v.VerifyToken("Bearer " + signToken(t, key, validClaims("u-1", domain.ScopeSessions)))
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.True(t, claims.Has(domain.ScopeSessions))
	assert.False(t, claims.Has(domain.ScopeAgentsOps))

	t.Run("foreign key", func(t *testing.T) {
		_, err := v.VerifyToken(signToken(t, newKey(t), validClaims("u-1")))
		assert.Error(t, err)
	})
	t.Run("expired", func(t *testing.T) {
		c := validClaims("u-1")
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		_, err := v.VerifyToken(signToken(t, key, c))
		assert.Error(t, err)
	})
	t.Run("hmac rejected", func(t *testing.T) {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("u-1")).SignedString([]byte("secret"))
		require.NoError(t, err)
		_, err = v.VerifyToken(s)
		assert.Error(t, err)
	})
	t.Run("no user", func(t *testing.T) {
		_, err := v.VerifyToken(signToken(t, key, validClaims("")))
		assert.Error(t, err)
	})
}

func TestParseRSAKeys(t *testing.T) {
	key := newKey(t)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	priv, err := ParseRSAPrivateKey(privPEM)
	require.NoError(t, err)
	assert.True(t, priv.Equal(key))

	pub, err := ParseRSAPublicKey(pubPEM)
	require.NoError(t, err)
	assert.True(t, pub.Equal(&key.PublicKey))

	_, err = ParseRSAPublicKey(nil)
	assert.Error(t, err)
	_, err = ParseRSAPrivateKey([]byte("junk"))
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	key := newKey(t)
	mw := NewMiddleware(NewBaseValidator(&key.PublicKey), zap.NewNop())

	var seen string
	h := mw(RequireScope(domain.ScopeSessions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	do := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, do(""))
	assert.Equal(t, http.StatusUnauthorized, do("not-a-jwt"))
	assert.Equal(t, http.StatusForbidden, do(signToken(t, key, validClaims("u-2", domain.ScopeAgentsOps))))
	assert.Equal(t, http.StatusNoContent, do(signToken(t, key, validClaims("u-3", domain.ScopeSessions))))
	assert.Equal(t, "u-3", seen)
	assert.Equal(t, http.StatusNoContent, do(signToken(t, key, validClaims("root", domain.ScopeAdmin))))
}

func TestAnonymous(t *testing.T) {
	var c *domain.CustomClaims
	h := Anonymous("demo")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, _ = ClaimsFrom(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotNil(t, c)
	assert.Equal(t, "demo", c.UserID)
	assert.True(t, c.Has(domain.ScopeAgentsOps))
}
