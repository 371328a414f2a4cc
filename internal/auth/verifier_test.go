package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guestline/pkg/interfaces"
	"guestline/pkg/types"
)

const testSecret = "test-secret-key"

func signToken(t *testing.T, secret, subject, role string, expiresAt time.Time) string {
	t.Helper()

	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier("")
	assert.Error(t, err)

	v, err := NewVerifier(testSecret)
	require.NoError(t, err)
	assert.NotNil(t, v)
}

func TestVerify(t *testing.T) {
	v, err := NewVerifier(testSecret)
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)

	t.Run("valid user token", func(t *testing.T) {
		identity, err := v.Verify(signToken(t, testSecret, "alice-1", "user", future))
		require.NoError(t, err)
		assert.Equal(t, "alice-1", identity.UserID)
		assert.Equal(t, types.RoleUser, identity.Role)
	})

	t.Run("valid admin token", func(t *testing.T) {
		identity, err := v.Verify(signToken(t, testSecret, "admin-1", "admin", future))
		require.NoError(t, err)
		assert.True(t, identity.IsAdmin())
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := v.Verify(signToken(t, "other-secret", "alice-1", "user", future))
		assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed)
	})

	t.Run("expired token", func(t *testing.T) {
		_, err := v.Verify(signToken(t, testSecret, "alice-1", "user", time.Now().Add(-time.Minute)))
		assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed)
	})

	t.Run("missing subject", func(t *testing.T) {
		_, err := v.Verify(signToken(t, testSecret, "", "user", future))
		assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed)
	})

	t.Run("unknown role", func(t *testing.T) {
		_, err := v.Verify(signToken(t, testSecret, "alice-1", "root", future))
		assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := v.Verify("not-a-jwt")
		assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed)
	})
}

func TestParseBearer(t *testing.T) {
	token, err := ParseBearer("Bearer abc.def.ghi")
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)

	token, err = ParseBearer("bearer abc")
	require.NoError(t, err, "scheme comparison is case-insensitive")
	assert.Equal(t, "abc", token)

	_, err = ParseBearer("")
	assert.Error(t, err)

	_, err = ParseBearer("Basic abc")
	assert.Error(t, err)

	_, err = ParseBearer("Bearer")
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	v, err := NewVerifier(testSecret)
	require.NoError(t, err)

	var seen *types.Identity
	handler := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("no token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token reaches handler", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "alice-1", "user", time.Now().Add(time.Hour)))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "alice-1", seen.UserID)
	})
}

func TestRequireAdmin(t *testing.T) {
	v, err := NewVerifier(testSecret)
	require.NoError(t, err)

	handler := Middleware(v)(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	t.Run("visitor is forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "alice-1", "user", time.Now().Add(time.Hour)))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "admin-1", "admin", time.Now().Add(time.Hour)))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
