package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIssuer() *TokenIssuer {
	return &TokenIssuer{
		Secret: []byte("test-secret-please-rotate"),
		Issuer: "clinic-finance-test",
		TTL:    time.Hour,
	}
}

func TestIssueAndValidate(t *testing.T) {
	ti := testIssuer()
	user := &User{Username: "ayse", Role: RoleAdmin}

	tok, err := ti.Issue(user)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	claims, err := ti.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "ayse", claims.Username)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.Equal(t, "clinic-finance-test", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestValidateRejectsTampering(t *testing.T) {
	ti := testIssuer()
	tok, err := ti.Issue(&User{Username: "ayse", Role: RoleStaff})
	require.NoError(t, err)

	t.Run("WrongSecret", func(t *testing.T) {
		other := &TokenIssuer{Secret: []byte("different-secret"), Issuer: ti.Issuer}
		_, err := other.Validate(tok)
		assert.Error(t, err)
	})

	t.Run("WrongIssuer", func(t *testing.T) {
		other := &TokenIssuer{Secret: ti.Secret, Issuer: "someone-else"}
		_, err := other.Validate(tok)
		assert.Error(t, err)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := ti.Validate("not.a.token")
		assert.Error(t, err)
	})

	t.Run("Expired", func(t *testing.T) {
		short := &TokenIssuer{Secret: ti.Secret, Issuer: ti.Issuer, TTL: -time.Minute}
		expired, err := short.Issue(&User{Username: "ayse", Role: RoleStaff})
		require.NoError(t, err)
		_, err = ti.Validate(expired)
		assert.Error(t, err)
	})
}

func errorSink(w http.ResponseWriter, _ *http.Request, status int, msg string) {
	http.Error(w, msg, status)
}

func TestAuthenticateMiddleware(t *testing.T) {
	ti := testIssuer()

	var seen *Session
	handler := Authenticate(ti, errorSink)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = SessionFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("MissingHeader", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("BadToken", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer garbage")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("ValidToken", func(t *testing.T) {
		tok, err := ti.Issue(&User{Username: "mehmet", Role: RoleStaff})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "mehmet", seen.Username)
		assert.Equal(t, RoleStaff, seen.Role)
	})
}

func TestRequireRole(t *testing.T) {
	ti := testIssuer()
	chain := Authenticate(ti, errorSink)(
		RequireRole(errorSink, RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})))

	call := func(role string) int {
		tok, err := ti.Issue(&User{Username: "u", Role: role})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		chain.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call(RoleAdmin))
	assert.Equal(t, http.StatusForbidden, call(RoleStaff))
}
