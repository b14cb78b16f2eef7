package auth

import (
	"context"
	"net/http"
	"strings"
)

type sessionKey struct{}

// Session identifies the authenticated caller for the rest of the
// request.
type Session struct {
	Username string
	Role     string
}

// SessionFromContext returns the caller attached by Authenticate.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	v := ctx.Value(sessionKey{})
	s, ok := v.(*Session)
	return s, ok
}

// Authenticate requires a valid bearer token on every request it wraps.
func Authenticate(ti *TokenIssuer, onError func(http.ResponseWriter, *http.Request, int, string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ti == nil {
				onError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}

			authz := r.Header.Get("Authorization")
			if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				onError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}

			tok := strings.TrimSpace(authz[len("Bearer "):])
			claims, err := ti.Validate(tok)
			if err != nil {
				onError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}

			session := &Session{Username: claims.Username, Role: claims.Role}
			ctx := context.WithValue(r.Context(), sessionKey{}, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole restricts a subtree to callers holding one of the given
// roles.
func RequireRole(onError func(http.ResponseWriter, *http.Request, int, string), roles ...string) func(http.Handler) http.Handler {
	allowed := map[string]struct{}{}
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := SessionFromContext(r.Context())
			if !ok {
				onError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			if _, ok := allowed[session.Role]; !ok {
				onError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
