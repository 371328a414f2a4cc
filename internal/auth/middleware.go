package auth

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"

	"guestline/pkg/interfaces"
	"guestline/pkg/types"
)

type contextKey struct{}

// IdentityFrom returns the identity a Middleware-wrapped handler runs as.
func IdentityFrom(ctx context.Context) (*types.Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*types.Identity)
	return id, ok
}

// Middleware authenticates the bearer token and injects the resulting
// identity into the request context. Requests without a valid token get
// 401 and never reach the handler.
func Middleware(verifier interfaces.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := ParseBearer(r.Header.Get("Authorization"))
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "no token provided")
				return
			}

			identity, err := verifier.Verify(token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), contextKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin guards admin-only routes. Must run inside Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFrom(r.Context())
		if !ok || !identity.IsAdmin() {
			writeAuthError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
