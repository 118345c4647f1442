package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/kalambet/margin/internal/apperr"
)

// UserHeader carries the signed-in user's id, set by the gateway in front
// of the service.
const UserHeader = "X-User-ID"

type userKey struct{}

func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Identity stores the caller's user id in the request context. Requests
// without the header are anonymous.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(UserHeader))
		if id == "" {
			id = apperr.AnonymousUser
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), id)))
	})
}

// WithUser returns a copy of ctx carrying userID.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFrom returns the user id stored by Identity, or the anonymous user.
func UserFrom(ctx context.Context) string {
	if id, ok := ctx.Value(userKey{}).(string); ok && id != "" {
		return id
	}
	return apperr.AnonymousUser
}
