package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
	"github.com/mcpambassador/server/internal/session"
)

type ctxKey int

const sessionCtxKey ctxKey = iota

// requireSession validates X-Session-Token and injects the verified
// session into the request context.
func requireSession(mgr *session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Session-Token")
			if token == "" {
				writeError(w, ambassadorerrors.NewUnauthorizedError("missing X-Session-Token header", nil))
				return
			}
			verified, err := mgr.Verify(r.Context(), token)
			if err != nil {
				writeError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), sessionCtxKey, verified)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionFromContext(r *http.Request) *session.Verified {
	v, _ := r.Context().Value(sessionCtxKey).(*session.Verified)
	return v
}

// requireAdmin validates a bearer admin key (amb_ak_...) against check.
// check is supplied by the caller; cmd/ambassadord backs it with
// memstore.AdminKeys (Argon2id-hashed admin keys).
func requireAdmin(check func(ctx context.Context, rawKey string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			key := strings.TrimPrefix(auth, "Bearer ")
			if key == "" || key == auth || !check(r.Context(), key) {
				writeError(w, ambassadorerrors.NewUnauthorizedError("admin authentication required", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
