package auth

import (
	"context"
	"errors"
	"net/http"

	"ms-restaurant/internal/logger"
	"ms-restaurant/internal/utils"
)

type contextKey string

const identityKey contextKey = "identity"

// Middleware rejects requests without a valid bearer token and stores the
// caller's identity in the request context.
func Middleware(v Verifier, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := ExtractTokenFromRequest(r)
			if err != nil {
				utils.RespondError(w, http.StatusUnauthorized, err.Error())
				return
			}
			id, err := v.Verify(r.Context(), raw)
			if err != nil {
				if !errors.Is(err, ErrMissingToken) {
					log.LogSecurity("INVALID_TOKEN", r.Method+" "+r.URL.Path+": "+err.Error())
				}
				utils.RespondError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), *id)))
		})
	}
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the identity stored by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// UserID is a helper for handlers that only need the subject.
func UserID(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id.UserID
}
