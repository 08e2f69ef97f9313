package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/omni/alias-relay/auth"
	"github.com/omni/alias-relay/logging"
	"github.com/omni/alias-relay/presenter/http/render"
)

// NewAuthMiddleware rejects requests without a verifiable bearer token with 401.
func NewAuthMiddleware(verifier auth.Verifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				render.Fail(w, r, http.StatusUnauthorized, "missing bearer token")
				return
			}
			identity, err := verifier.Verify(r.Context(), token)
			if err != nil {
				logging.LoggerFromContext(r.Context()).WithError(err).Warn("rejected bearer token")
				render.Fail(w, r, http.StatusUnauthorized, "invalid bearer token")
				return
			}
			ctx := context.WithValue(r.Context(), identityCtxKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

// Identity returns the verified caller, or nil outside of the auth middleware.
func Identity(ctx context.Context) *auth.Identity {
	identity, _ := ctx.Value(identityCtxKey).(*auth.Identity)
	return identity
}
