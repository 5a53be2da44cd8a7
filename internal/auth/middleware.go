package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/code-runner/internal/apperror"
)

// contextKey is an unexported type used for context keys in this package,
// so no other package can read or shadow the values stored here.
type contextKey string

const identityKey contextKey = "identity"

// ErrorWriter renders a rejected request. The gateway passes its JSON error
// writer so a 401 has the same body shape as every other failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// RequireServiceToken is a middleware that rejects requests without a valid
// bearer token with an apperror.ErrUnauthorized. The caller's identity is
// stored in the request context.
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireServiceToken(tokens *TokenService, writeError ErrorWriter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				writeError(w, r, apperror.Unauthorized("missing bearer token"))
				return
			}

			id, err := tokens.Validate(raw)
			if err != nil {
				logger.Warn("rejected service token",
					slog.String("remote", r.RemoteAddr),
					slog.String("error", err.Error()),
				)
				writeError(w, r, apperror.Unauthorized("invalid service token"))
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the authenticated caller, if any.
//
// Returns (Identity{}, false) when auth is disabled or the route is public.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok && id.Service != ""
}

// bearerToken reads "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
