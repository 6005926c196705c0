package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/ignite/scrub-gateway/internal/apperr"
	"github.com/ignite/scrub-gateway/internal/pkg/httputil"
	"github.com/ignite/scrub-gateway/internal/pkg/logger"
)

// TokenVerifier is satisfied by *Verifier.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*Identity, error)
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored by the middleware, if any.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
// ok is false when no Authorization header is present.
func BearerToken(r *http.Request) (token string, ok bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return "", false
	}
	scheme, tok, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(tok), true
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(v TokenVerifier) func(http.Handler) http.Handler {
	return middleware(v, true)
}

// OptionalAuth lets anonymous requests through but rejects a token that is
// presented and fails verification.
func OptionalAuth(v TokenVerifier) func(http.Handler) http.Handler {
	return middleware(v, false)
}

func middleware(v TokenVerifier, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, present := BearerToken(r)
			if !present {
				if required {
					httputil.WriteError(w, r, apperr.Unauthorizedf("missing bearer token"))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			id, err := v.Verify(r.Context(), tok)
			if err != nil {
				logger.Warn("auth: token rejected",
					"path", r.URL.Path, "kind", apperr.KindOf(err).String(), "token", logger.RedactToken(tok), "error", err)
				httputil.WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
