package middleware

import (
	"log/slog"
	"net/http"

	"github.com/dcravey/gantry/internal/apierror"
	"github.com/dcravey/gantry/internal/identity"
)

// Process modes. The dev fallback identity is honored only in
// development; production ignores it unconditionally.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// AuthPolicy configures the identity resolution layer.
type AuthPolicy struct {
	// RequireAuth short-circuits anonymous requests with 401.
	RequireAuth bool
	// DevFallbackIdentity is synthesized for anonymous requests in
	// development mode. Purely for local testing.
	DevFallbackIdentity string
	// Unauthorized, when set, replaces the canonical 401 response.
	Unauthorized http.HandlerFunc
}

// Auth returns middleware that resolves the caller's identity exactly
// once per request. Verification failures are downgraded to anonymous —
// this layer never fails a request except for the 401 short-circuit
// when RequireAuth is set and no identity could be established.
func Auth(resolver identity.Resolver, policy AuthPolicy, mode string, logger *slog.Logger) Middleware {
	if resolver == nil {
		resolver = identity.Anonymous()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := resolver.ResolveUserID(r)
			if err != nil {
				AuthFailures.Inc()
				logger.Debug("identity verification failed, treating as anonymous",
					"err", err,
					"path", r.URL.Path,
				)
				userID = ""
			}

			if userID == "" && mode == ModeDevelopment && policy.DevFallbackIdentity != "" {
				userID = policy.DevFallbackIdentity
			}

			if userID == "" {
				if policy.RequireAuth {
					if policy.Unauthorized != nil {
						policy.Unauthorized(w, r)
						return
					}
					apierror.Write(w, apierror.Unauthorized("Authentication required"))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			addLogField(r.Context(), "user_id", userID)
			ctx := withIdentity(r.Context(), Identity{UserID: userID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
