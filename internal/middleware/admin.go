package middleware

import (
	"log/slog"
	"net/http"

	"github.com/dcravey/gantry/internal/apierror"
)

// AdminPolicy configures the admin allow-list check. It runs after the
// auth layer and relies on the identity it resolved.
type AdminPolicy struct {
	AdminUserIDs []string
}

// Admin returns middleware that rejects callers outside the allow-list:
// 401 when anonymous, 403 otherwise. An empty allow-list denies every
// caller — there is no implicit "empty means unrestricted" behavior.
func Admin(policy AdminPolicy, logger *slog.Logger) Middleware {
	allowed := make(map[string]struct{}, len(policy.AdminUserIDs))
	for _, id := range policy.AdminUserIDs {
		if id != "" {
			allowed[id] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		logger.Warn("admin allow-list is empty; every caller will be rejected")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				apierror.Write(w, apierror.Unauthorized("Authentication required"))
				return
			}
			if _, ok := allowed[id.UserID]; !ok {
				apierror.Write(w, apierror.Forbidden("Admin access required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
