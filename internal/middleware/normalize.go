package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/dcravey/gantry/internal/apierror"
)

// ErrorPolicy configures the outermost error normalization layer.
type ErrorPolicy struct {
	LogErrors bool
	// IncludeStackTrace puts the stack in the response body. Must stay
	// off in production; the structured log carries the stack instead.
	IncludeStackTrace bool
}

// Normalize returns the outermost middleware. It recovers any panic
// raised by an inner layer or the terminal handler, classifies it
// through the error taxonomy, logs it exactly once, and writes the
// normalized JSON response. It never panics itself, so every request
// produces exactly one well-formed response.
func Normalize(logger *slog.Logger, policy ErrorPolicy) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				PanicsRecovered.Inc()

				apiErr := apierror.FromPanic(v)
				stack := string(debug.Stack())

				if policy.LogErrors {
					attrs := []any{
						"error", fmt.Sprint(v),
						"kind", apiErr.Kind,
						"status", apiErr.Status,
						"method", r.Method,
						"path", r.URL.Path,
						"handler", normalizePath(r),
						"user_agent", r.UserAgent(),
						"origin", r.Header.Get("Origin"),
						"request_id", RequestIDFromContext(r.Context()),
						"stack", stack,
					}
					// Identity is attached to the context inside the auth
					// layer, below this one; the shared log-fields map is
					// the only view of it from out here.
					if userID := logFieldValue(r.Context(), "user_id"); userID != "" {
						attrs = append(attrs, "user_id", userID)
					}
					logger.Error("request failed", attrs...)
				}

				if policy.IncludeStackTrace {
					apiErr.Stack = stack
				}
				apierror.Write(w, apiErr)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// E adapts an error-returning handler to http.Handler. A returned error
// is re-raised so the normalization layer classifies, logs, and responds
// exactly once — handlers never write their own error bodies.
func E(h func(http.ResponseWriter, *http.Request) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			panic(err)
		}
	})
}
