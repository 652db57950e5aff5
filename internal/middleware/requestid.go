package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// RequestID assigns a unique request ID per request. If the client sends
// an X-Request-ID header, it is reused (for distributed tracing);
// otherwise a new UUID is generated. The ID is stored in the request
// context and echoed back in the X-Request-ID response header.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
			}

			w.Header().Set("X-Request-ID", id)
			ctx := context.WithValue(r.Context(), requestIDContextKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
