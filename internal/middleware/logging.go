package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// logFieldsKey identifies the request-scoped logging fields map.
type logFieldsKey struct{}

// Logging returns middleware that emits one canonical log line per
// request: method, path, status, duration, client address, request id,
// plus any fields inner layers attached via addLogField (e.g. the
// resolved user id).
func Logging(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			// Mutable fields map so inner layers can enrich the canonical line.
			fields := make(map[string]string)
			ctx := context.WithValue(r.Context(), logFieldsKey{}, fields)

			next.ServeHTTP(sw, r.WithContext(ctx))

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"request_id", RequestIDFromContext(r.Context()),
			}
			for k, v := range fields {
				attrs = append(attrs, k, v)
			}
			logger.Info("request", attrs...)
		})
	}
}

// addLogField attaches a key/value to the request-scoped log fields map
// so Logging can emit it. No-op if the middleware isn't present or the
// value is empty.
func addLogField(ctx context.Context, key, value string) {
	if value == "" {
		return
	}
	if fields, ok := ctx.Value(logFieldsKey{}).(map[string]string); ok {
		fields[key] = value
	}
}

// logFieldValue reads one enriched field back out of the request-scoped
// map. Empty when the field (or the Logging middleware) is absent.
func logFieldValue(ctx context.Context, key string) string {
	if fields, ok := ctx.Value(logFieldsKey{}).(map[string]string); ok {
		return fields[key]
	}
	return ""
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

// WriteHeader captures the first status code before delegating.
func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for streaming support.
func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
