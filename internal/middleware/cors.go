package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CorsPolicy configures cross-origin response negotiation.
type CorsPolicy struct {
	// AllowedOrigins lists origins that may use credentials. When empty,
	// any origin is echoed (permissive fallback for single-tenant
	// deployments fronted by their own origin checks).
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAgeSeconds    int
}

// DefaultCorsPolicy returns the policy used by the built-in presets.
func DefaultCorsPolicy() CorsPolicy {
	return CorsPolicy{
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAgeSeconds:    86400,
	}
}

// CORS returns middleware that negotiates cross-origin headers. OPTIONS
// requests are answered as preflights and never reach inner layers.
//
// For all other methods, headers are written to the response header map
// before the inner layers run, so they survive any short-circuit or
// normalized error produced further in. Wildcard origin and credentials
// are mutually exclusive: an echoed origin may carry credentials, "*"
// never does.
func CORS(policy CorsPolicy) Middleware {
	allowedOrigins := make(map[string]struct{}, len(policy.AllowedOrigins))
	for _, o := range policy.AllowedOrigins {
		allowedOrigins[o] = struct{}{}
	}
	methods := strings.Join(policy.AllowedMethods, ", ")
	headers := strings.Join(policy.AllowedHeaders, ", ")
	expose := strings.Join(policy.ExposeHeaders, ", ")
	maxAge := strconv.Itoa(policy.MaxAgeSeconds)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()

			// Baseline hardening headers apply to every response,
			// whatever the CORS outcome.
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-XSS-Protection", "1; mode=block")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")

			h.Set("Access-Control-Allow-Methods", methods)

			origin := r.Header.Get("Origin")
			if echoOrigin(r, origin, allowedOrigins) {
				h.Set("Access-Control-Allow-Origin", origin)
				if policy.AllowCredentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
				// Origin-specific headers must not be cached across origins.
				h.Add("Vary", "Origin")
				h.Add("Vary", "Access-Control-Request-Headers")
			} else {
				h.Set("Access-Control-Allow-Origin", "*")
			}

			if expose != "" {
				h.Set("Access-Control-Expose-Headers", expose)
			}

			if r.Method == http.MethodOptions {
				// Preflight: echo the requested method/headers when
				// present, else advertise the configured allow-lists.
				if reqMethod := r.Header.Get("Access-Control-Request-Method"); reqMethod != "" {
					h.Set("Access-Control-Allow-Methods", reqMethod)
				}
				if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
					h.Set("Access-Control-Allow-Headers", reqHeaders)
				} else {
					h.Set("Access-Control-Allow-Headers", headers)
				}
				h.Set("Access-Control-Max-Age", maxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// echoOrigin decides whether the exact origin is echoed back (enabling
// credentials) instead of the wildcard: allow-listed origins, requests
// that carry or preflight an Authorization header, or any origin when no
// allow-list was configured.
func echoOrigin(r *http.Request, origin string, allowed map[string]struct{}) bool {
	if origin == "" {
		return false
	}
	if _, ok := allowed[origin]; ok {
		return true
	}
	if r.Header.Get("Authorization") != "" {
		return true
	}
	if strings.Contains(strings.ToLower(r.Header.Get("Access-Control-Request-Headers")), "authorization") {
		return true
	}
	return len(allowed) == 0
}
