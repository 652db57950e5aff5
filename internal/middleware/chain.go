// Package middleware implements the request policy pipeline: error
// normalization, CORS negotiation, rate limiting, schema validation,
// and identity resolution, composed around an opaque terminal handler.
package middleware

import "net/http"

// Middleware wraps an http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Chain composes middleware in the order given. The first middleware
// in the list is the outermost (runs first on request, last on response).
//
//	Chain(handler, normalize, cors, ratelimit)
//	// Request order:  normalize → cors → ratelimit → handler
//	// Response order: handler → ratelimit → cors → normalize
func Chain(h http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
