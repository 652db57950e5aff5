// Package identity resolves API credentials to user ids.
//
// The pipeline consumes only the Resolver interface and never inspects
// raw credentials beyond extracting the bearer token. A resolution
// failure is not a request failure: callers treat it as "anonymous".
package identity

import (
	"net/http"
	"strings"
)

// Resolver maps a request to a user id. An empty user id with a nil
// error means the request carried no credentials (anonymous); a non-nil
// error means credentials were present but could not be verified.
type Resolver interface {
	ResolveUserID(r *http.Request) (string, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(*http.Request) (string, error)

// ResolveUserID calls f.
func (f ResolverFunc) ResolveUserID(r *http.Request) (string, error) {
	return f(r)
}

// Anonymous returns a Resolver that never identifies anyone. Useful in
// tests and in development setups without a key file.
func Anonymous() Resolver {
	return ResolverFunc(func(*http.Request) (string, error) {
		return "", nil
	})
}

// Static returns a Resolver backed by a fixed token→user-id map.
func Static(users map[string]string) Resolver {
	return ResolverFunc(func(r *http.Request) (string, error) {
		token, ok := BearerToken(r)
		if !ok {
			return "", nil
		}
		userID, ok := users[token]
		if !ok {
			return "", ErrUnknownToken
		}
		return userID, nil
	})
}

// BearerToken parses the Authorization header for a Bearer token.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}

	token := strings.TrimSpace(h[len(prefix):])
	if token == "" {
		return "", false
	}

	return token, true
}
