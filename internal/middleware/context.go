package middleware

import "context"

// contextKey is an unexported type for context keys in this package.
type contextKey string

const (
	requestIDContextKey contextKey = "request_id"
	identityContextKey  contextKey = "identity"
	validatedContextKey contextKey = "validated"
)

// Identity is the resolved caller. It is written once by the auth layer
// and read-only for everything downstream.
type Identity struct {
	UserID string
}

// Validated holds the typed values produced by the validation layer.
// Each target is nil unless a schema was configured for it. The struct
// is set once and never mutated afterwards within a request.
type Validated struct {
	Body   map[string]any
	Query  map[string]any
	Params map[string]any
}

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFromContext retrieves the resolved identity. ok is false for
// anonymous requests.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	return id, ok
}

func withValidated(ctx context.Context, v *Validated) context.Context {
	return context.WithValue(ctx, validatedContextKey, v)
}

// ValidatedFromContext retrieves the validated values, or nil when no
// validation layer ran for this request.
func ValidatedFromContext(ctx context.Context) *Validated {
	v, _ := ctx.Value(validatedContextKey).(*Validated)
	return v
}

// RequestIDFromContext retrieves the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}
