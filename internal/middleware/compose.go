package middleware

import (
	"log/slog"
	"net/http"

	"github.com/dcravey/gantry/internal/identity"
)

// Options bundles the per-layer policies for one composed handler. A nil
// policy skips its layer; the error normalizer is always present. All
// fields are composition-time configuration — immutable once Compose
// returns.
type Options struct {
	Logger   *slog.Logger
	Mode     string
	Resolver identity.Resolver
	// Store backs the rate limiting layer. Defaults to a fresh
	// MemoryStore per composed handler whose cleanup goroutine runs for
	// the life of the process; pass a shared store when several routes
	// should draw from the same counters, or one you can Close when the
	// composed handler is short-lived.
	Store Store

	Auth       *AuthPolicy
	Admin      *AdminPolicy
	CORS       *CorsPolicy
	Validation *ValidationPolicy
	RateLimit  *RateLimitPolicy
	Errors     ErrorPolicy
}

// Compose wraps handler in the fixed policy order, outermost first:
//
//	Normalize → CORS → RateLimit → Validate → Auth → Admin → handler
//
// Errors anywhere must still carry CORS headers, so CORS sits just
// inside the normalizer; rate limiting rejects abuse before the cost of
// validation or an identity lookup; validation fails fast on malformed
// input before credentials are verified; auth sits closest to the
// handler because it is the handler's direct precondition.
//
// Composition is pure configuration: the same options always produce
// behaviorally identical handlers.
func Compose(handler http.Handler, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mw := []Middleware{Normalize(logger, opts.Errors)}

	if opts.CORS != nil {
		mw = append(mw, CORS(*opts.CORS))
	}
	if opts.RateLimit != nil {
		store := opts.Store
		if store == nil {
			store = NewMemoryStore()
		}
		mw = append(mw, RateLimit(store, *opts.RateLimit, logger))
	}
	if opts.Validation != nil {
		mw = append(mw, Validate(*opts.Validation))
	}
	if opts.Auth != nil {
		mw = append(mw, Auth(opts.Resolver, *opts.Auth, opts.Mode, logger))
	}
	if opts.Admin != nil {
		mw = append(mw, Admin(*opts.Admin, logger))
	}

	return Chain(handler, mw...)
}

// Deps carries the process-wide collaborators the option presets close
// over. One Deps value is built at startup and shared by every route.
type Deps struct {
	Logger              *slog.Logger
	Mode                string
	Resolver            identity.Resolver
	Store               Store
	CORS                CorsPolicy
	AdminUserIDs        []string
	DevFallbackIdentity string
	// RequireAuth gates the standard preset's 401 short-circuit. Routes
	// composed with PublicOptions or SearchOptions are unaffected.
	RequireAuth bool
	// RateLimit, when it carries a positive window and limit, replaces
	// the standard preset's default policy. Endpoint-specific presets
	// (admin, search, upload) keep their tuned limits.
	RateLimit RateLimitPolicy
}

// defaultRateLimit returns the operator-configured policy when one is
// set, else fallback.
func (d Deps) defaultRateLimit(fallback RateLimitPolicy) RateLimitPolicy {
	if d.RateLimit.MaxRequests > 0 && d.RateLimit.Window > 0 {
		return d.RateLimit
	}
	return fallback
}

// errorPolicy gates response stack traces on the process mode.
func (d Deps) errorPolicy() ErrorPolicy {
	return ErrorPolicy{
		LogErrors:         true,
		IncludeStackTrace: d.Mode != ModeProduction,
	}
}

func (d Deps) base() Options {
	cors := d.CORS
	return Options{
		Logger:   d.Logger,
		Mode:     d.Mode,
		Resolver: d.Resolver,
		Store:    d.Store,
		CORS:     &cors,
		Errors:   d.errorPolicy(),
	}
}

// StandardOptions is the default API preset: the configured rate limit
// (moderate when none is configured) and auth per Deps.RequireAuth.
func StandardOptions(d Deps) Options {
	o := d.base()
	rl := d.defaultRateLimit(ModerateRateLimit())
	o.RateLimit = &rl
	o.Auth = &AuthPolicy{RequireAuth: d.RequireAuth, DevFallbackIdentity: d.DevFallbackIdentity}
	return o
}

// PublicOptions serves unauthenticated endpoints with a lenient limit.
func PublicOptions(d Deps) Options {
	o := d.base()
	rl := LenientRateLimit()
	o.RateLimit = &rl
	return o
}

// AdminOptions is StandardOptions plus the allow-list check and a strict
// rate limit.
func AdminOptions(d Deps) Options {
	o := StandardOptions(d)
	rl := StrictRateLimit()
	o.RateLimit = &rl
	o.Admin = &AdminPolicy{AdminUserIDs: d.AdminUserIDs}
	return o
}

// SearchOptions resolves identity when present but does not require it.
func SearchOptions(d Deps) Options {
	o := d.base()
	rl := SearchRateLimit()
	o.RateLimit = &rl
	o.Auth = &AuthPolicy{RequireAuth: false, DevFallbackIdentity: d.DevFallbackIdentity}
	return o
}

// UploadOptions requires auth and applies the long-window upload limit.
func UploadOptions(d Deps) Options {
	o := StandardOptions(d)
	rl := UploadRateLimit()
	o.RateLimit = &rl
	return o
}

// DevOptions is StandardOptions with stack traces forced on and a
// lenient limit, for local iteration.
func DevOptions(d Deps) Options {
	o := StandardOptions(d)
	rl := LenientRateLimit()
	o.RateLimit = &rl
	o.Errors.IncludeStackTrace = true
	return o
}

// ProdOptions is StandardOptions with stack traces forced off, whatever
// the process mode claims.
func ProdOptions(d Deps) Options {
	o := StandardOptions(d)
	o.Errors.IncludeStackTrace = false
	return o
}
