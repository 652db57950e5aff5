package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dcravey/gantry/internal/apierror"
)

// Store tracks fixed-window request counters per key. Incr must be
// atomic: concurrent hits for the same key must observe a consistent
// increment-or-reset, never a lost update.
//
// The bundled MemoryStore is single-process; sharing counters across
// instances requires an external implementation of this interface.
type Store interface {
	// Incr records a hit for key at now. When the key's window has
	// expired (or the key is new), a fresh window starts with count 1.
	// It returns the hit count inside the current window and the
	// window's start time.
	Incr(key string, now time.Time, window time.Duration) (count int, windowStart time.Time, err error)
}

// RateLimitPolicy configures one rate limiting layer.
//
// Fixed-window accounting: a counter is valid for Window from its first
// hit, then resets. Bursts aligned at a window boundary can admit up to
// 2×MaxRequests in the worst case; that approximation is accepted in
// exchange for O(1) state per key.
type RateLimitPolicy struct {
	Window      time.Duration
	MaxRequests int
	// KeyFunc derives the counter key. Defaults to clientIP:method:path.
	// User-scoped keys (see UserScopedKey) require a composition that
	// runs the auth layer before this one.
	KeyFunc func(*http.Request) string
	// OnLimitReached, when set, replaces the canonical 429 response.
	OnLimitReached http.HandlerFunc
}

// Named preset policies. Configuration shortcuts only — every preset
// runs the same fixed-window algorithm.

func StrictRateLimit() RateLimitPolicy {
	return RateLimitPolicy{Window: time.Minute, MaxRequests: 10}
}

func ModerateRateLimit() RateLimitPolicy {
	return RateLimitPolicy{Window: time.Minute, MaxRequests: 60}
}

func LenientRateLimit() RateLimitPolicy {
	return RateLimitPolicy{Window: time.Minute, MaxRequests: 300}
}

// AuthRateLimit is sized for credential-sensitive endpoints.
func AuthRateLimit() RateLimitPolicy {
	return RateLimitPolicy{Window: 15 * time.Minute, MaxRequests: 5}
}

func SearchRateLimit() RateLimitPolicy {
	return RateLimitPolicy{Window: time.Minute, MaxRequests: 30}
}

func UploadRateLimit() RateLimitPolicy {
	return RateLimitPolicy{Window: time.Hour, MaxRequests: 10}
}

// RateLimit returns middleware that enforces the policy against store.
// Every admitted response carries X-RateLimit-Limit/Remaining/Reset/Used
// headers; the (MaxRequests+1)th hit inside a window short-circuits with
// 429 and Retry-After. Store errors fail open: availability over
// accounting.
func RateLimit(store Store, policy RateLimitPolicy, logger *slog.Logger) Middleware {
	keyFn := policy.KeyFunc
	if keyFn == nil {
		keyFn = DefaultKey
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count, windowStart, err := store.Incr(keyFn(r), time.Now(), policy.Window)
			if err != nil {
				logger.Error("rate limit store failure, admitting request", "err", err)
				next.ServeHTTP(w, r)
				return
			}

			reset := windowStart.Add(policy.Window)
			remaining := policy.MaxRequests - count
			if remaining < 0 {
				remaining = 0
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(policy.MaxRequests))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			h.Set("X-RateLimit-Used", strconv.Itoa(count))

			if count > policy.MaxRequests {
				RateLimitRejections.Inc()
				retryAfter := int(time.Until(reset).Seconds()) + 1
				if retryAfter < 1 {
					retryAfter = 1
				}
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				if policy.OnLimitReached != nil {
					policy.OnLimitReached(w, r)
					return
				}
				apierror.Write(w, apierror.RateLimited())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// DefaultKey scopes counters by clientIP:method:path.
func DefaultKey(r *http.Request) string {
	return clientIP(r) + ":" + r.Method + ":" + r.URL.Path
}

// UserScopedKey scopes counters by the authenticated user, falling back
// to DefaultKey for anonymous requests. Only meaningful in compositions
// where the auth layer runs before rate limiting.
func UserScopedKey(r *http.Request) string {
	if id, ok := IdentityFromContext(r.Context()); ok {
		return "user:" + id.UserID + ":" + r.Method + ":" + r.URL.Path
	}
	return DefaultKey(r)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// MemoryStore is the in-process fixed-window counter store. All access
// goes through one mutex; the read-compare-increment must be a single
// critical section or parallel requests could under-count.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*windowEntry

	done      chan struct{}
	closeOnce sync.Once
}

type windowEntry struct {
	windowStart time.Time
	window      time.Duration
	count       int
}

// NewMemoryStore creates a MemoryStore and starts its stale-entry
// cleanup goroutine. Call Close to stop the goroutine when the store is
// no longer needed.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*windowEntry),
		done:    make(chan struct{}),
	}
	go s.cleanup()
	return s
}

// Close stops the cleanup goroutine. Safe to call more than once; Incr
// keeps working on a closed store, only stale-entry reaping stops.
func (s *MemoryStore) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Incr implements Store.
func (s *MemoryStore) Incr(key string, now time.Time, window time.Duration) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || now.Sub(e.windowStart) >= window {
		e = &windowEntry{windowStart: now, window: window}
		s.entries[key] = e
	}
	e.count++
	return e.count, e.windowStart, nil
}

// cleanup periodically removes entries whose window expired long ago to
// prevent unbounded memory growth.
func (s *MemoryStore) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for key, e := range s.entries {
				if now.Sub(e.windowStart.Add(e.window)) > 10*time.Minute {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		}
	}
}
