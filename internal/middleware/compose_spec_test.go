package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dcravey/gantry/internal/apierror"
	"github.com/dcravey/gantry/internal/identity"
	"github.com/dcravey/gantry/internal/schema"
)

var _ = Describe("Compose", func() {
	var deps Deps

	newDeps := func(mode string) Deps {
		return Deps{
			Logger: discardLogger(),
			Mode:   mode,
			Resolver: identity.Static(map[string]string{
				"sk-alice": "u-alice",
				"sk-root":  "u-root",
			}),
			Store:        NewMemoryStore(),
			CORS:         DefaultCorsPolicy(),
			AdminUserIDs: []string{"u-root"},
			RequireAuth:  true,
		}
	}

	send := func(h http.Handler, method, target, body string, hdrs map[string]string) *httptest.ResponseRecorder {
		var req *http.Request
		if body != "" {
			req = httptest.NewRequest(method, target, strings.NewReader(body))
		} else {
			req = httptest.NewRequest(method, target, nil)
		}
		req.RemoteAddr = "192.0.2.10:50000"
		for k, v := range hdrs {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		deps = newDeps(ModeProduction)
	})

	Describe("standard preset", func() {
		It("admits an authenticated request and exposes the resolved identity", func() {
			var seen Identity
			h := Compose(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen, _ = IdentityFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}), StandardOptions(deps))

			rec := send(h, http.MethodGet, "/v1/tasks", "", map[string]string{"Authorization": "Bearer sk-alice"})
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(seen.UserID).To(Equal("u-alice"))
		})

		It("rejects anonymous requests with a normalized 401", func() {
			h := Compose(okHandler(), StandardOptions(deps))
			rec := send(h, http.MethodGet, "/v1/tasks", "", nil)

			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))
			var body map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body["error"]).To(Equal("Authentication required"))
		})

		It("carries rate limit headers on every admitted response", func() {
			h := Compose(okHandler(), StandardOptions(deps))
			rec := send(h, http.MethodGet, "/v1/tasks", "", map[string]string{"Authorization": "Bearer sk-alice"})

			Expect(rec.Header().Get("X-RateLimit-Limit")).To(Equal("60"))
			Expect(rec.Header().Get("X-RateLimit-Used")).To(Equal("1"))
			Expect(rec.Header().Get("X-RateLimit-Remaining")).To(Equal("59"))
			Expect(rec.Header().Get("X-RateLimit-Reset")).NotTo(BeEmpty())
		})
	})

	Describe("configured defaults", func() {
		It("applies the configured rate limit to the standard preset", func() {
			limited := newDeps(ModeProduction)
			limited.RateLimit = RateLimitPolicy{Window: time.Minute, MaxRequests: 1}
			h := Compose(okHandler(), StandardOptions(limited))

			hdrs := map[string]string{"Authorization": "Bearer sk-alice"}
			Expect(send(h, http.MethodGet, "/v1/tasks", "", hdrs).Code).To(Equal(http.StatusOK))

			rec := send(h, http.MethodGet, "/v1/tasks", "", hdrs)
			Expect(rec.Code).To(Equal(http.StatusTooManyRequests))
			Expect(rec.Header().Get("X-RateLimit-Limit")).To(Equal("1"))
		})

		It("keeps the admin preset's strict limit over the configured one", func() {
			limited := newDeps(ModeProduction)
			limited.RateLimit = RateLimitPolicy{Window: time.Minute, MaxRequests: 1}
			h := Compose(okHandler(), AdminOptions(limited))

			hdrs := map[string]string{"Authorization": "Bearer sk-root"}
			Expect(send(h, http.MethodGet, "/v1/admin/stats", "", hdrs).Code).To(Equal(http.StatusOK))
			rec := send(h, http.MethodGet, "/v1/admin/stats", "", hdrs)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("X-RateLimit-Limit")).To(Equal("10"))
		})

		It("admits anonymous callers when auth is not required", func() {
			open := newDeps(ModeProduction)
			open.RequireAuth = false
			h := Compose(okHandler(), StandardOptions(open))

			Expect(send(h, http.MethodGet, "/v1/tasks", "", nil).Code).To(Equal(http.StatusOK))
		})
	})

	Describe("layer ordering", func() {
		It("rejects over the rate limit before validation or auth run", func() {
			opts := StandardOptions(deps)
			rl := RateLimitPolicy{Window: ModerateRateLimit().Window, MaxRequests: 1}
			opts.RateLimit = &rl
			opts.Validation = &ValidationPolicy{
				Body: schema.Object(map[string]schema.Field{
					"name": {Type: schema.String, Required: true},
				}),
			}
			h := Compose(okHandler(), opts)

			first := send(h, http.MethodPost, "/v1/tasks", `{"name":"ok"}`, map[string]string{"Authorization": "Bearer sk-alice"})
			Expect(first.Code).To(Equal(http.StatusOK))

			// Invalid body, no credentials: the exhausted limit must win.
			second := send(h, http.MethodPost, "/v1/tasks", `{"bogus`, nil)
			Expect(second.Code).To(Equal(http.StatusTooManyRequests))
			Expect(second.Header().Get("Retry-After")).NotTo(BeEmpty())
		})

		It("rejects invalid input before credentials are checked", func() {
			opts := StandardOptions(deps)
			opts.Validation = &ValidationPolicy{
				Body: schema.Object(map[string]schema.Field{
					"name": {Type: schema.String, Required: true},
				}),
			}
			h := Compose(okHandler(), opts)

			// No Authorization header at all; validation still answers first.
			rec := send(h, http.MethodPost, "/v1/tasks", `{}`, nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))

			var body map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body["error"]).To(Equal("Validation failed"))
		})
	})

	Describe("CORS on error paths", func() {
		It("keeps negotiated headers on a handler panic", func() {
			h := Compose(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic(errors.New("backend exploded"))
			}), PublicOptions(deps))

			rec := send(h, http.MethodGet, "/health", "", map[string]string{"Origin": "https://app.example.com"})
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).NotTo(BeEmpty())
			Expect(rec.Header().Get("X-Content-Type-Options")).To(Equal("nosniff"))
		})

		It("keeps negotiated headers on a 401 short-circuit", func() {
			h := Compose(okHandler(), StandardOptions(deps))
			rec := send(h, http.MethodGet, "/v1/tasks", "", map[string]string{"Origin": "https://app.example.com"})

			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).NotTo(BeEmpty())
		})

		It("answers preflights without touching rate limits or auth", func() {
			opts := StandardOptions(deps)
			rl := RateLimitPolicy{Window: StrictRateLimit().Window, MaxRequests: 1}
			opts.RateLimit = &rl
			h := Compose(okHandler(), opts)

			for i := 0; i < 5; i++ {
				rec := send(h, http.MethodOptions, "/v1/tasks", "", map[string]string{
					"Origin":                        "https://app.example.com",
					"Access-Control-Request-Method": "POST",
				})
				Expect(rec.Code).To(Equal(http.StatusNoContent))
				Expect(rec.Header().Get("X-RateLimit-Used")).To(BeEmpty())
			}
		})
	})

	Describe("admin preset", func() {
		It("distinguishes anonymous, forbidden, and allowed callers", func() {
			h := Compose(okHandler(), AdminOptions(deps))

			Expect(send(h, http.MethodGet, "/v1/admin/stats", "", nil).Code).
				To(Equal(http.StatusUnauthorized))
			Expect(send(h, http.MethodGet, "/v1/admin/stats", "", map[string]string{"Authorization": "Bearer sk-alice"}).Code).
				To(Equal(http.StatusForbidden))
			Expect(send(h, http.MethodGet, "/v1/admin/stats", "", map[string]string{"Authorization": "Bearer sk-root"}).Code).
				To(Equal(http.StatusOK))
		})

		It("denies everyone when the allow-list is empty", func() {
			deps.AdminUserIDs = nil
			h := Compose(okHandler(), AdminOptions(deps))

			rec := send(h, http.MethodGet, "/v1/admin/stats", "", map[string]string{"Authorization": "Bearer sk-root"})
			Expect(rec.Code).To(Equal(http.StatusForbidden))
		})
	})

	Describe("mode-dependent behavior", func() {
		It("synthesizes the dev fallback identity only in development", func() {
			dev := newDeps(ModeDevelopment)
			dev.DevFallbackIdentity = "dev-user"

			var seen Identity
			capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen, _ = IdentityFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			Expect(send(Compose(capture, StandardOptions(dev)), http.MethodGet, "/v1/tasks", "", nil).Code).
				To(Equal(http.StatusOK))
			Expect(seen.UserID).To(Equal("dev-user"))

			prod := newDeps(ModeProduction)
			prod.DevFallbackIdentity = "dev-user"
			Expect(send(Compose(capture, StandardOptions(prod)), http.MethodGet, "/v1/tasks", "", nil).Code).
				To(Equal(http.StatusUnauthorized))
		})

		It("includes stacks outside production and strips them in ProdOptions", func() {
			boom := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic(errors.New("boom"))
			})

			dev := newDeps(ModeDevelopment)
			rec := send(Compose(boom, DevOptions(dev)), http.MethodGet, "/", "", map[string]string{"Authorization": "Bearer sk-alice"})
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(rec.Body.String()).To(ContainSubstring(`"stack"`))

			rec = send(Compose(boom, ProdOptions(deps)), http.MethodGet, "/", "", map[string]string{"Authorization": "Bearer sk-alice"})
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(rec.Body.String()).NotTo(ContainSubstring(`"stack"`))
			Expect(rec.Body.String()).To(ContainSubstring("An unexpected error occurred."))
		})
	})

	Describe("composition determinism", func() {
		It("produces behaviorally identical handlers from the same options", func() {
			opts := StandardOptions(deps)
			a := Compose(okHandler(), opts)
			b := Compose(okHandler(), opts)

			hdrs := map[string]string{"Authorization": "Bearer sk-alice", "Origin": "https://app.example.com"}
			ra := send(a, http.MethodGet, "/v1/tasks", "", hdrs)
			rb := send(b, http.MethodGet, "/v1/tasks", "", hdrs)

			Expect(rb.Code).To(Equal(ra.Code))
			Expect(rb.Header().Get("Access-Control-Allow-Origin")).To(Equal(ra.Header().Get("Access-Control-Allow-Origin")))
			// Both handlers drew from the shared store, so the window
			// counter advanced across them.
			Expect(ra.Header().Get("X-RateLimit-Used")).To(Equal("1"))
			Expect(rb.Header().Get("X-RateLimit-Used")).To(Equal("2"))
		})

		It("typed handler errors keep their taxonomy status end to end", func() {
			h := Compose(E(func(w http.ResponseWriter, r *http.Request) error {
				return apierror.NotFound("Task not found")
			}), StandardOptions(deps))

			rec := send(h, http.MethodGet, "/v1/tasks/nope", "", map[string]string{"Authorization": "Bearer sk-alice"})
			Expect(rec.Code).To(Equal(http.StatusNotFound))

			var body map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body["error"]).To(Equal("Task not found"))
		})
	})
})
