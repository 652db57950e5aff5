// Package server configures and runs the HTTP server.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dcravey/gantry/internal/config"
	"github.com/dcravey/gantry/internal/handler"
	"github.com/dcravey/gantry/internal/identity"
	"github.com/dcravey/gantry/internal/middleware"
	"github.com/dcravey/gantry/internal/schema"
)

// Route schemas. Declared once here so the validation layer and the
// handlers agree on what reaches the handler.

func createTaskSchema() *schema.Schema {
	return schema.Object(map[string]schema.Field{
		"name":        {Type: schema.String, Required: true, NonEmpty: true, MaxLen: 200},
		"description": {Type: schema.String, MaxLen: 2000},
		"priority":    {Type: schema.Int, Min: schema.Ptr(1), Max: schema.Ptr(5)},
		"status":      {Type: schema.String, Enum: []string{"open", "in_progress", "done"}},
	})
}

func listTasksSchema() *schema.Schema {
	return schema.Object(map[string]schema.Field{
		"status": {Type: schema.String, Enum: []string{"open", "in_progress", "done"}},
		"limit":  {Type: schema.Int, Min: schema.Ptr(1), Max: schema.Ptr(200)},
	})
}

func taskIDSchema() *schema.Schema {
	return schema.Object(map[string]schema.Field{
		"id": {Type: schema.String, Required: true, NonEmpty: true},
	})
}

func searchSchema() *schema.Schema {
	return schema.Object(map[string]schema.Field{
		"q":     {Type: schema.String, Required: true, NonEmpty: true, MaxLen: 200},
		"limit": {Type: schema.Int, Min: schema.Ptr(1), Max: schema.Ptr(100)},
	})
}

// New creates a configured *http.Server with all routes and middleware
// wired. resolver verifies credentials; ks may be nil when identities
// come from somewhere other than the key store (it only feeds the admin
// stats endpoint). rlStore backs every route's rate limit counters.
func New(cfg config.Config, resolver identity.Resolver, ks *identity.KeyStore, rlStore middleware.Store, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	tasks := handler.NewTaskStore()
	started := time.Now()

	deps := middleware.Deps{
		Logger:              logger,
		Mode:                cfg.Mode,
		Resolver:            resolver,
		Store:               rlStore,
		CORS:                corsPolicy(cfg),
		AdminUserIDs:        cfg.Auth.AdminUserIDs,
		DevFallbackIdentity: cfg.Auth.DevFallbackIdentity,
		RequireAuth:         cfg.Auth.RequireAuth,
		RateLimit: middleware.RateLimitPolicy{
			Window:      cfg.RateLimit.Window,
			MaxRequests: cfg.RateLimit.MaxRequests,
		},
	}

	// Ambient stack applied outside every composed route.
	// Order (outermost → innermost): RequestID → Metrics → Logging → composed.
	// Logging wraps the composition so the canonical line sees the final
	// status and any fields inner layers attached.
	wire := func(h http.Handler, opts middleware.Options) http.Handler {
		return middleware.Chain(middleware.Compose(h, opts),
			middleware.RequestID(),
			middleware.Metrics(),
			middleware.Logging(logger),
		)
	}

	withValidation := func(opts middleware.Options, v middleware.ValidationPolicy) middleware.Options {
		opts.Validation = &v
		return opts
	}

	// Liveness, version, and metrics. Metrics stays outside the pipeline:
	// scrapes should not count against any window or emit request logs.
	mux.Handle("GET /health", wire(handler.Health(), middleware.PublicOptions(deps)))
	mux.Handle("GET /version", wire(handler.VersionInfo(), middleware.PublicOptions(deps)))
	mux.Handle("GET /metrics", promhttp.Handler())

	// Task API.
	mux.Handle("POST /v1/tasks", wire(handler.CreateTask(tasks),
		withValidation(middleware.StandardOptions(deps), middleware.ValidationPolicy{Body: createTaskSchema()})))
	mux.Handle("GET /v1/tasks", wire(handler.ListTasks(tasks),
		withValidation(middleware.StandardOptions(deps), middleware.ValidationPolicy{Query: listTasksSchema()})))
	mux.Handle("GET /v1/tasks/{id}", wire(handler.GetTask(tasks),
		withValidation(middleware.StandardOptions(deps), middleware.ValidationPolicy{Params: taskIDSchema()})))

	mux.Handle("GET /v1/search", wire(handler.SearchTasks(tasks),
		withValidation(middleware.SearchOptions(deps), middleware.ValidationPolicy{Query: searchSchema()})))

	mux.Handle("GET /v1/admin/stats", wire(handler.AdminStats(tasks, ks, started),
		middleware.AdminOptions(deps)))

	// Preflights for any path. Method-specific patterns above never match
	// OPTIONS, so without this route preflights would 405 before the CORS
	// layer could answer them.
	mux.Handle("OPTIONS /", wire(http.NotFoundHandler(), middleware.PublicOptions(deps)))

	return &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}
}

func corsPolicy(cfg config.Config) middleware.CorsPolicy {
	p := middleware.DefaultCorsPolicy()
	p.AllowedOrigins = cfg.CORS.AllowedOrigins
	return p
}

// Shutdown gracefully shuts down the server with the given context.
func Shutdown(ctx context.Context, srv *http.Server, logger *slog.Logger) {
	logger.Info("shutting down server")
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "err", err)
	}
}
