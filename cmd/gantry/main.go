package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dcravey/gantry/internal/config"
	"github.com/dcravey/gantry/internal/identity"
	"github.com/dcravey/gantry/internal/logging"
	"github.com/dcravey/gantry/internal/middleware"
	"github.com/dcravey/gantry/internal/observability"
	"github.com/dcravey/gantry/internal/server"
	"github.com/dcravey/gantry/internal/store/sqlite"
)

func main() {
	// Local .env files are a convenience; a missing file is not an error.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to config.yaml (optional, env vars work without it)")
	flag.Parse()

	// Load configuration: defaults -> YAML file -> env vars.
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)

	// Root context, cancelled on shutdown so the key store watcher stops.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load API keys. A missing keys file is fatal in production; in
	// development the server comes up with anonymous-only identity so the
	// dev fallback still works.
	var resolver identity.Resolver
	var ks *identity.KeyStore
	ks, err = identity.NewKeyStore(cfg.Auth.KeysFile, logger)
	switch {
	case err == nil:
		logger.Info("api keys loaded", "count", ks.Count())
		if werr := ks.Watch(ctx); werr != nil {
			logger.Warn("key store hot reload unavailable", "err", werr)
		}
		resolver = ks
	case cfg.Mode == "production":
		logger.Error("failed to load API keys", "err", err)
		os.Exit(1)
	default:
		logger.Warn("no API keys loaded, all requests are anonymous", "err", err)
		ks = nil
		resolver = identity.Anonymous()
	}

	// Rate limit counter store.
	var rlStore middleware.Store
	switch cfg.RateLimit.Store {
	case "sqlite":
		db, err := sqlite.Open(cfg.RateLimit.SQLitePath)
		if err != nil {
			logger.Error("failed to open sqlite rate limit store", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		go purgeLoop(ctx, db, logger)
		rlStore = db
		logger.Info("rate limit store", "backend", "sqlite", "path", cfg.RateLimit.SQLitePath)
	default:
		ms := middleware.NewMemoryStore()
		defer ms.Close()
		rlStore = ms
		logger.Info("rate limit store", "backend", "memory")
	}

	srv := server.New(cfg, resolver, ks, rlStore, logger)

	// Optional OpenTelemetry tracing: wrap handler so all requests are traced.
	var tp *observability.TracerProvider
	if cfg.Observability.OTelEnabled {
		var errOTel error
		tp, errOTel = observability.NewTracerProvider(ctx, cfg.Observability.OTelEndpoint, cfg.Observability.OTelServiceName)
		if errOTel != nil {
			logger.Error("otel tracer provider failed", "err", errOTel)
			os.Exit(1)
		}
		srv.Handler = observability.HTTPHandler(srv.Handler, cfg.Observability.OTelServiceName)
		logger.Info("opentelemetry tracing enabled", "endpoint", cfg.Observability.OTelEndpoint)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", "addr", cfg.Server.Addr(), "mode", cfg.Mode)
		if err := srv.ListenAndServe(); err != nil && err.Error() != "http: Server closed" {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-stop
	logger.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if tp != nil {
		_ = tp.Shutdown(shutdownCtx)
	}
	server.Shutdown(shutdownCtx, srv, logger)
	logger.Info("server stopped")
}

// purgeLoop trims expired sqlite counters hourly.
func purgeLoop(ctx context.Context, db *sqlite.Store, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.PurgeExpired(time.Now().Add(-10 * time.Minute))
			if err != nil {
				logger.Warn("rate limit purge failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Debug("purged expired rate limit counters", "count", n)
			}
		}
	}
}

func newLogger(cfg config.Log) *slog.Logger {
	level := logging.ParseLevel(cfg.Level)

	// Use cloud-friendly logger (GCP severity, optional resource) when configured.
	if cfg.CloudFormat != "" {
		return logging.NewLogger(os.Stdout, level, cfg.Format, cfg.CloudFormat)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
