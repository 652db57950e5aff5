// Package config handles loading and validating application configuration.
//
// Configuration is loaded from a YAML file with environment variable overrides.
// Environment variables use the GANTRY_ prefix (e.g., GANTRY_PORT).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	Server        Server        `yaml:"server"`
	Mode          string        `yaml:"mode"`
	Auth          Auth          `yaml:"auth"`
	CORS          CORS          `yaml:"cors"`
	RateLimit     RateLimit     `yaml:"ratelimit"`
	Log           Log           `yaml:"log"`
	Observability Observability `yaml:"observability"`
}

// Server configures the HTTP listener.
type Server struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Auth configures API key authentication and the admin allow-list.
type Auth struct {
	KeysFile            string   `yaml:"keys_file"`
	RequireAuth         bool     `yaml:"require_auth"`
	DevFallbackIdentity string   `yaml:"dev_fallback_identity"`
	AdminUserIDs        []string `yaml:"admin_user_ids"`
}

// CORS configures cross-origin response negotiation.
type CORS struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RateLimit configures the fixed-window rate limiter and its backing store.
type RateLimit struct {
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"max_requests"`
	// Store selects the counter backend: "memory" or "sqlite".
	Store      string `yaml:"store"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Log configures structured logging.
type Log struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	CloudFormat string `yaml:"cloud_format"`
}

// Observability configures optional OpenTelemetry tracing.
type Observability struct {
	OTelEnabled     bool   `yaml:"otel_enabled"`
	OTelEndpoint    string `yaml:"otel_endpoint"`
	OTelServiceName string `yaml:"otel_service_name"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() Config {
	return Config{
		Server: Server{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Mode: "development",
		Auth: Auth{
			KeysFile:    "./keys.txt",
			RequireAuth: true,
		},
		RateLimit: RateLimit{
			Window:      time.Minute,
			MaxRequests: 60,
			Store:       "memory",
			SQLitePath:  "./gantry.db",
		},
		Log: Log{
			Level:  "info",
			Format: "json",
		},
		Observability: Observability{
			OTelServiceName: "gantry",
		},
	}
}

// Load reads configuration from the given YAML file path, then applies
// environment variable overrides. If path is empty, only defaults and
// environment variables are used.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides reads GANTRY_* environment variables and overrides
// the corresponding config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GANTRY_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("GANTRY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("GANTRY_MODE"); v != "" {
		cfg.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("GANTRY_AUTH_KEYS_FILE"); v != "" {
		cfg.Auth.KeysFile = v
	}
	if v := os.Getenv("GANTRY_AUTH_REQUIRE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.RequireAuth = b
		}
	}
	if v := os.Getenv("GANTRY_AUTH_DEV_FALLBACK"); v != "" {
		cfg.Auth.DevFallbackIdentity = v
	}
	if v := os.Getenv("GANTRY_AUTH_ADMIN_IDS"); v != "" {
		cfg.Auth.AdminUserIDs = splitList(v)
	}
	if v := os.Getenv("GANTRY_CORS_ORIGINS"); v != "" {
		cfg.CORS.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("GANTRY_RATELIMIT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RateLimit.Window = d
		}
	}
	if v := os.Getenv("GANTRY_RATELIMIT_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.MaxRequests = n
		}
	}
	if v := os.Getenv("GANTRY_RATELIMIT_STORE"); v != "" {
		cfg.RateLimit.Store = strings.ToLower(v)
	}
	if v := os.Getenv("GANTRY_RATELIMIT_SQLITE_PATH"); v != "" {
		cfg.RateLimit.SQLitePath = v
	}
	if v := os.Getenv("GANTRY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("GANTRY_LOG_FORMAT"); v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}
	if v := os.Getenv("GANTRY_LOG_CLOUD_FORMAT"); v != "" {
		cfg.Log.CloudFormat = strings.ToLower(v)
	}
	if v := os.Getenv("GANTRY_OTEL_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Observability.OTelEnabled = b
		}
	}
	if v := os.Getenv("GANTRY_OTEL_ENDPOINT"); v != "" {
		cfg.Observability.OTelEndpoint = v
	}
	if v := os.Getenv("GANTRY_OTEL_SERVICE_NAME"); v != "" {
		cfg.Observability.OTelServiceName = v
	}
}

// splitList parses a comma-separated environment value into a trimmed,
// empty-filtered slice.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validate checks that the configuration is internally consistent.
func validate(cfg Config) error {
	var errs []error

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}
	if cfg.Mode != "development" && cfg.Mode != "production" {
		errs = append(errs, fmt.Errorf("mode must be development or production; got %q", cfg.Mode))
	}
	if cfg.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("ratelimit.window must be positive"))
	}
	if cfg.RateLimit.MaxRequests < 1 {
		errs = append(errs, errors.New("ratelimit.max_requests must be at least 1"))
	}
	switch cfg.RateLimit.Store {
	case "memory":
	case "sqlite":
		if cfg.RateLimit.SQLitePath == "" {
			errs = append(errs, errors.New("ratelimit.sqlite_path is required for the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("ratelimit.store must be memory or sqlite; got %q", cfg.RateLimit.Store))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		errs = append(errs, fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", cfg.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Log.Format] {
		errs = append(errs, fmt.Errorf("log.format must be json or text; got %q", cfg.Log.Format))
	}
	validCloudFormats := map[string]bool{"": true, "gcp": true, "gcp_with_resource": true}
	if !validCloudFormats[cfg.Log.CloudFormat] {
		errs = append(errs, fmt.Errorf("log.cloud_format must be empty, gcp, or gcp_with_resource; got %q", cfg.Log.CloudFormat))
	}

	if cfg.Observability.OTelEnabled && cfg.Observability.OTelEndpoint == "" {
		errs = append(errs, errors.New("observability.otel_endpoint is required when otel_enabled is true"))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address as "host:port".
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
