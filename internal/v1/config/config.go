package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Server
	Host string
	Port string

	// Room lifecycle
	InactivityTimeout time.Duration
	SweepInterval     time.Duration

	// Optional variables with defaults
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	AllowedOrigins  string

	// Static front-end (optional)
	ServeFrontend bool
	FrontendDir   string

	// Tracing (disabled when endpoint is empty)
	OTLPEndpoint string

	// Rate limits (ulule/limiter formatted, M = minute, H = hour)
	RateLimitAPI string
	RateLimitWS  string
}

const (
	defaultInactivityTimeout = time.Hour
	defaultSweepInterval     = 15 * time.Minute
)

// ValidateEnv validates all environment variables and returns a Config object.
// Returns an error if any variable is present but invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Host = getEnvOrDefault("HOST", "0.0.0.0")

	cfg.Port = getEnvOrDefault("PORT", "8000")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	var err error
	cfg.InactivityTimeout, err = durationEnv("INACTIVITY_TIMEOUT", defaultInactivityTimeout)
	if err != nil {
		errs = append(errs, err.Error())
	}
	cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", defaultSweepInterval)
	if err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.InactivityTimeout <= 0 {
		errs = append(errs, "INACTIVITY_TIMEOUT must be positive")
	}
	if cfg.SweepInterval <= 0 {
		errs = append(errs, "SWEEP_INTERVAL must be positive")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	cfg.ServeFrontend = os.Getenv("SERVE_FRONTEND") == "true"
	cfg.FrontendDir = getEnvOrDefault("FRONTEND_DIR", "./static")
	if cfg.ServeFrontend {
		if _, statErr := os.Stat(cfg.FrontendDir); statErr != nil {
			errs = append(errs, fmt.Sprintf("FRONTEND_DIR '%s' is not readable: %v", cfg.FrontendDir, statErr))
		}
	}

	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	cfg.RateLimitAPI = getEnvOrDefault("RATE_LIMIT_API", "1000-M")
	cfg.RateLimitWS = getEnvOrDefault("RATE_LIMIT_WS", "100-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// AllowedOriginList splits the configured origins, falling back to the given
// defaults when unset.
func (c *Config) AllowedOriginList(defaults []string) []string {
	if c.AllowedOrigins == "" {
		return defaults
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return defaults
	}
	return origins
}

// Addr returns the host:port bind address.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

func durationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a Go duration like '1h' or '15m' (got '%s')", key, raw)
	}
	return d, nil
}

// logValidatedConfig logs the validated configuration
func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated")
	slog.Info("Configuration",
		"host", cfg.Host,
		"port", cfg.Port,
		"inactivity_timeout", cfg.InactivityTimeout.String(),
		"sweep_interval", cfg.SweepInterval.String(),
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"serve_frontend", cfg.ServeFrontend,
		"rate_limit_api", cfg.RateLimitAPI,
		"rate_limit_ws", cfg.RateLimitWS,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}
