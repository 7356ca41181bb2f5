// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, storage, credentials, rate limiting,
// aggregation retries, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// devJWTSecret signs tokens outside release mode when JWT_SECRET is unset.
const devJWTSecret = "insecure-development-secret"

// minReleaseSecretLen is the shortest JWT_SECRET accepted in release mode.
const minReleaseSecretLen = 16

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// LogFileConfig enables a rotating log file next to stdout.
type LogFileConfig struct {
	Path       string // LOG_FILE; empty disables the file
	MaxSizeMB  int    // LOG_MAX_SIZE_MB
	MaxBackups int    // LOG_MAX_BACKUPS
	MaxAgeDays int    // LOG_MAX_AGE_DAYS
}

// DBConfig selects the storage backend.
type DBConfig struct {
	Driver          string // DB_DRIVER: sqlite|postgres
	Path            string // DB_PATH (sqlite)
	URL             string // DATABASE_URL (postgres)
	ConnectAttempts uint   // DB_CONNECT_ATTEMPTS
}

// JWTConfig controls access tokens.
type JWTConfig struct {
	Secret string        // JWT_SECRET
	TTL    time.Duration // JWT_TTL
}

// AggRetryConfig controls out-of-band replay of failed aggregate recomputes.
type AggRetryConfig struct {
	MaxRetries int           // AGG_RETRY_MAX
	Interval   time.Duration // AGG_RETRY_INTERVAL (initial backoff)
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-movie-reviews")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // trace|debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	LogFile        LogFileConfig
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DB DBConfig

	// Credentials
	JWT JWTConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Derived data
	AggRetry         AggRetryConfig
	ReconcileWorkers int // RECONCILE_WORKERS

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),
		LogFile: LogFileConfig{
			Path:       getenv("LOG_FILE", ""),
			MaxSizeMB:  getint("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getint("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getint("LOG_MAX_AGE_DAYS", 28),
		},
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DB: DBConfig{
			Driver:          strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:            getenv("DB_PATH", "moviereviews.db"),
			URL:             getenv("DATABASE_URL", ""),
			ConnectAttempts: uint(getint("DB_CONNECT_ATTEMPTS", 5)),
		},

		// Credentials
		JWT: JWTConfig{
			Secret: getenv("JWT_SECRET", ""),
			TTL:    getdur("JWT_TTL", 24*time.Hour),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Derived data
		AggRetry: AggRetryConfig{
			MaxRetries: getint("AGG_RETRY_MAX", 5),
			Interval:   getdur("AGG_RETRY_INTERVAL", 500*time.Millisecond),
		},
		ReconcileWorkers: getint("RECONCILE_WORKERS", 4),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-movie-reviews"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" {
		cfg.DB.Driver = "postgres"
	}
	if cfg.JWT.Secret == "" && cfg.GinMode != "release" {
		cfg.JWT.Secret = devJWTSecret
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: trace, debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.LogFile.MaxSizeMB <= 0 || cfg.LogFile.MaxBackups < 0 || cfg.LogFile.MaxAgeDays < 0 {
		return cfg, errors.New("LOG_MAX_SIZE_MB must be > 0; LOG_MAX_BACKUPS and LOG_MAX_AGE_DAYS must be >= 0")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.DB.ConnectAttempts < 1 {
		return cfg, errors.New("DB_CONNECT_ATTEMPTS must be >= 1")
	}
	if cfg.GinMode == "release" && len(cfg.JWT.Secret) < minReleaseSecretLen {
		return cfg, errors.New("JWT_SECRET must be at least 16 bytes in release mode")
	}
	if cfg.JWT.TTL <= 0 {
		return cfg, errors.New("JWT_TTL must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.AggRetry.MaxRetries < 0 {
		return cfg, errors.New("AGG_RETRY_MAX must be >= 0")
	}
	if cfg.AggRetry.Interval <= 0 {
		return cfg, errors.New("AGG_RETRY_INTERVAL must be > 0")
	}
	if cfg.ReconcileWorkers < 1 {
		return cfg, errors.New("RECONCILE_WORKERS must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// DotenvDisabled reports whether NO_DOTENV asks the entrypoint to skip
// loading a .env file.
func DotenvDisabled() bool { return getbool("NO_DOTENV", false) }

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
