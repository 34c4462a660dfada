// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the configuration for the uploader, its ledger and the HTTP API.
type Config struct {
	// Annotation platform.
	PlatformURL        string
	PlatformAPIKey     string
	PlatformRPS        float64       // client-side request rate (default 10)
	PlatformBurst      int           // client-side burst (default 5)
	PlatformMaxRetries int           // retries on 5xx/transport errors (default 3)
	PlatformTimeout    time.Duration // per-request timeout (default 30s)

	UploadWorkers int // row conversion workers (default 8)

	// S3 fields are optional and nil when not configured. They are only needed
	// to materialize local files.
	S3KeyID    *string
	S3Secret   *string
	S3Endpoint *string
	S3Region   *string
	S3Bucket   *string

	DatabaseURL  string // default Postgres DSN for postgres sources
	LedgerDBPath string // path to the SQLite run ledger (default "labelsync.sqlite")
	JobsPath     string // job file or directory for the scheduler
	ListenAddr   string // HTTP listen address (default ":8080")
	LogLevel     string // log level: debug, info, warn, error (default "info")
	Env          string // environment: "development" (default) or "production"

	// API rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 20)
	RateLimitBurst int     // burst capacity (default 40)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// HasS3Config returns true if all required S3 fields are set.
func (c *Config) HasS3Config() bool {
	return c.S3KeyID != nil && c.S3Secret != nil &&
		c.S3Endpoint != nil && c.S3Bucket != nil
}

// RequirePlatform returns an error unless the platform endpoint is configured.
func (c *Config) RequirePlatform() error {
	if c.PlatformURL == "" {
		return fmt.Errorf("PLATFORM_URL must be set")
	}
	if c.PlatformAPIKey == "" {
		return fmt.Errorf("PLATFORM_API_KEY must be set")
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// S3 variables are optional; the app can start without them.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		PlatformURL:    strings.TrimRight(os.Getenv("PLATFORM_URL"), "/"),
		PlatformAPIKey: os.Getenv("PLATFORM_API_KEY"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		LedgerDBPath:   os.Getenv("LEDGER_DB_PATH"),
		JobsPath:       os.Getenv("JOBS_PATH"),
		ListenAddr:     os.Getenv("LISTEN_ADDR"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		Env:            os.Getenv("ENV"),
	}

	cfg.PlatformRPS = cfg.parseFloat("PLATFORM_RPS")
	cfg.PlatformBurst = cfg.parseInt("PLATFORM_BURST")
	cfg.PlatformMaxRetries = cfg.parseInt("PLATFORM_MAX_RETRIES")
	cfg.UploadWorkers = cfg.parseInt("UPLOAD_WORKERS")
	cfg.RateLimitRPS = cfg.parseFloat("RATE_LIMIT_RPS")
	cfg.RateLimitBurst = cfg.parseInt("RATE_LIMIT_BURST")
	if v := os.Getenv("PLATFORM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PlatformTimeout = d
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring invalid PLATFORM_TIMEOUT %q", v))
		}
	}

	// S3 fields are only set if present
	if v := os.Getenv("KEY_ID"); v != "" {
		cfg.S3KeyID = &v
	}
	if v := os.Getenv("SECRET"); v != "" {
		cfg.S3Secret = &v
	}
	if v := os.Getenv("ENDPOINT"); v != "" {
		cfg.S3Endpoint = &v
	}
	if v := os.Getenv("REGION"); v != "" {
		cfg.S3Region = &v
	}
	if v := os.Getenv("BUCKET"); v != "" {
		cfg.S3Bucket = &v
	}

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}

	// Defaults
	if cfg.PlatformRPS == 0 {
		cfg.PlatformRPS = 10
	}
	if cfg.PlatformBurst == 0 {
		cfg.PlatformBurst = 5
	}
	if cfg.PlatformMaxRetries == 0 {
		cfg.PlatformMaxRetries = 3
	}
	if cfg.PlatformTimeout == 0 {
		cfg.PlatformTimeout = 30 * time.Second
	}
	if cfg.UploadWorkers <= 0 {
		cfg.UploadWorkers = 8
	}
	if cfg.LedgerDBPath == "" {
		cfg.LedgerDBPath = "labelsync.sqlite"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 20
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 40
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.PlatformURL == "" {
		cfg.Warnings = append(cfg.Warnings, "PLATFORM_URL is not set; uploads will fail until it is configured")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if err := cfg.RequirePlatform(); err != nil {
			return nil, fmt.Errorf("%w in production (ENV=production)", err)
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
}

func (c *Config) parseInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("ignoring invalid %s %q", key, v))
		return 0
	}
	return n
}

func (c *Config) parseFloat(key string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("ignoring invalid %s %q", key, v))
		return 0
	}
	return f
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Env vars take precedence over the file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
