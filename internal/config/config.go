package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	AdminToken         string
	CORSAllowedOrigins []string

	ProviderRequestTimeout time.Duration
	ProviderRetryMax       int
	ProviderRetryBase      time.Duration
	BreakerFailureRatio    float64
	BreakerMinSamples      int
	BreakerOpenFor         time.Duration

	AllowMultiProvider bool
	WebhookReplayTTL   time.Duration
	IdempotencyTTL     time.Duration
	NotifyOnDelivered  bool
	NotifyOnReturned   bool

	SweepInterval  time.Duration
	SweepStaleFor  time.Duration
	SweepBatchSize int
	LockTTL        time.Duration

	RateLimitRPS   int
	RateLimitBurst int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		AdminToken:         k.String("ADMIN_TOKEN"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		ProviderRequestTimeout: parseDuration(k.String("PROVIDER_REQUEST_TIMEOUT"), "10s"),
		ProviderRetryMax:       parseInt(k.String("PROVIDER_RETRY_MAX"), 2),
		ProviderRetryBase:      parseDuration(k.String("PROVIDER_RETRY_BASE"), "200ms"),
		BreakerFailureRatio:    parseFloat(k.String("BREAKER_FAILURE_RATIO"), 0.5),
		BreakerMinSamples:      parseInt(k.String("BREAKER_MIN_SAMPLES"), 10),
		BreakerOpenFor:         parseDuration(k.String("BREAKER_OPEN_FOR"), "30s"),

		AllowMultiProvider: parseBoolDefault(k.String("SHIPPING_ALLOW_MULTI_PROVIDER"), true),
		WebhookReplayTTL:   parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		NotifyOnDelivered:  parseBoolDefault(k.String("NOTIFY_ON_DELIVERED"), true),
		NotifyOnReturned:   parseBoolDefault(k.String("NOTIFY_ON_RETURNED"), true),

		SweepInterval:  parseDuration(k.String("SWEEP_INTERVAL"), "5m"),
		SweepStaleFor:  parseDuration(k.String("SWEEP_STALE_FOR"), "30m"),
		SweepBatchSize: parseInt(k.String("SWEEP_BATCH_SIZE"), 100),
		LockTTL:        parseDuration(k.String("LOCK_TTL"), "30s"),

		RateLimitRPS:   parseInt(k.String("RATE_LIMIT_RPS"), 20),
		RateLimitBurst: parseInt(k.String("RATE_LIMIT_BURST"), 40),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.AppEnv != "development" && cfg.AdminToken == "" {
		return nil, errors.New("ADMIN_TOKEN is required outside development")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
