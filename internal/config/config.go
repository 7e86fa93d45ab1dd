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
	DBAutoMigrate      bool
	DBMaxConns         int32
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	CORSAllowedOrigins []string

	TenantHeader     string
	TenantRootDomain string
	TenantDefault    string

	CartTTL          time.Duration
	CartLockTTL      time.Duration
	LockRetryBackoff time.Duration
	PriceCacheTTL    time.Duration
	IdempotencyTTL   time.Duration
	TaxRateBps       int
	CurrencyCode     string
	AutoBundlePrices bool

	RateLimitCart     string
	RequestBodyLimit  int64
	RecalcDebounce    time.Duration
	WorkerConcurrency int
	PurgeSchedule     string
	AuditEnabled      bool

	Obs ObsConfig
}

// ObsConfig groups logging, metrics and tracing settings.
type ObsConfig struct {
	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	MetricsBuckets   string
	EnablePrometheus bool
	EnableTracing    bool
	OTLPEndpoint     string
	SamplingRatio    float64
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
		DBAutoMigrate:      parseBool(k.String("DB_AUTO_MIGRATE"), false),
		DBMaxConns:         int32(parseInt(k.String("DB_MAX_CONNS"), 10)),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          strings.TrimSpace(k.String("JWT_ISSUER")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		TenantHeader:     valueOrDefault(k.String("TENANT_HEADER"), "X-Tenant-ID"),
		TenantRootDomain: strings.TrimSpace(k.String("TENANT_ROOT_DOMAIN")),
		TenantDefault:    strings.TrimSpace(k.String("TENANT_DEFAULT")),

		CartTTL:          parseDuration(k.String("CART_TTL"), "168h"),
		CartLockTTL:      parseDuration(k.String("CART_LOCK_TTL"), "10s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "25ms"),
		PriceCacheTTL:    parseDuration(k.String("PRICE_CACHE_TTL"), "5m"),
		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		TaxRateBps:       parseInt(k.String("PRICING_TAX_RATE_BPS"), 0),
		CurrencyCode:     strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "IDR")),
		AutoBundlePrices: parseBool(k.String("PROMO_AUTO_BUNDLE_PRICING"), false),

		RateLimitCart:     valueOrDefault(k.String("RATE_LIMIT_CART"), "120-M"),
		RequestBodyLimit:  int64(parseInt(k.String("REQUEST_BODY_LIMIT_BYTES"), 1<<20)),
		RecalcDebounce:    parseDuration(k.String("RECALC_DEBOUNCE"), "5s"),
		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 10),
		PurgeSchedule:     valueOrDefault(k.String("CART_PURGE_SCHEDULE"), "@every 1h"),
		AuditEnabled:      parseBool(k.String("AUDIT_ENABLED"), true),

		Obs: ObsConfig{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "toko"),
			MetricsBuckets:   k.String("OBS_METRICS_BUCKETS_MS"),
			EnablePrometheus: parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
			EnableTracing:    parseBool(k.String("OBS_ENABLE_TRACING"), false),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.TaxRateBps < 0 || cfg.TaxRateBps > 10000 {
		return nil, fmt.Errorf("PRICING_TAX_RATE_BPS must be between 0 and 10000, got %d", cfg.TaxRateBps)
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
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
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
