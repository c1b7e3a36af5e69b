package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Issuer kinds.
const (
	IssuerMock = "mock"
	IssuerHTTP = "http"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	CORSAllowedOrigins []string

	CurrencyCode   string
	CurrencyLocale string

	ItemSourceLatency time.Duration

	RefundIssuer         string
	RefundIssuerURL      string
	RefundIssuerTimeout  time.Duration
	RefundIssuerAttempts int
	RefundMockLatency    time.Duration
	RefundMockFail       bool

	CircuitMinRequests int
	CircuitFailRatio   float64
	CircuitOpenFor     time.Duration
	RetryBaseBackoff   time.Duration

	NoticeTTL      time.Duration
	DialogIdleTTL  time.Duration
	IdempotencyTTL time.Duration
	LockTTL        time.Duration

	RateLimitWindow time.Duration
	RateLimitMax    int

	BodyLimitBytes int64
	EnableHSTS     bool
	EventBuffer    int

	WebhookURL         string
	WebhookSecret      string
	WebhookTopics      []string
	WebhookTimeout     time.Duration
	WebhookMaxAttempts int
	WebhookReplayTTL   time.Duration
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
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		CurrencyCode:   strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "USD")),
		CurrencyLocale: valueOrDefault(k.String("CURRENCY_LOCALE"), "en-US"),

		ItemSourceLatency: parseDuration(k.String("ITEM_SOURCE_LATENCY"), "0s"),

		RefundIssuer:         strings.ToLower(valueOrDefault(k.String("REFUND_ISSUER"), IssuerMock)),
		RefundIssuerURL:      strings.TrimSpace(k.String("REFUND_ISSUER_URL")),
		RefundIssuerTimeout:  parseDuration(k.String("REFUND_ISSUER_TIMEOUT"), "5s"),
		RefundIssuerAttempts: parseInt(k.String("REFUND_ISSUER_MAX_ATTEMPTS"), 1),
		RefundMockLatency:    parseDuration(k.String("REFUND_MOCK_LATENCY"), "1s"),
		RefundMockFail:       parseBool(k.String("REFUND_MOCK_FAIL")),

		CircuitMinRequests: parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 5),
		CircuitFailRatio:   parseFloat(k.String("CIRCUIT_FAIL_RATIO"), 0.5),
		CircuitOpenFor:     parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),
		RetryBaseBackoff:   parseDuration(k.String("RETRY_BASE_BACKOFF"), "200ms"),

		NoticeTTL:      parseDuration(k.String("NOTICE_TTL"), "4s"),
		DialogIdleTTL:  parseDuration(k.String("DIALOG_IDLE_TTL"), "30m"),
		IdempotencyTTL: parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		LockTTL:        parseDuration(k.String("REFUND_LOCK_TTL"), "30s"),

		RateLimitWindow: parseDuration(k.String("RATE_LIMIT_REFUNDS_WINDOW"), "1m"),
		RateLimitMax:    parseInt(k.String("RATE_LIMIT_REFUNDS_MAX"), 20),

		BodyLimitBytes: int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		EnableHSTS:     parseBool(k.String("SECURE_ENABLE_HSTS")),
		EventBuffer:    parseInt(k.String("EVENT_BUFFER"), 256),

		WebhookURL:         strings.TrimSpace(k.String("WEBHOOK_URL")),
		WebhookSecret:      k.String("WEBHOOK_SECRET"),
		WebhookTopics:      splitAndTrim(k.String("WEBHOOK_TOPICS")),
		WebhookTimeout:     parseDuration(k.String("WEBHOOK_TIMEOUT"), "5s"),
		WebhookMaxAttempts: parseInt(k.String("WEBHOOK_MAX_ATTEMPTS"), 6),
		WebhookReplayTTL:   parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.RefundIssuer {
	case IssuerMock:
	case IssuerHTTP:
		if c.RefundIssuerURL == "" {
			return errors.New("REFUND_ISSUER_URL is required when REFUND_ISSUER=http")
		}
		u, err := url.Parse(c.RefundIssuerURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("REFUND_ISSUER_URL %q is not an absolute url", c.RefundIssuerURL)
		}
	default:
		return fmt.Errorf("REFUND_ISSUER must be %q or %q, got %q", IssuerMock, IssuerHTTP, c.RefundIssuer)
	}
	if c.RefundIssuerAttempts < 1 {
		return errors.New("REFUND_ISSUER_MAX_ATTEMPTS must be at least 1")
	}
	if c.CircuitFailRatio <= 0 || c.CircuitFailRatio > 1 {
		return errors.New("CIRCUIT_FAIL_RATIO must be in (0, 1]")
	}
	if c.WebhookURL != "" && strings.TrimSpace(c.WebhookSecret) == "" {
		return errors.New("WEBHOOK_SECRET is required when WEBHOOK_URL is set")
	}
	return nil
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
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt(value string, fallback int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return parsed
	}
	return fallback
}

func parseFloat(value string, fallback float64) float64 {
	if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
		return parsed
	}
	return fallback
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
