package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string

	// Gateway credentials and endpoint.
	GatewayBaseURL     string
	ClientID           string
	MerchantPrivKey    string
	GatewayPublicKey   string
	PaymentNotifyURL   string
	PaymentRedirectURL string

	// Outbound call behaviour.
	GatewayTimeout     time.Duration
	GatewayMaxAttempts int
	GatewayRetryBase   time.Duration

	// Webhook ingestion.
	NotifyTolerance time.Duration
	LockTTL         time.Duration

	// Reconciliation fallback.
	ReconcileInterval time.Duration
	ReconcileAge      time.Duration
	ReconcileBatch    int

	// Public endpoint protection.
	RateLimitWindow time.Duration
	RateLimitMax    int
	IdempotencyTTL  time.Duration
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
		GatewayBaseURL:     valueOrDefault(k.String("GATEWAY_BASE_URL"), "https://open-sea-global.alipay.com"),
		ClientID:           k.String("GATEWAY_CLIENT_ID"),
		MerchantPrivKey:    k.String("MERCHANT_PRIVATE_KEY"),
		GatewayPublicKey:   k.String("GATEWAY_PUBLIC_KEY"),
		PaymentNotifyURL:   k.String("PAYMENT_NOTIFY_URL"),
		PaymentRedirectURL: k.String("PAYMENT_REDIRECT_URL"),
		GatewayTimeout:     parseDuration(k.String("GATEWAY_TIMEOUT"), "10s"),
		GatewayMaxAttempts: intOrDefault(k.Int("GATEWAY_MAX_ATTEMPTS"), 3),
		GatewayRetryBase:   parseDuration(k.String("GATEWAY_RETRY_BASE"), "200ms"),
		NotifyTolerance:    parseDuration(k.String("NOTIFY_TOLERANCE"), "5m"),
		LockTTL:            parseDuration(k.String("NOTIFY_LOCK_TTL"), "10s"),
		ReconcileInterval:  parseDuration(k.String("RECONCILE_INTERVAL"), "1m"),
		ReconcileAge:       parseDuration(k.String("RECONCILE_AGE"), "10m"),
		ReconcileBatch:     intOrDefault(k.Int("RECONCILE_BATCH"), 100),
		RateLimitWindow:    parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:       intOrDefault(k.Int("RATE_LIMIT_MAX"), 120),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("GATEWAY_CLIENT_ID is required")
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

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func intOrDefault(value, fallback int) int {
	if value > 0 {
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

// LoadForTests overrides environment variables for the duration of a Load call.
func LoadForTests(envs map[string]string) (*Config, error) {
	original := make(map[string]string, len(envs))
	for key := range envs {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, envs[key]); err != nil {
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
