package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/subosito/gotenv"
)

type Config struct {
	Host string
	Port string
	Env  string

	DatabaseURL            string
	DatabaseMaxConnections int
	DatabaseMaxIdleTime    time.Duration
	RunMigrations          bool

	RedisURL string

	JWTSecret string

	GatewayBaseURL     string
	GatewayAccessToken string
	GatewayTimeout     time.Duration
	GatewayRateLimit   float64
	GatewayRateBurst   int

	BreakerFailureThreshold int
	BreakerOpenDuration     time.Duration

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration

	WebhookToken           string
	WebhookMaxRetries      int
	WebhookBackoffSchedule []time.Duration
	WebhookSweepInterval   time.Duration
	WebhookBatchSize       int
	WebhookProcessingLease time.Duration
	WebhookRateLimit       float64
	WebhookRateBurst       int

	ReconciliationToleranceCents int64
	ReconciliationInterval       time.Duration
	ReconciliationLookback       time.Duration
	ReconciliationConcurrency    int

	PlatformWalletID string
	PartnerWalletID  string
	SplitRulesFile   string

	AlertWebhookURL    string
	AlertWebhookSecret string
}

// DefaultWebhookBackoffSchedule is the wait before each scheduled retry of a failed webhook.
var DefaultWebhookBackoffSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute,
	360 * time.Minute,
}

func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = gotenv.Load()

	cfg := &Config{
		Host: getEnvString("HOST", "localhost"),
		Port: getEnvString("PORT", "8080"),
		Env:  getEnvString("ENV", "development"),

		DatabaseURL:            getEnvString("DATABASE_URL", "postgres://localhost/payments_dev?sslmode=disable"),
		DatabaseMaxConnections: getEnvInt("DATABASE_MAX_CONNECTIONS", 25),
		DatabaseMaxIdleTime:    getEnvDuration("DATABASE_MAX_IDLE_TIME", 15*time.Minute),
		RunMigrations:          getEnvBool("RUN_MIGRATIONS", false),

		RedisURL: getEnvString("REDIS_URL", ""),

		JWTSecret: getEnvString("JWT_SECRET", ""),

		GatewayBaseURL:     getEnvString("GATEWAY_BASE_URL", "https://sandbox.asaas.com/api/v3"),
		GatewayAccessToken: getEnvString("GATEWAY_ACCESS_TOKEN", ""),
		GatewayTimeout:     getEnvDuration("GATEWAY_TIMEOUT", 30*time.Second),
		GatewayRateLimit:   getEnvFloat("GATEWAY_RATE_LIMIT", 10),
		GatewayRateBurst:   getEnvInt("GATEWAY_RATE_BURST", 20),

		BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerOpenDuration:     getEnvDuration("BREAKER_OPEN_DURATION", 60*time.Second),

		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   getEnvDuration("RETRY_BASE_DELAY", time.Second),

		WebhookToken:           getEnvString("WEBHOOK_TOKEN", ""),
		WebhookMaxRetries:      getEnvInt("WEBHOOK_MAX_RETRIES", 5),
		WebhookBackoffSchedule: getEnvDurationList("WEBHOOK_BACKOFF_SCHEDULE", DefaultWebhookBackoffSchedule),
		WebhookSweepInterval:   getEnvDuration("WEBHOOK_SWEEP_INTERVAL", time.Minute),
		WebhookBatchSize:       getEnvInt("WEBHOOK_BATCH_SIZE", 10),
		WebhookProcessingLease: getEnvDuration("WEBHOOK_PROCESSING_LEASE", 2*time.Minute),
		WebhookRateLimit:       getEnvFloat("WEBHOOK_RATE_LIMIT", 50),
		WebhookRateBurst:       getEnvInt("WEBHOOK_RATE_BURST", 100),

		ReconciliationToleranceCents: getEnvInt64("RECONCILIATION_TOLERANCE_CENTS", 1),
		ReconciliationInterval:       getEnvDuration("RECONCILIATION_INTERVAL", time.Hour),
		ReconciliationLookback:       getEnvDuration("RECONCILIATION_LOOKBACK", 7*24*time.Hour),
		ReconciliationConcurrency:    getEnvInt("RECONCILIATION_CONCURRENCY", 4),

		PlatformWalletID: getEnvString("PLATFORM_WALLET_ID", ""),
		PartnerWalletID:  getEnvString("PARTNER_WALLET_ID", ""),
		SplitRulesFile:   getEnvString("SPLIT_RULES_FILE", ""),

		AlertWebhookURL:    getEnvString("ALERT_WEBHOOK_URL", ""),
		AlertWebhookSecret: getEnvString("ALERT_WEBHOOK_SECRET", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required secrets and numeric bounds.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.GatewayAccessToken == "" {
		return fmt.Errorf("GATEWAY_ACCESS_TOKEN is required")
	}

	if c.WebhookToken == "" {
		return fmt.Errorf("WEBHOOK_TOKEN is required")
	}

	if c.PartnerWalletID == "" {
		return fmt.Errorf("PARTNER_WALLET_ID is required")
	}

	if c.BreakerFailureThreshold < 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be at least 1")
	}

	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}

	if c.WebhookMaxRetries < 1 {
		return fmt.Errorf("WEBHOOK_MAX_RETRIES must be at least 1")
	}

	if len(c.WebhookBackoffSchedule) == 0 {
		return fmt.Errorf("WEBHOOK_BACKOFF_SCHEDULE must not be empty")
	}

	if c.ReconciliationToleranceCents < 0 {
		return fmt.Errorf("RECONCILIATION_TOLERANCE_CENTS must not be negative")
	}

	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if durationValue, err := time.ParseDuration(value); err == nil {
			return durationValue
		}
	}
	return defaultValue
}

// getEnvDurationList parses a comma separated list such as "1m,5m,15m".
// Any unparsable entry falls back to the whole default.
func getEnvDurationList(key string, defaultValue []time.Duration) []time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return append([]time.Duration(nil), defaultValue...)
	}

	parts := strings.Split(value, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil || d < 0 {
			return append([]time.Duration(nil), defaultValue...)
		}
		out = append(out, d)
	}
	return out
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
