package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application. It is constructed once
// at startup and passed explicitly into every component; there is no ambient
// global configuration state.
type Config struct {
	// Environment
	RunMode string // Set via flag, not env

	// MongoDB
	MongoURI    string
	MongoDbName string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Auth. Staff tokens are issued by the storefront session layer; this
	// service only validates them.
	JwtSecret  string
	CronSecret string // shared secret protecting the cron trigger surface

	// Server
	ApiPort string

	// Authorize.net
	AuthorizeNetLoginID        string
	AuthorizeNetTransactionKey string
	AuthorizeNetEndpoint       string

	// Billing engine
	MaxRetryAttempts    int
	RetrySchedule       []time.Duration // delay before retry N+1, indexed by attempt number - 1
	BillingConcurrency  int
	ChargeTimeout       time.Duration // per-item limit covering the gateway call and persists
	BillingRunDeadline  time.Duration // hard wall-clock deadline for one batch run
	ReconcileAfter      time.Duration // age before a submitted invoice is swept for reconciliation
	SubscriptionLockTTL time.Duration

	// Email
	SmtpHost        string
	SmtpPort        int
	SmtpUsername    string
	SmtpPassword    string
	SmtpFromAddress string

	// App Defaults
	AppName string

	// Rate Limiting Defaults
	RateLimitBucketSize int
	RateLimitRefillRate int // tokens per second
}

const (
	authorizeNetSandboxURL    = "https://apitest.authorize.net/xml/v1/request.api"
	authorizeNetProductionURL = "https://api.authorize.net/xml/v1/request.api"
)

// Load configuration from environment variables.
// RunMode needs to be passed in as it comes from command-line flags.
func Load(runMode string) (*Config, error) {
	// Load .env file, ignoring errors if it doesn't exist
	godotenv.Load()

	cfg := &Config{
		RunMode: runMode, // Set from flag
	}

	var err error

	// Helper function to get env var or default
	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}

	// Helper function to get required env var
	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	// Load basic string values
	cfg.MongoURI, err = getRequiredEnv("MONGO_URI")
	if err != nil {
		return nil, err
	}
	cfg.MongoDbName = getEnv("MONGO_DB_NAME", "wagginmeals")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.JwtSecret, err = getRequiredEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.CronSecret, err = getRequiredEnv("CRON_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.ApiPort = getEnv("API_PORT", "8080")
	cfg.SmtpHost = getEnv("SMTP_HOST", "")
	cfg.SmtpUsername = getEnv("SMTP_USERNAME", "")
	cfg.SmtpPassword = getEnv("SMTP_PASSWORD", "")
	cfg.SmtpFromAddress = getEnv("SMTP_FROM_ADDRESS", "billing@wagginmeals.example.com")
	cfg.AppName = getEnv("APP_NAME", "Waggin Meals")

	// Gateway credentials are optional at startup: a missing pair is reported
	// per-charge as a configuration error, not a boot failure.
	cfg.AuthorizeNetLoginID = getEnv("AUTHORIZENET_API_LOGIN_ID", "")
	cfg.AuthorizeNetTransactionKey = getEnv("AUTHORIZENET_TRANSACTION_KEY", "")
	switch env := getEnv("AUTHORIZENET_ENVIRONMENT", "sandbox"); env {
	case "production":
		cfg.AuthorizeNetEndpoint = authorizeNetProductionURL
	case "sandbox":
		cfg.AuthorizeNetEndpoint = authorizeNetSandboxURL
	default:
		return nil, fmt.Errorf("invalid AUTHORIZENET_ENVIRONMENT: %q (want sandbox or production)", env)
	}

	// Load numeric and time duration values with defaults and parsing
	cfg.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg.SmtpPort, err = strconv.Atoi(getEnv("SMTP_PORT", "587"))
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
	}

	cfg.MaxRetryAttempts, err = strconv.Atoi(getEnv("MAX_RETRY_ATTEMPTS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_RETRY_ATTEMPTS: %w", err)
	}
	if cfg.MaxRetryAttempts < 1 {
		return nil, fmt.Errorf("MAX_RETRY_ATTEMPTS must be >= 1, got %d", cfg.MaxRetryAttempts)
	}

	cfg.RetrySchedule, err = parseRetrySchedule(getEnv("RETRY_SCHEDULE_DAYS", "3,7,14"))
	if err != nil {
		return nil, err
	}

	cfg.BillingConcurrency, err = strconv.Atoi(getEnv("BILLING_CONCURRENCY", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid BILLING_CONCURRENCY: %w", err)
	}
	if cfg.BillingConcurrency < 1 {
		cfg.BillingConcurrency = 1
	}

	chargeTimeoutSeconds, err := strconv.ParseInt(getEnv("CHARGE_TIMEOUT_SECONDS", "60"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid CHARGE_TIMEOUT_SECONDS: %w", err)
	}
	cfg.ChargeTimeout = time.Duration(chargeTimeoutSeconds) * time.Second

	runDeadlineMinutes, err := strconv.ParseInt(getEnv("BILLING_RUN_DEADLINE_MINUTES", "55"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid BILLING_RUN_DEADLINE_MINUTES: %w", err)
	}
	cfg.BillingRunDeadline = time.Duration(runDeadlineMinutes) * time.Minute

	reconcileAfterMinutes, err := strconv.ParseInt(getEnv("RECONCILE_AFTER_MINUTES", "30"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid RECONCILE_AFTER_MINUTES: %w", err)
	}
	cfg.ReconcileAfter = time.Duration(reconcileAfterMinutes) * time.Minute

	lockTTLSeconds, err := strconv.ParseInt(getEnv("SUBSCRIPTION_LOCK_TTL_SECONDS", "120"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid SUBSCRIPTION_LOCK_TTL_SECONDS: %w", err)
	}
	cfg.SubscriptionLockTTL = time.Duration(lockTTLSeconds) * time.Second

	// Rate Limiting
	cfg.RateLimitBucketSize, err = strconv.Atoi(getEnv("RATE_LIMIT_BUCKET_SIZE", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BUCKET_SIZE: %w", err)
	}
	cfg.RateLimitRefillRate, err = strconv.Atoi(getEnv("RATE_LIMIT_REFILL_RATE", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_REFILL_RATE: %w", err)
	}

	return cfg, nil
}

// parseRetrySchedule parses a comma-separated list of day counts
// (e.g. "3,7,14") into escalating retry delays.
func parseRetrySchedule(raw string) ([]time.Duration, error) {
	parts := strings.Split(raw, ",")
	schedule := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		days, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || days < 1 {
			return nil, fmt.Errorf("invalid RETRY_SCHEDULE_DAYS entry %q: must be a positive day count", p)
		}
		schedule = append(schedule, time.Duration(days)*24*time.Hour)
	}
	if len(schedule) == 0 {
		return nil, fmt.Errorf("RETRY_SCHEDULE_DAYS must not be empty")
	}
	return schedule, nil
}
