// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Record store backends.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreIdentity = "identity"
	StoreMemory   = "memory"
)

// Billing providers.
const (
	ProviderStripe = "stripe"
	ProviderPaddle = "paddle"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Public URL of the dashboard, used for checkout and portal redirects
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:3000"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Database (PostgreSQL). Also hosts the billing journal when set.
	DatabaseURL   string `env:"DATABASE_URL"`
	DBMaxConns    int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns    int32  `env:"DB_MIN_CONNS" envDefault:"2"`
	RunMigrations bool   `env:"RUN_MIGRATIONS" envDefault:"true"`

	// Cache (Redis): rate limits, usage stream and the redis record store
	RedisURL string `env:"REDIS_URL"`

	// Usage rollup worker; runs only when both DATABASE_URL and REDIS_URL are set.
	UsageWorkerEnabled   bool `env:"USAGE_WORKER_ENABLED" envDefault:"true"`
	UsageWorkerBatchSize int  `env:"USAGE_WORKER_BATCH_SIZE" envDefault:"500"`

	// Record store
	RecordStore      string        `env:"RECORD_STORE" envDefault:"postgres"`
	StoreTimeout     time.Duration `env:"STORE_TIMEOUT" envDefault:"3s"`
	StoreReadRetries uint64        `env:"STORE_READ_RETRIES" envDefault:"2"`
	IdentityAPIURL   string        `env:"IDENTITY_API_URL" envDefault:"https://api.clerk.com/v1"`
	IdentitySecret   string        `env:"IDENTITY_SECRET_KEY"`

	// Credit policy
	ResetTimeZone     string `env:"RESET_TIMEZONE" envDefault:"America/New_York"`
	FreeDailyCredits  int    `env:"FREE_DAILY_CREDITS" envDefault:"10"`
	PaidDailyCredits  int    `env:"PAID_DAILY_CREDITS" envDefault:"100"`
	CostCreate        int    `env:"COST_CREATE" envDefault:"2"`
	CostRemix         int    `env:"COST_REMIX" envDefault:"1"`
	CostTTS           int    `env:"COST_TTS" envDefault:"1"`
	LedgerMaxAttempts int    `env:"LEDGER_MAX_ATTEMPTS" envDefault:"3"`
	GrantAmount       int    `env:"GRANT_AMOUNT" envDefault:"10"`

	// Authentication (identity provider session JWTs)
	AuthJWTSecret string `env:"AUTH_JWT_SECRET,required"`
	AuthJWTIssuer string `env:"AUTH_JWT_ISSUER"`

	// Billing. An empty provider disables checkout, portal and webhooks.
	BillingProvider     string `env:"BILLING_PROVIDER"`
	BillingPriceID      string `env:"BILLING_PRICE_ID"`
	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	StripeAPIURL        string `env:"STRIPE_API_URL" envDefault:"https://api.stripe.com"`
	PaddleAPIKey        string `env:"PADDLE_API_KEY"`
	PaddleWebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	PaddleEnvironment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	CheckoutSuccessURL  string `env:"CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL   string `env:"CHECKOUT_CANCEL_URL"`

	// Rate limiting
	RateLimitEnabled      bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitUserPerMin   int  `env:"RATE_LIMIT_USER_PER_MINUTE" envDefault:"120"`
	RateLimitUserBurst    int  `env:"RATE_LIMIT_USER_BURST" envDefault:"20"`
	RateLimitWebhookRPS   int  `env:"RATE_LIMIT_WEBHOOK_RPS" envDefault:"50"`
	RateLimitWebhookBurst int  `env:"RATE_LIMIT_WEBHOOK_BURST" envDefault:"100"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// BillingEnabled reports whether a billing provider is configured.
func (c *Config) BillingEnabled() bool {
	return c.BillingProvider != ""
}

// SuccessURL returns the checkout success redirect.
func (c *Config) SuccessURL() string {
	if c.CheckoutSuccessURL != "" {
		return c.CheckoutSuccessURL
	}
	return strings.TrimRight(c.BaseURL, "/") + "/account?session_id={CHECKOUT_SESSION_ID}"
}

// CancelURL returns the checkout cancel redirect.
func (c *Config) CancelURL() string {
	if c.CheckoutCancelURL != "" {
		return c.CheckoutCancelURL
	}
	return strings.TrimRight(c.BaseURL, "/") + "/account"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Validate checks settings that depend on each other.
func (c *Config) Validate() error {
	var errs []error

	switch c.RecordStore {
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres record store"))
		}
	case StoreRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis record store"))
		}
	case StoreIdentity:
		if c.IdentitySecret == "" {
			errs = append(errs, errors.New("IDENTITY_SECRET_KEY is required for the identity record store"))
		}
	case StoreMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("the memory record store cannot be used in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown RECORD_STORE %q", c.RecordStore))
	}

	switch c.BillingProvider {
	case "":
	case ProviderStripe:
		if c.StripeSecretKey == "" || c.StripeWebhookSecret == "" {
			errs = append(errs, errors.New("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET are required for stripe billing"))
		}
	case ProviderPaddle:
		if c.PaddleAPIKey == "" || c.PaddleWebhookSecret == "" {
			errs = append(errs, errors.New("PADDLE_API_KEY and PADDLE_WEBHOOK_SECRET are required for paddle billing"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown BILLING_PROVIDER %q", c.BillingProvider))
	}

	if len(c.AuthJWTSecret) < 16 {
		errs = append(errs, errors.New("AUTH_JWT_SECRET must be at least 16 characters"))
	}
	if c.FreeDailyCredits < 0 || c.PaidDailyCredits < 0 {
		errs = append(errs, errors.New("daily credit allowances must not be negative"))
	}
	if c.CostCreate <= 0 || c.CostRemix <= 0 || c.CostTTS <= 0 {
		errs = append(errs, errors.New("action costs must be positive"))
	}
	if c.LedgerMaxAttempts <= 0 {
		errs = append(errs, errors.New("LEDGER_MAX_ATTEMPTS must be positive"))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}

// Load reads an optional .env file, parses environment variables and
// validates the result. Variables already set in the environment win over
// the .env file.
func Load() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
