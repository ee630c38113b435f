// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment gateway
	StripeSecretKey     string
	StripeWebhookSecret string

	// Tracing
	OTLPEndpoint string

	// Security
	AdminSecret  string
	RateLimitRPS int

	// Escrow policy
	EscrowHoldDays   int // default hold before auto-release eligibility
	RefundWindowDays int // days after creation a refund is still accepted
}

// Defaults
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultRateLimit        = 100
	DefaultEscrowHoldDays   = 7
	DefaultRefundWindowDays = 30
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AdminSecret:         os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:        getEnvInt("RATE_LIMIT_RPS", DefaultRateLimit),
		EscrowHoldDays:      getEnvInt("ESCROW_HOLD_DAYS", DefaultEscrowHoldDays),
		RefundWindowDays:    getEnvInt("REFUND_WINDOW_DAYS", DefaultRefundWindowDays),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required in production")
		}
		if c.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required in production")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
	}
	if c.EscrowHoldDays <= 0 {
		return fmt.Errorf("ESCROW_HOLD_DAYS must be positive")
	}
	if c.RefundWindowDays <= 0 {
		return fmt.Errorf("REFUND_WINDOW_DAYS must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
