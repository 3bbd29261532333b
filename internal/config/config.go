// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/mbd888/checkoutkit/internal/validation"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"
	BaseURL   string // public URL used to build shopper return URLs

	// Storage (optional, in-memory token store if neither is set)
	DatabaseURL string
	RedisURL    string

	// Event fan-out (optional)
	AMQPURL      string
	AMQPExchange string

	// Adyen settings
	AdyenAPIKey          string
	AdyenMerchantAccount string
	AdyenClientKey       string // handed to the browser drop-in
	AdyenHMACKey         string // hex; empty disables webhook signature checks
	AdyenEnvironment     string // "test" or "live"
	AdyenLiveURLPrefix   string

	// Webhook endpoint basic auth (optional)
	WebhookUsername string
	WebhookPassword string

	RateLimitRPM int
	OTLPEndpoint string
}

const (
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
	DefaultBaseURL      = "http://localhost:8080"
	DefaultAMQPExchange = "checkoutkit.events"
	DefaultEnvironment  = "test"
	DefaultRateLimitRPM = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:            getEnv("LOG_FORMAT", DefaultLogFormat),
		BaseURL:              getEnv("BASE_URL", DefaultBaseURL),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisURL:             os.Getenv("REDIS_URL"),
		AMQPURL:              os.Getenv("AMQP_URL"),
		AMQPExchange:         getEnv("AMQP_EXCHANGE", DefaultAMQPExchange),
		AdyenAPIKey:          os.Getenv("ADYEN_API_KEY"),
		AdyenMerchantAccount: os.Getenv("ADYEN_MERCHANT_ACCOUNT"),
		AdyenClientKey:       os.Getenv("ADYEN_CLIENT_KEY"),
		AdyenHMACKey:         os.Getenv("ADYEN_HMAC_KEY"),
		AdyenEnvironment:     getEnv("ADYEN_ENVIRONMENT", DefaultEnvironment),
		AdyenLiveURLPrefix:   os.Getenv("ADYEN_LIVE_URL_PREFIX"),
		WebhookUsername:      os.Getenv("WEBHOOK_USERNAME"),
		WebhookPassword:      os.Getenv("WEBHOOK_PASSWORD"),
		RateLimitRPM:         int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.AdyenAPIKey == "" {
		return fmt.Errorf("ADYEN_API_KEY is required")
	}
	if c.AdyenMerchantAccount == "" {
		return fmt.Errorf("ADYEN_MERCHANT_ACCOUNT is required")
	}

	switch c.AdyenEnvironment {
	case "test":
	case "live":
		if c.AdyenLiveURLPrefix == "" {
			return fmt.Errorf("ADYEN_LIVE_URL_PREFIX is required when ADYEN_ENVIRONMENT is live")
		}
	default:
		return fmt.Errorf("ADYEN_ENVIRONMENT must be \"test\" or \"live\", got %q", c.AdyenEnvironment)
	}

	if c.AdyenHMACKey != "" {
		if !validation.IsValidHex(c.AdyenHMACKey) || len(c.AdyenHMACKey)%2 != 0 {
			return fmt.Errorf("ADYEN_HMAC_KEY must be hex encoded")
		}
	} else if c.IsProduction() {
		return fmt.Errorf("ADYEN_HMAC_KEY is required in production")
	}

	// Basic auth is all or nothing
	if (c.WebhookUsername == "") != (c.WebhookPassword == "") {
		return fmt.Errorf("WEBHOOK_USERNAME and WEBHOOK_PASSWORD must be set together")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// WebhookAuthEnabled reports whether HMAC verification of notifications is on.
func (c *Config) WebhookAuthEnabled() bool {
	return c.AdyenHMACKey != ""
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
