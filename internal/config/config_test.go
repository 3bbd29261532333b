package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func setRequired(t *testing.T) {
	t.Helper()
	setEnv(t, "ADYEN_API_KEY", "AQE_test_key")
	setEnv(t, "ADYEN_MERCHANT_ACCOUNT", "WorkshopECOM")
}

func TestLoad_WithValidConfig(t *testing.T) {
	setRequired(t)
	setEnv(t, "PORT", "9090")
	setEnv(t, "ADYEN_HMAC_KEY", "44782DEF547AAA06C910C43932B1EB0C71FC68D9D0C057550C48EC2ACF6BA056")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultEnvironment, cfg.AdyenEnvironment)
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultAMQPExchange, cfg.AMQPExchange)
	assert.Equal(t, DefaultRateLimitRPM, cfg.RateLimitRPM)
	assert.True(t, cfg.WebhookAuthEnabled())
}

func TestLoad_MissingAPIKey(t *testing.T) {
	setEnv(t, "ADYEN_API_KEY", "")
	setEnv(t, "ADYEN_MERCHANT_ACCOUNT", "WorkshopECOM")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ADYEN_API_KEY is required")
}

func TestLoad_HMACKeyOptional(t *testing.T) {
	setRequired(t)
	setEnv(t, "ADYEN_HMAC_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.WebhookAuthEnabled())
}

func TestConfig_Validate(t *testing.T) {
	base := func() Config {
		return Config{
			AdyenAPIKey:          "key",
			AdyenMerchantAccount: "merchant",
			AdyenEnvironment:     "test",
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "missing merchant account",
			mutate:  func(c *Config) { c.AdyenMerchantAccount = "" },
			wantErr: "ADYEN_MERCHANT_ACCOUNT is required",
		},
		{
			name:    "unknown environment",
			mutate:  func(c *Config) { c.AdyenEnvironment = "staging" },
			wantErr: "ADYEN_ENVIRONMENT",
		},
		{
			name:    "live without prefix",
			mutate:  func(c *Config) { c.AdyenEnvironment = "live" },
			wantErr: "ADYEN_LIVE_URL_PREFIX is required",
		},
		{
			name: "live with prefix",
			mutate: func(c *Config) {
				c.AdyenEnvironment = "live"
				c.AdyenLiveURLPrefix = "1797a841fbb37ca7-AdyenDemo"
			},
			wantErr: "",
		},
		{
			name:    "non-hex hmac key",
			mutate:  func(c *Config) { c.AdyenHMACKey = "not-hex" },
			wantErr: "must be hex encoded",
		},
		{
			name:    "odd-length hmac key",
			mutate:  func(c *Config) { c.AdyenHMACKey = "ABC" },
			wantErr: "must be hex encoded",
		},
		{
			name:    "production without hmac key",
			mutate:  func(c *Config) { c.Env = "production" },
			wantErr: "ADYEN_HMAC_KEY is required in production",
		},
		{
			name: "production with hmac key",
			mutate: func(c *Config) {
				c.Env = "production"
				c.AdyenHMACKey = "44782DEF547AAA06"
			},
			wantErr: "",
		},
		{
			name:    "username without password",
			mutate:  func(c *Config) { c.WebhookUsername = "adyen" },
			wantErr: "must be set together",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99))
}
