package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:                "3000",
		Env:                 "development",
		AuthenticationKey:   "a-very-long-api-key-for-the-tests-0001",
		DBPassword:          "secure-password",
		DBSSLMode:           "require",
		MaxTransactionLimit: 100,
		SessionCookie:       "cookie",
		TOTPSecret:          "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ",
		PayoutGroupID:       123,
		TokenTimeout:        10 * time.Second,
		TransferTimeout:     10 * time.Second,
		ChallengeTimeout:    10 * time.Second,
		ConfirmTimeout:      5 * time.Second,
		TokenAttempts:       3,
		TransferAttempts:    3,
		ConfirmAttempts:     5,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError string
	}{
		{"valid development", func(c *Config) {}, ""},
		{"valid production", func(c *Config) { c.Env = "production" }, ""},
		{"missing port", func(c *Config) { c.Port = "" }, "PORT is required"},
		{"non-positive cap", func(c *Config) { c.MaxTransactionLimit = 0 }, "MAX_TRANSACTION_LIMIT"},
		{"zero attempts", func(c *Config) { c.ConfirmAttempts = 0 }, "attempt counts"},
		{"zero timeout", func(c *Config) { c.ConfirmTimeout = 0 }, "timeouts"},
		{"prod default key", func(c *Config) {
			c.Env = "production"
			c.AuthenticationKey = defaultAuthenticationKey
		}, "changed from the default"},
		{"prod missing cookie", func(c *Config) {
			c.Env = "prod"
			c.SessionCookie = ""
		}, "ROBLOSECURITY"},
		{"prod missing totp", func(c *Config) {
			c.Env = "prod"
			c.TOTPSecret = ""
		}, "ROBLOX_TOTP_SECRET"},
		{"dev missing cookie is fine", func(c *Config) { c.SessionCookie = "" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)

			err := c.Validate()
			if tt.expectError == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestConfig_ValidateReportsEveryProblem(t *testing.T) {
	c := validConfig()
	c.Env = "production"
	c.AuthenticationKey = "short"
	c.DBPassword = "password"
	c.PayoutGroupID = 0

	err := c.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "AUTHENTICATION_KEY must be at least 32 characters")
	assert.Contains(t, msg, "DB_PASSWORD")
	assert.Contains(t, msg, "ROBLOX_GROUP_ID")
	assert.True(t, strings.Count(msg, "* ") >= 3)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	defer os.Unsetenv("APP_ENV")
	defer os.Unsetenv("MAX_TRANSACTION_LIMIT")
	defer os.Unsetenv("PAYOUT_CONFIRM_TIMEOUT")
	defer os.Unsetenv("DB_SSLMODE")
	defer viper.Reset()

	os.Setenv("APP_ENV", "development")
	os.Setenv("MAX_TRANSACTION_LIMIT", "250")
	os.Setenv("PAYOUT_CONFIRM_TIMEOUT", "3s")
	os.Setenv("DB_SSLMODE", "  DISABLE  ")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, int64(250), c.MaxTransactionLimit)
	assert.Equal(t, 3*time.Second, c.ConfirmTimeout)
	assert.Equal(t, "disable", c.DBSSLMode)
	assert.Equal(t, 3, c.TokenAttempts)
	assert.Equal(t, 5, c.ConfirmAttempts)
	assert.Equal(t, "3000", c.Port)
}
