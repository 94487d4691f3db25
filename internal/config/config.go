// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultAuthenticationKey = "change-me-local-api-key"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port         string `mapstructure:"PORT"`
	Env          string `mapstructure:"APP_ENV"`
	DBHost       string `mapstructure:"DB_HOST"`
	DBPort       string `mapstructure:"DB_PORT"`
	DBUser       string `mapstructure:"DB_USER"`
	DBPassword   string `mapstructure:"DB_PASSWORD"`
	DBName       string `mapstructure:"DB_NAME"`
	DBSSLMode    string `mapstructure:"DB_SSLMODE"`
	RedisURL     string `mapstructure:"REDIS_URL"`
	FeatureFlags string `mapstructure:"FEATURE_FLAGS"`
	PolicyFile   string `mapstructure:"POLICY_FILE"`

	AuthenticationKey string        `mapstructure:"AUTHENTICATION_KEY"`
	NotifierURL       string        `mapstructure:"NOTIFIER_URL"`
	NotifierTimeout   time.Duration `mapstructure:"NOTIFIER_TIMEOUT"`

	// Payout account session.
	SessionCookie       string `mapstructure:"ROBLOSECURITY"`
	TOTPSecret          string `mapstructure:"ROBLOX_TOTP_SECRET"`
	PayoutGroupID       int64  `mapstructure:"ROBLOX_GROUP_ID"`
	AccountUserID       int64  `mapstructure:"ROBLOX_ACCOUNT_USER_ID"`
	MaxTransactionLimit int64  `mapstructure:"MAX_TRANSACTION_LIMIT"`

	// External hosts, overridable for staging and tests.
	AuthBaseURL      string `mapstructure:"AUTH_BASE_URL"`
	GroupsBaseURL    string `mapstructure:"GROUPS_BASE_URL"`
	TwoStepBaseURL   string `mapstructure:"TWOSTEP_BASE_URL"`
	ChallengeBaseURL string `mapstructure:"CHALLENGE_BASE_URL"`
	UsersBaseURL     string `mapstructure:"USERS_BASE_URL"`

	TokenTimeout     time.Duration `mapstructure:"PAYOUT_TOKEN_TIMEOUT"`
	TransferTimeout  time.Duration `mapstructure:"PAYOUT_TRANSFER_TIMEOUT"`
	ChallengeTimeout time.Duration `mapstructure:"PAYOUT_CHALLENGE_TIMEOUT"`
	ConfirmTimeout   time.Duration `mapstructure:"PAYOUT_CONFIRM_TIMEOUT"`
	TokenAttempts    int           `mapstructure:"PAYOUT_TOKEN_ATTEMPTS"`
	TransferAttempts int           `mapstructure:"PAYOUT_TRANSFER_ATTEMPTS"`
	ConfirmAttempts  int           `mapstructure:"PAYOUT_CONFIRM_ATTEMPTS"`

	DirectoryTimeout   time.Duration `mapstructure:"DIRECTORY_TIMEOUT"`
	DirectoryCacheSize int           `mapstructure:"DIRECTORY_CACHE_SIZE"`
	DirectoryCacheTTL  time.Duration `mapstructure:"DIRECTORY_CACHE_TTL"`

	StaleReportSchedule string        `mapstructure:"STALE_REPORT_SCHEDULE"`
	StalePendingAfter   time.Duration `mapstructure:"STALE_PENDING_AFTER"`

	TracingEnabled     bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter    string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint       string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TracingSampleRatio float64 `mapstructure:"TRACING_SAMPLE_RATIO"`

	SeedDemoData bool `mapstructure:"SEED_DEMO_DATA"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("WARNING: could not read .env file: %v", err)
	}

	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base file is optional; env vars and defaults are enough to boot.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("profile-specific config 'config.%s.yml' is invalid: %w", env, err)
			}
		} else {
			log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
		}
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.DBSSLMode = strings.ToLower(strings.TrimSpace(config.DBSSLMode))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("PORT", "3000")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "finsys")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("FEATURE_FLAGS", "payout_execution=on")
	viper.SetDefault("POLICY_FILE", "policy.yml")

	viper.SetDefault("AUTHENTICATION_KEY", defaultAuthenticationKey)
	viper.SetDefault("NOTIFIER_URL", "")
	viper.SetDefault("NOTIFIER_TIMEOUT", "5s")

	viper.SetDefault("ROBLOSECURITY", "")
	viper.SetDefault("ROBLOX_TOTP_SECRET", "")
	viper.SetDefault("ROBLOX_GROUP_ID", 0)
	viper.SetDefault("ROBLOX_ACCOUNT_USER_ID", 0)
	viper.SetDefault("MAX_TRANSACTION_LIMIT", 100)

	viper.SetDefault("AUTH_BASE_URL", "https://auth.roblox.com")
	viper.SetDefault("GROUPS_BASE_URL", "https://groups.roblox.com")
	viper.SetDefault("TWOSTEP_BASE_URL", "https://twostepverification.roblox.com")
	viper.SetDefault("CHALLENGE_BASE_URL", "https://apis.roblox.com")
	viper.SetDefault("USERS_BASE_URL", "https://users.roblox.com")

	viper.SetDefault("PAYOUT_TOKEN_TIMEOUT", "10s")
	viper.SetDefault("PAYOUT_TRANSFER_TIMEOUT", "10s")
	viper.SetDefault("PAYOUT_CHALLENGE_TIMEOUT", "10s")
	viper.SetDefault("PAYOUT_CONFIRM_TIMEOUT", "5s")
	viper.SetDefault("PAYOUT_TOKEN_ATTEMPTS", 3)
	viper.SetDefault("PAYOUT_TRANSFER_ATTEMPTS", 3)
	viper.SetDefault("PAYOUT_CONFIRM_ATTEMPTS", 5)

	viper.SetDefault("DIRECTORY_TIMEOUT", "5s")
	viper.SetDefault("DIRECTORY_CACHE_SIZE", 1024)
	viper.SetDefault("DIRECTORY_CACHE_TTL", "1m")

	viper.SetDefault("STALE_REPORT_SCHEDULE", "@every 15m")
	viper.SetDefault("STALE_PENDING_AFTER", "24h")

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLE_RATIO", 1.0)

	viper.SetDefault("SEED_DEMO_DATA", false)
}

// IsProduction reports whether the production profile is active.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Validate ensures that required configuration values are present and meet security standards.
// Every problem is reported, not only the first.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Port == "" {
		result = multierror.Append(result, errors.New("PORT is required"))
	}
	if c.AuthenticationKey == "" {
		result = multierror.Append(result, errors.New("AUTHENTICATION_KEY is required"))
	}
	if c.MaxTransactionLimit <= 0 {
		result = multierror.Append(result, errors.New("MAX_TRANSACTION_LIMIT must be positive"))
	}
	if c.PayoutGroupID < 0 {
		result = multierror.Append(result, errors.New("ROBLOX_GROUP_ID must not be negative"))
	}
	if c.TokenAttempts < 1 || c.TransferAttempts < 1 || c.ConfirmAttempts < 1 {
		result = multierror.Append(result, errors.New("payout attempt counts must be at least 1"))
	}
	if c.TokenTimeout <= 0 || c.TransferTimeout <= 0 || c.ChallengeTimeout <= 0 || c.ConfirmTimeout <= 0 {
		result = multierror.Append(result, errors.New("payout timeouts must be positive"))
	}

	if c.IsProduction() {
		if c.AuthenticationKey == defaultAuthenticationKey {
			result = multierror.Append(result, errors.New("AUTHENTICATION_KEY must be changed from the default value in production"))
		}
		if len(c.AuthenticationKey) < 32 {
			result = multierror.Append(result, errors.New("AUTHENTICATION_KEY must be at least 32 characters in production"))
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			result = multierror.Append(result, errors.New("a strong DB_PASSWORD is required in production"))
		}
		if c.SessionCookie == "" {
			result = multierror.Append(result, errors.New("ROBLOSECURITY is required in production"))
		}
		if c.TOTPSecret == "" {
			result = multierror.Append(result, errors.New("ROBLOX_TOTP_SECRET is required in production"))
		}
		if c.PayoutGroupID == 0 {
			result = multierror.Append(result, errors.New("ROBLOX_GROUP_ID is required in production"))
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			log.Println("WARNING: DB_SSLMODE is 'disable' in production. It is highly recommended to use SSL for database connections.")
		}
	} else if len(c.AuthenticationKey) < 32 {
		log.Println("WARNING: AUTHENTICATION_KEY is shorter than 32 characters. Consider using a stronger key for production.")
	}

	return result.ErrorOrNil()
}
