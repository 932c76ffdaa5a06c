package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"mandatesync/internal/types"
)

// ConfigError is the diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

const prodEnv = "prod"

// LoadConfig loads and validates the service configuration.
//
// Steps:
//  1. Sets the process timezone to UTC.
//  2. Loads a .env file if present (existing variables win).
//  3. Processes envconfig tags to populate the Config struct.
//  4. Populates Config.Build from linker-injected variables.
//  5. Validates struct tags, then cross-field rules.
func LoadConfig() (*Config, error) {
	time.Local = time.UTC

	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if err := checkConsistency(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// checkConsistency enforces rules that span several fields.
func checkConsistency(cfg *Config) error {
	testKey := types.IsTestKey(cfg.Billing.StripeSecretKey.Unmask())
	if cfg.Environment == prodEnv && testKey {
		return &ConfigError{
			Type:    ErrInconsistent,
			Message: "APP_ENV=prod requires a live STRIPE_SECRET_KEY",
		}
	}
	if cfg.Database.MinConns > cfg.Database.MaxConns {
		return &ConfigError{
			Type:    ErrInconsistent,
			Message: fmt.Sprintf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", cfg.Database.MinConns, cfg.Database.MaxConns),
		}
	}
	return nil
}

// WebhookSecretConfigured reports whether a signing secret is present.
// The service still starts without one so that deliveries fail loudly
// with 500 and Stripe keeps retrying until the secret is deployed.
func (c *Config) WebhookSecretConfigured() bool {
	return !c.Billing.StripeWebhookSecret.IsZero()
}
