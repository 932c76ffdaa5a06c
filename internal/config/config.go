// Package config defines the process configuration for the mandate sync service.
// Configuration is loaded once at startup (or Lambda cold start) and is
// immutable thereafter.
//
// Values are resolved in priority order:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// A missing required value or invalid format aborts startup. The webhook
// signing secret is the one exception: it may be absent, in which case the
// webhook endpoint answers 500 until it is configured.
package config

import (
	"time"

	"mandatesync/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Config is the top-level configuration struct.
// Sub-components receive only the subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"mandatesync"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	IsTestMode  bool   `envconfig:"IS_TEST_MODE" default:"false"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Billing       BillingConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"25s" validate:"gt=0"`
	// MaxBodyBytes caps webhook payloads; Stripe events are well under 64KB.
	MaxBodyBytes int64 `envconfig:"WEBHOOK_MAX_BODY_BYTES" default:"65536" validate:"gt=0"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// Empty disables mandate failure notifications.
	NotificationQueueURL string `envconfig:"MANDATE_NOTIFICATIONS_QUEUE_URL" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
}

// BillingConfig holds the Stripe credentials and webhook parameters.
type BillingConfig struct {
	StripeSecretKey     SecretString  `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString  `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeAPIBaseURL    string        `envconfig:"STRIPE_API_BASE_URL" default:"https://api.stripe.com" validate:"url"`
	WebhookTolerance    time.Duration `envconfig:"STRIPE_WEBHOOK_TOLERANCE" default:"5m" validate:"gt=0"`

	// CustomerMetadataKey names the metadata entry on checkout sessions and
	// setup intents that carries the local customer id.
	CustomerMetadataKey string `envconfig:"CUSTOMER_METADATA_KEY" default:"supabase_customer_id" validate:"required"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"MandateSync"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
	// ErrInconsistent indicates values that are individually valid but
	// contradict each other.
	ErrInconsistent ConfigErrorType = "INCONSISTENT"
)
