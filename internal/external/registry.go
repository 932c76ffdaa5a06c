package external

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"mandatesync/internal/config"
)

// ClientRegistry holds the Stripe-facing clients the service needs.
type ClientRegistry struct {
	SetupIntents SetupIntentReader
	Verifier     WebhookVerifier
}

// RegistryOption is a functional option for configuring a ClientRegistry.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	httpClient *http.Client
	onFailure  func(ctx context.Context, provider string)
}

// WithHTTPClient overrides the HTTP client used for Stripe API reads.
func WithHTTPClient(c *http.Client) RegistryOption {
	return func(rc *registryConfig) {
		rc.httpClient = c
	}
}

// WithFailureHook is called whenever a Stripe read fails upstream.
func WithFailureHook(fn func(ctx context.Context, provider string)) RegistryOption {
	return func(rc *registryConfig) {
		rc.onFailure = fn
	}
}

// NewClientRegistry initializes the Stripe clients. In test mode the setup
// intent reader is stubbed; the webhook verifier is always the real one.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger, opts ...RegistryOption) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	rc := &registryConfig{
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(rc)
	}

	reg := &ClientRegistry{
		Verifier: &StripeVerifier{Tolerance: cfg.Billing.WebhookTolerance},
	}

	if cfg.IsTestMode {
		logger.Info("initializing Stripe reader in STUB mode", "environment", cfg.Environment)
		reg.SetupIntents = NewStubSetupIntentReader(logger.With("mode", "stub"))
		return reg
	}

	reg.SetupIntents = NewStripeClient(rc.httpClient, StripeClientConfig{
		SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
		BaseURL:   cfg.Billing.StripeAPIBaseURL,
		Logger:    logger.With("client", "stripe"),
		OnFailure: rc.onFailure,
	})
	return reg
}
