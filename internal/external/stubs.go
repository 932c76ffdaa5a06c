package external

import (
	"context"
	"log/slog"

	stripe "github.com/stripe/stripe-go/v82"
)

// StubSetupIntentReader implements SetupIntentReader without calling Stripe.
// Used when config.IsTestMode is true so end-to-end runs can replay
// checkout.session.completed events without API credentials. The returned
// payment method and mandate ids are derived from the setup intent id.
//
// Signature verification is never stubbed.
type StubSetupIntentReader struct {
	logger *slog.Logger
}

// NewStubSetupIntentReader creates a new StubSetupIntentReader.
func NewStubSetupIntentReader(logger *slog.Logger) *StubSetupIntentReader {
	return &StubSetupIntentReader{logger: logger}
}

func (s *StubSetupIntentReader) GetSetupIntent(ctx context.Context, id string) (*stripe.SetupIntent, error) {
	s.logger.InfoContext(ctx, "stub: GetSetupIntent called", "setup_intent_id", id)

	pmID := "pm_stub_" + id
	return &stripe.SetupIntent{
		ID:            id,
		Status:        stripe.SetupIntentStatusSucceeded,
		PaymentMethod: &stripe.PaymentMethod{ID: pmID},
		Mandate: &stripe.Mandate{
			ID:            "mandate_stub_" + id,
			Status:        stripe.MandateStatusActive,
			PaymentMethod: &stripe.PaymentMethod{ID: pmID},
		},
	}, nil
}

var _ SetupIntentReader = (*StubSetupIntentReader)(nil)
var _ SetupIntentReader = (*StripeClient)(nil)
var _ WebhookVerifier = (*StripeVerifier)(nil)
