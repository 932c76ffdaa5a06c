package external

import (
	"context"

	stripe "github.com/stripe/stripe-go/v82"
)

// SetupIntentReader fetches a setup intent with its payment method and
// mandate expanded. Checkout sessions in setup mode only carry the setup
// intent id, so reconciliation needs this follow-up read.
type SetupIntentReader interface {
	GetSetupIntent(ctx context.Context, id string) (*stripe.SetupIntent, error)
}

// WebhookVerifier abstracts Stripe webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the Stripe-Signature header
	// and signing secret. Returns nil on success.
	Verify(payload []byte, header string, secret string) error
}
