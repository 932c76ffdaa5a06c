// Package billing turns signed Stripe webhook deliveries into mandate state on
// local customer records.
//
// The pipeline is SignatureVerifier -> Decode -> Reconciler. Each stage only
// accepts the previous stage's output type, so an unverified body can never
// reach the decoder and an undecoded one can never reach the store.
package billing

import (
	"errors"
	"fmt"
	"strings"

	"mandatesync/internal/external"
	"mandatesync/internal/types"
)

var (
	// ErrMissingSignature means the Stripe-Signature header was absent or blank.
	ErrMissingSignature = errors.New("billing: missing Stripe-Signature header")
	// ErrMissingSecret means no webhook signing secret is configured.
	ErrMissingSecret = errors.New("billing: webhook signing secret not configured")
	// ErrInvalidSignature means the HMAC or timestamp check failed.
	ErrInvalidSignature = errors.New("billing: webhook signature verification failed")
)

// VerifiedPayload is a request body whose signature has been checked.
// Only SignatureVerifier can construct one.
type VerifiedPayload struct {
	raw []byte
}

// Len returns the payload size in bytes.
func (p VerifiedPayload) Len() int { return len(p.raw) }

// SignatureVerifier checks Stripe webhook signatures over the raw body.
type SignatureVerifier struct {
	checker external.WebhookVerifier
}

// NewSignatureVerifier creates a SignatureVerifier backed by checker.
func NewSignatureVerifier(checker external.WebhookVerifier) *SignatureVerifier {
	return &SignatureVerifier{checker: checker}
}

// Verify authenticates rawBody against the Stripe-Signature header value.
// The header is checked before the secret so that an unsigned probe gets a
// client error even on a deployment that is missing its secret.
func (v *SignatureVerifier) Verify(rawBody []byte, header string, secret types.SecretString) (VerifiedPayload, error) {
	if strings.TrimSpace(header) == "" {
		return VerifiedPayload{}, ErrMissingSignature
	}
	if secret.IsZero() {
		return VerifiedPayload{}, ErrMissingSecret
	}
	if err := v.checker.Verify(rawBody, header, secret.Unmask()); err != nil {
		return VerifiedPayload{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return VerifiedPayload{raw: rawBody}, nil
}
