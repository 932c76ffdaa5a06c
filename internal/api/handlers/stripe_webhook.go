// Package handlers contains the HTTP handlers mounted on the core router.
//
// The Stripe webhook endpoint is unauthenticated; it is called directly by
// Stripe and trusts a request only after the Stripe-Signature header has been
// verified over the raw body.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mandatesync/internal/billing"
	"mandatesync/internal/core"
	"mandatesync/internal/types"
)

// DefaultMaxWebhookBodySize caps a Stripe webhook payload (64 KB).
const DefaultMaxWebhookBodySize = 64 * 1024

// Results recorded for deliveries that never reach the reconciler, or that
// fail inside it. Reconciled deliveries record their billing.OutcomeKind.
const (
	resultRejectedSignature = "rejected_signature"
	resultMalformed         = "malformed"
	resultInternalFault     = "internal_fault"
)

// MandateReconciler applies a decoded event to customer records.
type MandateReconciler interface {
	Reconcile(ctx context.Context, ev billing.Event) (billing.Outcome, error)
}

// OutcomeRecorder counts how each delivery was settled.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, eventType, result string)
}

type ackResponse struct {
	Received bool `json:"received"`
}

// StripeWebhookHandler acknowledges Stripe deliveries once they have been
// verified, decoded and reconciled.
type StripeWebhookHandler struct {
	verifier   *billing.SignatureVerifier
	reconciler MandateReconciler
	secret     types.SecretString
	maxBody    int64
	metrics    OutcomeRecorder
	logger     *slog.Logger
}

// StripeWebhookOption configures a StripeWebhookHandler.
type StripeWebhookOption func(*StripeWebhookHandler)

// WithMaxBodySize overrides DefaultMaxWebhookBodySize.
func WithMaxBodySize(n int64) StripeWebhookOption {
	return func(h *StripeWebhookHandler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// WithOutcomeRecorder sets the metrics sink for delivery results.
func WithOutcomeRecorder(m OutcomeRecorder) StripeWebhookOption {
	return func(h *StripeWebhookHandler) {
		if m != nil {
			h.metrics = m
		}
	}
}

// NewStripeWebhookHandler creates a StripeWebhookHandler. An empty secret is
// accepted; deliveries are then answered with 500 until one is configured.
func NewStripeWebhookHandler(
	verifier *billing.SignatureVerifier,
	reconciler MandateReconciler,
	secret types.SecretString,
	logger *slog.Logger,
	opts ...StripeWebhookOption,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &StripeWebhookHandler{
		verifier:   verifier,
		reconciler: reconciler,
		secret:     secret,
		maxBody:    DefaultMaxWebhookBodySize,
		metrics:    noopRecorder{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the webhook endpoint. All methods are routed here so
// the handler answers non-POST requests itself.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.HandleFunc("/webhooks/stripe", h.Handle)
}

// Handle processes one Stripe delivery:
//
//  1. Reads the raw body, capped at maxBody.
//  2. Verifies Stripe-Signature over the exact bytes.
//  3. Decodes the event.
//  4. Reconciles it against the customer store.
//  5. Acknowledges with 200 for every reconciled outcome.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := types.LoggerFromContext(ctx, h.logger)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		core.Error(w, r, types.NewAppError(types.ErrCodeMethodNotAllowed, "method not allowed", nil))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.WarnContext(ctx, "webhook body too large", "limit_bytes", tooLarge.Limit)
			h.metrics.RecordOutcome(ctx, "", resultMalformed)
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationPayloadTooLarge, "webhook payload too large", err))
			return
		}
		logger.WarnContext(ctx, "failed to read webhook body", "error", err)
		h.metrics.RecordOutcome(ctx, "", resultMalformed)
		core.Error(w, r, types.NewAppError(types.ErrCodeWebhookPayloadMalformed, "failed to read request body", err))
		return
	}

	verified, err := h.verifier.Verify(payload, r.Header.Get("Stripe-Signature"), h.secret)
	if err != nil {
		h.rejectUnverified(w, r, logger, err)
		return
	}

	ev, err := billing.Decode(verified)
	if err != nil {
		logger.WarnContext(ctx, "malformed webhook event", "error", err)
		h.metrics.RecordOutcome(ctx, "", resultMalformed)
		core.Error(w, r, types.NewAppError(types.ErrCodeWebhookPayloadMalformed, "malformed webhook event", err))
		return
	}

	meta := ev.Meta()
	logger = logger.With(
		slog.String("event_id", meta.ID),
		slog.String("event_type", meta.Type),
		slog.Bool("livemode", meta.Livemode),
	)
	ctx = types.WithLogger(ctx, logger)

	outcome, err := h.reconciler.Reconcile(ctx, ev)
	if err != nil {
		logger.ErrorContext(ctx, "webhook reconciliation failed", "error", err)
		h.metrics.RecordOutcome(ctx, meta.Type, resultInternalFault)
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalReconcile, "failed to process webhook event", err))
		return
	}

	h.logOutcome(ctx, logger, outcome)
	h.metrics.RecordOutcome(ctx, meta.Type, string(outcome.Kind))
	core.JSON(w, r, http.StatusOK, ackResponse{Received: true})
}

func (h *StripeWebhookHandler) rejectUnverified(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	ctx := r.Context()

	if errors.Is(err, billing.ErrMissingSecret) {
		logger.ErrorContext(ctx, "webhook signing secret is not configured")
		h.metrics.RecordOutcome(ctx, "", resultInternalFault)
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalWebhookSecret, "webhook signing secret not configured", err))
		return
	}

	logger.WarnContext(ctx, "webhook signature rejected", "error", err)
	h.metrics.RecordOutcome(ctx, "", resultRejectedSignature)

	code := types.ErrCodeWebhookSignatureInvalid
	msg := "webhook signature verification failed"
	if errors.Is(err, billing.ErrMissingSignature) {
		code = types.ErrCodeWebhookSignatureMissing
		msg = "missing Stripe-Signature header"
	}
	core.Error(w, r, types.NewAppError(code, msg, err))
}

// logOutcome keeps true no-ops at Info and masked faults at Warn or Error so
// that acknowledged failures are still visible.
func (h *StripeWebhookHandler) logOutcome(ctx context.Context, logger *slog.Logger, o billing.Outcome) {
	attrs := []any{
		slog.String("outcome", string(o.Kind)),
	}
	if o.CustomerID != "" {
		attrs = append(attrs, slog.String("customer_id", o.CustomerID))
	}
	if o.Status != "" {
		attrs = append(attrs, slog.String("mandate_status", string(o.Status)))
	}
	if o.Reason != "" {
		attrs = append(attrs, slog.String("reason", o.Reason))
	}

	switch o.Kind {
	case billing.OutcomeStoreFault:
		if o.Err != nil {
			attrs = append(attrs, slog.Any("error", o.Err))
		}
		logger.ErrorContext(ctx, "webhook acknowledged with store fault", attrs...)
	case billing.OutcomeUnresolved, billing.OutcomeNotFound:
		logger.WarnContext(ctx, "webhook acknowledged without update", attrs...)
	default:
		logger.InfoContext(ctx, "webhook processed", attrs...)
	}
}

type noopRecorder struct{}

func (noopRecorder) RecordOutcome(context.Context, string, string) {}
