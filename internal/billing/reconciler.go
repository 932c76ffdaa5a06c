package billing

import (
	"context"
	"fmt"
	"log/slog"

	stripe "github.com/stripe/stripe-go/v82"

	"mandatesync/internal/external"
	"mandatesync/internal/types"
)

// DefaultCustomerMetadataKey is the metadata entry that carries the local
// customer id on checkout sessions and setup intents.
const DefaultCustomerMetadataKey = "supabase_customer_id"

// CustomerStore is the subset of the customer repository the reconciler
// writes through. Missing customers are reported as *types.AppError with
// types.ErrCodeNotFoundCustomer.
type CustomerStore interface {
	FindIDByProviderCustomer(ctx context.Context, providerCustomerID string) (string, error)
	SetPaymentMethod(ctx context.Context, customerID, paymentMethodID string, status types.MandateStatus) error
	SetPaymentMethodIfUnset(ctx context.Context, customerID, paymentMethodID string, status types.MandateStatus) (bool, error)
	MarkMandateFailed(ctx context.Context, customerID string) (types.MandateTransition, error)
	UpdateMandateStatusByPaymentMethod(ctx context.Context, paymentMethodID string, status types.MandateStatus) ([]types.MandateTransition, error)
}

// Reconciler applies decoded events to customer records.
type Reconciler struct {
	store       CustomerStore
	intents     external.SetupIntentReader
	notifier    FailureNotifier
	metadataKey string
	clock       types.Clock
	logger      *slog.Logger
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithMetadataKey overrides DefaultCustomerMetadataKey.
func WithMetadataKey(key string) ReconcilerOption {
	return func(r *Reconciler) {
		if key != "" {
			r.metadataKey = key
		}
	}
}

// WithFailureNotifier publishes a notification for every transition into failed.
func WithFailureNotifier(n FailureNotifier) ReconcilerOption {
	return func(r *Reconciler) {
		r.notifier = n
	}
}

// WithClock sets the clock used for notification timestamps.
func WithClock(c types.Clock) ReconcilerOption {
	return func(r *Reconciler) {
		r.clock = c
	}
}

// NewReconciler creates a Reconciler.
func NewReconciler(store CustomerStore, intents external.SetupIntentReader, logger *slog.Logger, opts ...ReconcilerOption) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		store:       store,
		intents:     intents,
		metadataKey: DefaultCustomerMetadataKey,
		clock:       types.RealClock{},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile applies ev. Datastore and lookup problems are returned as an
// Outcome; a non-nil error means the event could not be evaluated at all
// (for example the follow-up Stripe read failed) and should be redelivered.
func (r *Reconciler) Reconcile(ctx context.Context, ev Event) (Outcome, error) {
	switch e := ev.(type) {
	case CheckoutSessionCompleted:
		return r.checkoutCompleted(ctx, e)
	case SetupIntentSucceeded:
		return r.setupSucceeded(ctx, e)
	case SetupIntentFailed:
		return r.setupFailed(ctx, e)
	case MandateUpdated:
		return r.mandateUpdated(ctx, e)
	default:
		meta := ev.Meta()
		r.log(ctx).InfoContext(ctx, "unhandled webhook event type", "event_type", meta.Type)
		return ignored("unhandled event type " + meta.Type), nil
	}
}

func (r *Reconciler) checkoutCompleted(ctx context.Context, e CheckoutSessionCompleted) (Outcome, error) {
	s := e.Session
	if s.Mode != stripe.CheckoutSessionModeSetup {
		return ignored(fmt.Sprintf("checkout session mode %q", s.Mode)), nil
	}

	customerID, out, ok := r.resolveCustomer(ctx, s.Metadata, s.ClientReferenceID, s.Customer)
	if !ok {
		return out, nil
	}

	if s.SetupIntent == nil || s.SetupIntent.ID == "" {
		return unresolved(customerID, "checkout session has no setup intent"), nil
	}

	si, err := r.intents.GetSetupIntent(ctx, s.SetupIntent.ID)
	if err != nil {
		if types.HasCode(err, types.ErrCodeNotFoundSetupIntent) {
			return unresolved(customerID, "setup intent not found at provider"), nil
		}
		return Outcome{}, fmt.Errorf("reading setup intent %s: %w", s.SetupIntent.ID, err)
	}

	pmID := paymentMethodID(si.PaymentMethod)
	if pmID == "" {
		return unresolved(customerID, "setup intent has no payment method"), nil
	}

	status := types.MandateStatusUnknown
	if si.Mandate != nil {
		status = mapMandateStatus(si.Mandate.Status)
	}

	if err := r.store.SetPaymentMethod(ctx, customerID, pmID, status); err != nil {
		return r.storeOutcome(ctx, customerID, err), nil
	}
	return Outcome{Kind: OutcomeApplied, CustomerID: customerID, Status: status}, nil
}

func (r *Reconciler) setupSucceeded(ctx context.Context, e SetupIntentSucceeded) (Outcome, error) {
	si := e.SetupIntent
	customerID, out, ok := r.resolveCustomer(ctx, si.Metadata, "", si.Customer)
	if !ok {
		return out, nil
	}

	pmID := paymentMethodID(si.PaymentMethod)
	if pmID == "" {
		return unresolved(customerID, "setup intent has no payment method"), nil
	}

	// Webhook payloads usually carry the mandate as a bare id; only an
	// expanded mandate has a status to map.
	status := types.MandateStatusActive
	if si.Mandate != nil && si.Mandate.Status != "" {
		status = mapMandateStatus(si.Mandate.Status)
	}

	applied, err := r.store.SetPaymentMethodIfUnset(ctx, customerID, pmID, status)
	if err != nil {
		return r.storeOutcome(ctx, customerID, err), nil
	}
	if !applied {
		return Outcome{
			Kind:       OutcomeDuplicate,
			CustomerID: customerID,
			Reason:     "payment method already on file",
		}, nil
	}
	return Outcome{Kind: OutcomeApplied, CustomerID: customerID, Status: status}, nil
}

func (r *Reconciler) setupFailed(ctx context.Context, e SetupIntentFailed) (Outcome, error) {
	si := e.SetupIntent
	customerID, out, ok := r.resolveCustomer(ctx, si.Metadata, "", si.Customer)
	if !ok {
		return out, nil
	}

	reason := e.FailureReason
	if reason == "" {
		reason = "setup failed"
	}
	r.log(ctx).InfoContext(ctx, "mandate setup failed",
		"customer_id", customerID,
		"setup_intent_id", si.ID,
		"failure_reason", reason,
	)

	t, err := r.store.MarkMandateFailed(ctx, customerID)
	if err != nil {
		return r.storeOutcome(ctx, customerID, err), nil
	}
	if !t.BecameFailed() {
		return Outcome{
			Kind:       OutcomeDuplicate,
			CustomerID: customerID,
			Status:     t.Current,
			Reason:     "mandate already failed",
		}, nil
	}

	r.notifyFailed(ctx, e.EventMeta, t, reason)
	return Outcome{Kind: OutcomeApplied, CustomerID: customerID, Status: t.Current, Reason: reason}, nil
}

func (r *Reconciler) mandateUpdated(ctx context.Context, e MandateUpdated) (Outcome, error) {
	m := e.Mandate
	pmID := paymentMethodID(m.PaymentMethod)
	if pmID == "" {
		return unresolved("", "mandate has no payment method"), nil
	}

	status := mapMandateStatus(m.Status)
	transitions, err := r.store.UpdateMandateStatusByPaymentMethod(ctx, pmID, status)
	if err != nil {
		return r.storeOutcome(ctx, "", err), nil
	}
	if len(transitions) == 0 {
		return Outcome{
			Kind:   OutcomeNotFound,
			Status: status,
			Reason: "no customer holds payment method " + pmID,
		}, nil
	}

	for _, t := range transitions {
		if t.BecameFailed() {
			r.notifyFailed(ctx, e.EventMeta, t, fmt.Sprintf("mandate %s is %s", m.ID, m.Status))
		}
	}
	return Outcome{Kind: OutcomeApplied, CustomerID: transitions[0].CustomerID, Status: transitions[0].Current}, nil
}

// resolveCustomer finds the local customer id: metadata first, then the
// client reference, then the Stripe customer's provider_customer_id link.
// When ok is false the returned Outcome is final.
func (r *Reconciler) resolveCustomer(ctx context.Context, metadata map[string]string, clientRef string, customer *stripe.Customer) (string, Outcome, bool) {
	if id := metadata[r.metadataKey]; id != "" {
		return id, Outcome{}, true
	}
	if clientRef != "" {
		return clientRef, Outcome{}, true
	}
	if customer == nil || customer.ID == "" {
		return "", unresolved("", "no customer reference in event"), false
	}

	id, err := r.store.FindIDByProviderCustomer(ctx, customer.ID)
	if err != nil {
		if isNotFound(err) {
			return "", unresolved("", "no customer linked to provider customer "+customer.ID), false
		}
		return "", r.storeOutcome(ctx, "", err), false
	}
	r.log(ctx).DebugContext(ctx, "customer resolved via provider customer id",
		"provider_customer_id", customer.ID,
		"customer_id", id,
	)
	return id, Outcome{}, true
}

func (r *Reconciler) storeOutcome(ctx context.Context, customerID string, err error) Outcome {
	if isNotFound(err) {
		return Outcome{Kind: OutcomeNotFound, CustomerID: customerID, Reason: "customer record not found"}
	}
	r.log(ctx).ErrorContext(ctx, "customer write failed",
		"customer_id", customerID,
		"error", err,
	)
	return Outcome{Kind: OutcomeStoreFault, CustomerID: customerID, Reason: "datastore write failed", Err: err}
}

func (r *Reconciler) notifyFailed(ctx context.Context, meta EventMeta, t types.MandateTransition, reason string) {
	if r.notifier == nil {
		return
	}
	n := types.MandateNotification{
		CustomerID: t.CustomerID,
		Status:     t.Current,
		Reason:     reason,
		EventID:    meta.ID,
		EventType:  meta.Type,
		OccurredAt: r.clock.Now(),
	}
	if err := r.notifier.NotifyMandateFailed(ctx, n); err != nil {
		r.log(ctx).WarnContext(ctx, "failed to publish mandate failure notification",
			"customer_id", t.CustomerID,
			"error", err,
		)
	}
}

func (r *Reconciler) log(ctx context.Context) *slog.Logger {
	return types.LoggerFromContext(ctx, r.logger)
}

// mapMandateStatus translates a Stripe mandate status to the local status.
func mapMandateStatus(s stripe.MandateStatus) types.MandateStatus {
	switch s {
	case stripe.MandateStatusActive:
		return types.MandateStatusActive
	case stripe.MandateStatusPending:
		return types.MandateStatusPending
	case stripe.MandateStatusInactive:
		return types.MandateStatusFailed
	default:
		return types.MandateStatusUnknown
	}
}

func paymentMethodID(pm *stripe.PaymentMethod) string {
	if pm == nil {
		return ""
	}
	return pm.ID
}

func isNotFound(err error) bool {
	return types.HasCode(err, types.ErrCodeNotFoundCustomer)
}
