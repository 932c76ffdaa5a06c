package billing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
)

// ErrMalformedEvent means a verified body is not a usable Stripe event.
var ErrMalformedEvent = errors.New("billing: malformed webhook event")

// Event is one decoded webhook delivery. The concrete type tells the
// reconciler which transition rule applies.
type Event interface {
	Meta() EventMeta
	isEvent()
}

// EventMeta carries the envelope fields every event has.
type EventMeta struct {
	ID         string
	Type       string
	APIVersion string
	Created    time.Time
	Livemode   bool
}

// Meta returns the envelope fields.
func (m EventMeta) Meta() EventMeta { return m }

func (EventMeta) isEvent() {}

// CheckoutSessionCompleted is checkout.session.completed.
type CheckoutSessionCompleted struct {
	EventMeta
	Session *stripe.CheckoutSession
}

// SetupIntentSucceeded is setup_intent.succeeded.
type SetupIntentSucceeded struct {
	EventMeta
	SetupIntent *stripe.SetupIntent
}

// SetupIntentFailed is setup_intent.setup_failed.
type SetupIntentFailed struct {
	EventMeta
	SetupIntent *stripe.SetupIntent

	// FailureReason is last_setup_error.message, or its code when Stripe
	// sent no message.
	FailureReason string
}

// MandateUpdated is mandate.updated.
type MandateUpdated struct {
	EventMeta
	Mandate *stripe.Mandate
}

// UnhandledEvent is any event type the reconciler has no rule for.
type UnhandledEvent struct {
	EventMeta
}

// envelope mirrors the top level of a Stripe event. The object is kept raw
// until the type is known.
type envelope struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	APIVersion string `json:"api_version"`
	Created    int64  `json:"created"`
	Livemode   bool   `json:"livemode"`
	Data       struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Decode parses a verified payload into a typed Event. Unknown event types
// decode to UnhandledEvent; only structurally broken input is an error.
func Decode(p VerifiedPayload) (Event, error) {
	var env envelope
	if err := json.Unmarshal(p.raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedEvent)
	}

	meta := EventMeta{
		ID:         env.ID,
		Type:       env.Type,
		APIVersion: env.APIVersion,
		Livemode:   env.Livemode,
	}
	if env.Created > 0 {
		meta.Created = time.Unix(env.Created, 0).UTC()
	}

	switch stripe.EventType(env.Type) {
	case stripe.EventTypeCheckoutSessionCompleted:
		var s stripe.CheckoutSession
		if err := decodeObject(env.Data.Object, &s); err != nil {
			return nil, err
		}
		return CheckoutSessionCompleted{EventMeta: meta, Session: &s}, nil

	case stripe.EventTypeSetupIntentSucceeded:
		var si stripe.SetupIntent
		if err := decodeObject(env.Data.Object, &si); err != nil {
			return nil, err
		}
		return SetupIntentSucceeded{EventMeta: meta, SetupIntent: &si}, nil

	case stripe.EventTypeSetupIntentSetupFailed:
		var si stripe.SetupIntent
		if err := decodeObject(env.Data.Object, &si); err != nil {
			return nil, err
		}
		return SetupIntentFailed{
			EventMeta:     meta,
			SetupIntent:   &si,
			FailureReason: lastSetupError(env.Data.Object),
		}, nil

	case stripe.EventTypeMandateUpdated:
		var m stripe.Mandate
		if err := decodeObject(env.Data.Object, &m); err != nil {
			return nil, err
		}
		return MandateUpdated{EventMeta: meta, Mandate: &m}, nil

	default:
		return UnhandledEvent{EventMeta: meta}, nil
	}
}

// decodeObject requires a JSON object; stripe-go would otherwise accept a
// bare id string as a valid expandable resource.
func decodeObject(raw json.RawMessage, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return fmt.Errorf("%w: data.object is not a JSON object", ErrMalformedEvent)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	return nil
}

type setupErrorFields struct {
	LastSetupError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_setup_error"`
}

func lastSetupError(raw json.RawMessage) string {
	var f setupErrorFields
	if err := json.Unmarshal(raw, &f); err != nil || f.LastSetupError == nil {
		return ""
	}
	if f.LastSetupError.Message != "" {
		return f.LastSetupError.Message
	}
	return f.LastSetupError.Code
}
