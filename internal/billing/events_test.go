package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
)

func payload(s string) VerifiedPayload {
	return VerifiedPayload{raw: []byte(s)}
}

func TestDecode_CheckoutSessionCompleted(t *testing.T) {
	ev, err := Decode(payload(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"api_version": "2025-04-30.basil",
		"created": 1767225600,
		"livemode": false,
		"data": {"object": {
			"id": "cs_1",
			"object": "checkout.session",
			"mode": "setup",
			"client_reference_id": "cust_ref",
			"customer": "cus_1",
			"setup_intent": "seti_1",
			"metadata": {"supabase_customer_id": "cust_1"}
		}}
	}`))
	require.NoError(t, err)

	cs, ok := ev.(CheckoutSessionCompleted)
	require.True(t, ok, "got %T", ev)

	assert.Equal(t, "evt_1", cs.Meta().ID)
	assert.Equal(t, "checkout.session.completed", cs.Meta().Type)
	assert.Equal(t, "2025-04-30.basil", cs.Meta().APIVersion)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), cs.Meta().Created)

	assert.Equal(t, stripe.CheckoutSessionModeSetup, cs.Session.Mode)
	assert.Equal(t, "cust_ref", cs.Session.ClientReferenceID)
	assert.Equal(t, "cust_1", cs.Session.Metadata["supabase_customer_id"])
	require.NotNil(t, cs.Session.SetupIntent)
	assert.Equal(t, "seti_1", cs.Session.SetupIntent.ID)
	require.NotNil(t, cs.Session.Customer)
	assert.Equal(t, "cus_1", cs.Session.Customer.ID)
}

func TestDecode_SetupIntentEvents(t *testing.T) {
	ev, err := Decode(payload(`{
		"id": "evt_2",
		"type": "setup_intent.succeeded",
		"data": {"object": {
			"id": "seti_1",
			"object": "setup_intent",
			"status": "succeeded",
			"payment_method": "pm_1",
			"mandate": "mandate_1",
			"metadata": {"supabase_customer_id": "cust_1"}
		}}
	}`))
	require.NoError(t, err)

	ok, isOK := ev.(SetupIntentSucceeded)
	require.True(t, isOK, "got %T", ev)
	assert.Equal(t, "pm_1", ok.SetupIntent.PaymentMethod.ID)
	assert.Equal(t, "mandate_1", ok.SetupIntent.Mandate.ID)
	assert.Empty(t, ok.SetupIntent.Mandate.Status)

	ev, err = Decode(payload(`{
		"id": "evt_3",
		"type": "setup_intent.setup_failed",
		"data": {"object": {
			"id": "seti_2",
			"object": "setup_intent",
			"metadata": {"supabase_customer_id": "cust_1"},
			"last_setup_error": {"code": "invalid_bank_account_iban", "message": "The IBAN is invalid."}
		}}
	}`))
	require.NoError(t, err)

	failed, isFailed := ev.(SetupIntentFailed)
	require.True(t, isFailed, "got %T", ev)
	assert.Equal(t, "seti_2", failed.SetupIntent.ID)
	assert.Equal(t, "The IBAN is invalid.", failed.FailureReason)

	ev, err = Decode(payload(`{
		"id": "evt_4",
		"type": "setup_intent.setup_failed",
		"data": {"object": {"id": "seti_3", "last_setup_error": {"code": "setup_intent_authentication_failure"}}}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "setup_intent_authentication_failure", ev.(SetupIntentFailed).FailureReason)
}

func TestDecode_MandateUpdated(t *testing.T) {
	ev, err := Decode(payload(`{
		"id": "evt_4",
		"type": "mandate.updated",
		"data": {"object": {
			"id": "mandate_1",
			"object": "mandate",
			"status": "inactive",
			"payment_method": "pm_1"
		}}
	}`))
	require.NoError(t, err)

	mu, ok := ev.(MandateUpdated)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, stripe.MandateStatusInactive, mu.Mandate.Status)
	assert.Equal(t, "pm_1", mu.Mandate.PaymentMethod.ID)
}

func TestDecode_UnknownTypeIsUnhandled(t *testing.T) {
	ev, err := Decode(payload(`{"id":"evt_5","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`))
	require.NoError(t, err)

	u, ok := ev.(UnhandledEvent)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "invoice.paid", u.Meta().Type)

	// The object of an unhandled event is never inspected.
	ev, err = Decode(payload(`{"id":"evt_6","type":"customer.created"}`))
	require.NoError(t, err)
	assert.IsType(t, UnhandledEvent{}, ev)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `this is not json`},
		{"truncated", `{"id":"evt_1","type":"mandate.upd`},
		{"json array", `[1,2,3]`},
		{"missing type", `{"id":"evt_1","data":{"object":{}}}`},
		{"recognized kind without object", `{"id":"evt_1","type":"setup_intent.succeeded","data":{}}`},
		{"recognized kind with id string object", `{"id":"evt_1","type":"mandate.updated","data":{"object":"mandate_1"}}`},
		{"recognized kind with wrong field types", `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"metadata":"oops"}}}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := Decode(payload(tc.body))
			assert.Nil(t, ev)
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}
