package types

import "time"

// MandateStatus is the local view of a customer's direct-debit mandate.
type MandateStatus string

const (
	MandateStatusUnknown MandateStatus = "unknown"
	MandateStatusPending MandateStatus = "pending"
	MandateStatusActive  MandateStatus = "active"
	MandateStatusFailed  MandateStatus = "failed"
)

// Customer is the authoritative local record for a paying customer.
// Rows are created elsewhere; this service only patches the payment fields.
type Customer struct {
	ID                 string        `json:"id" db:"id"`
	ProviderCustomerID *string       `json:"provider_customer_id,omitempty" db:"provider_customer_id"`
	PaymentMethodID    *string       `json:"payment_method_id,omitempty" db:"payment_method_id"`
	MandateStatus      MandateStatus `json:"mandate_status" db:"mandate_status"`
	UpdatedAt          time.Time     `json:"updated_at" db:"updated_at"`
}

// MandateTransition reports a status write on one customer row.
type MandateTransition struct {
	CustomerID string
	Previous   MandateStatus
	Current    MandateStatus
}

// BecameFailed reports whether this write moved the customer into failed.
func (t MandateTransition) BecameFailed() bool {
	return t.Current == MandateStatusFailed && t.Previous != MandateStatusFailed
}
