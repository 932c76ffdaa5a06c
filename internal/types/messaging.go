package types

import "time"

// MandateNotification is the SQS payload published when a customer's mandate
// setup ends in failure. The email dispatcher consumes it to tell the customer
// their bank details need attention.
type MandateNotification struct {
	NotificationID string        `json:"notification_id"`
	CustomerID     string        `json:"customer_id"`
	Status         MandateStatus `json:"status"`
	Reason         string        `json:"reason,omitempty"`

	// Provider event that caused the transition.
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`

	OccurredAt time.Time `json:"occurred_at"`
	TraceID    string    `json:"trace_id,omitempty"`
}
