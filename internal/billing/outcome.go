package billing

import "mandatesync/internal/types"

// OutcomeKind classifies how a decoded event was settled. Every kind is
// acknowledged to Stripe; the kind only drives logs and metrics.
type OutcomeKind string

const (
	// OutcomeApplied means the customer record was written.
	OutcomeApplied OutcomeKind = "applied"
	// OutcomeIgnored means no rule applies to the event.
	OutcomeIgnored OutcomeKind = "ignored"
	// OutcomeDuplicate means a guard held and the record already reflected the event.
	OutcomeDuplicate OutcomeKind = "duplicate"
	// OutcomeUnresolved means the event did not carry enough to locate a record.
	OutcomeUnresolved OutcomeKind = "unresolved"
	// OutcomeNotFound means the referenced customer does not exist.
	OutcomeNotFound OutcomeKind = "not_found"
	// OutcomeStoreFault means the datastore write failed.
	OutcomeStoreFault OutcomeKind = "store_fault"
)

// Outcome is the result of reconciling one event.
type Outcome struct {
	Kind       OutcomeKind
	CustomerID string
	Status     types.MandateStatus
	Reason     string

	// Err is set for store faults so callers can log the cause.
	Err error
}

func ignored(reason string) Outcome {
	return Outcome{Kind: OutcomeIgnored, Reason: reason}
}

func unresolved(customerID, reason string) Outcome {
	return Outcome{Kind: OutcomeUnresolved, CustomerID: customerID, Reason: reason}
}
