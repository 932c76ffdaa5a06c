package billing

import (
	"context"

	"mandatesync/internal/types"
)

// FailureNotifier is told when a customer's mandate becomes failed.
// Implementations fill NotificationID and TraceID.
type FailureNotifier interface {
	NotifyMandateFailed(ctx context.Context, n types.MandateNotification) error
}
