package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"mandatesync/internal/types"
)

// A pending write never replaces failed when the payment method is unchanged:
// that combination only arises from a stale delivery of an earlier attempt.
const statusCaseSQL = `CASE
		WHEN c.mandate_status = 'failed' AND $%[1]d::text = 'pending'
		     AND c.payment_method_id IS NOT DISTINCT FROM $%[2]d::text THEN c.mandate_status
		ELSE $%[1]d::text
	END`

// CustomerRepository patches the payment fields of existing customer rows.
// It never inserts or deletes.
type CustomerRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewCustomerRepository creates a CustomerRepository.
func NewCustomerRepository(db DBTX, logger *slog.Logger) *CustomerRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &CustomerRepository{db: db, logger: logger}
}

func notFound(field, value string) error {
	return types.NewAppError(
		types.ErrCodeNotFoundCustomer,
		fmt.Sprintf("no customer with %s %q", field, value),
		nil,
	)
}

// FindIDByProviderCustomer maps a Stripe customer id to the local id.
func (r *CustomerRepository) FindIDByProviderCustomer(ctx context.Context, providerCustomerID string) (string, error) {
	var id string
	err := r.db.QueryRow(ctx,
		`SELECT id FROM customers WHERE provider_customer_id = $1`,
		providerCustomerID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", notFound("provider_customer_id", providerCustomerID)
	}
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to look up customer by provider id", err)
	}
	return id, nil
}

// SetPaymentMethod writes the payment method and mandate status together.
func (r *CustomerRepository) SetPaymentMethod(ctx context.Context, customerID, paymentMethodID string, status types.MandateStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE customers c
		 SET payment_method_id = $2,
		     mandate_status = `+fmt.Sprintf(statusCaseSQL, 3, 2)+`,
		     updated_at = NOW()
		 WHERE c.id = $1`,
		customerID, paymentMethodID, status,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set payment method", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("id", customerID)
	}
	return nil
}

// SetPaymentMethodIfUnset writes the payment method and status only when no
// payment method is on file yet. It reports false when the row already had
// one, leaving it untouched.
func (r *CustomerRepository) SetPaymentMethodIfUnset(ctx context.Context, customerID, paymentMethodID string, status types.MandateStatus) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE customers
		 SET payment_method_id = $2,
		     mandate_status = $3,
		     updated_at = NOW()
		 WHERE id = $1
		   AND payment_method_id IS NULL`,
		customerID, paymentMethodID, status,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to set payment method", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Zero rows: either the guard held or the customer does not exist.
	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)`,
		customerID,
	).Scan(&exists); err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check customer existence", err)
	}
	if !exists {
		return false, notFound("id", customerID)
	}
	return false, nil
}

// MarkMandateFailed sets the mandate status to failed regardless of its
// current value and returns the transition.
func (r *CustomerRepository) MarkMandateFailed(ctx context.Context, customerID string) (types.MandateTransition, error) {
	t := types.MandateTransition{CustomerID: customerID}
	err := r.db.QueryRow(ctx,
		`UPDATE customers c
		 SET mandate_status = 'failed',
		     updated_at = NOW()
		 FROM (SELECT id, mandate_status FROM customers WHERE id = $1 FOR UPDATE) p
		 WHERE c.id = p.id
		 RETURNING p.mandate_status, c.mandate_status`,
		customerID,
	).Scan(&t.Previous, &t.Current)
	if errors.Is(err, pgx.ErrNoRows) {
		return t, notFound("id", customerID)
	}
	if err != nil {
		return t, types.NewAppError(types.ErrCodeInternalDB, "failed to mark mandate failed", err)
	}
	return t, nil
}

// UpdateMandateStatusByPaymentMethod sets the status on every customer whose
// payment_method_id matches and returns one transition per row written.
// An empty result means no customer holds that payment method.
func (r *CustomerRepository) UpdateMandateStatusByPaymentMethod(ctx context.Context, paymentMethodID string, status types.MandateStatus) ([]types.MandateTransition, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE customers c
		 SET mandate_status = `+fmt.Sprintf(statusCaseSQL, 2, 1)+`,
		     updated_at = NOW()
		 FROM (SELECT id, mandate_status FROM customers WHERE payment_method_id = $1 FOR UPDATE) p
		 WHERE c.id = p.id
		 RETURNING c.id, p.mandate_status, c.mandate_status`,
		paymentMethodID, status,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to update mandate status", err)
	}
	defer rows.Close()

	var out []types.MandateTransition
	for rows.Next() {
		var t types.MandateTransition
		if err := rows.Scan(&t.CustomerID, &t.Previous, &t.Current); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan mandate transition", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to update mandate status", err)
	}

	if len(out) > 1 {
		r.logger.WarnContext(ctx, "payment method shared by several customers",
			"payment_method_id", paymentMethodID,
			"rows", len(out),
		)
	}
	return out, nil
}
