package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// Orders reads and transitions the order rows owned by the order subsystem.
// This core only ever writes the status column, and only through guarded updates.
type Orders struct {
	DB DBTX
}

// Get returns the order slice this core consumes.
func (q Orders) Get(ctx context.Context, id pgtype.UUID) (Order, error) {
	var o Order
	err := q.DB.QueryRow(ctx, `
		SELECT id, status, payment_method, customer_email
		FROM orders WHERE id = $1`, id).
		Scan(&o.ID, &o.Status, &o.PaymentMethod, &o.CustomerEmail)
	return o, err
}

// GetStatus returns only the order status.
func (q Orders) GetStatus(ctx context.Context, id pgtype.UUID) (OrderStatus, error) {
	var status OrderStatus
	err := q.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&status)
	return status, err
}

// SetStatusIf performs a compare-and-swap on the order status. The caller is
// responsible for terminal-state checks; the CAS guarantees a racing writer
// cannot double-apply a transition.
func (q Orders) SetStatusIf(ctx context.Context, id pgtype.UUID, expected, next OrderStatus) (bool, error) {
	tag, err := q.DB.Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`, id, expected, next)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
