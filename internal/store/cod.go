package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// COD persists the cash-on-delivery ledger. Every mutation is a single-row
// compare-and-swap on the state column so a concurrent duplicate event loses
// the race instead of overwriting an earlier one.
type COD struct {
	DB DBTX
}

const codColumns = `order_id, state, collected_by, collected_amount, receipt_ref, failure_reason, notes, created_at, updated_at`

func scanCOD(row pgx.Row) (CODTracking, error) {
	var c CODTracking
	err := row.Scan(&c.OrderID, &c.State, &c.CollectedBy, &c.CollectedAmount,
		&c.ReceiptRef, &c.FailureReason, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// Get returns the ledger row for the order.
func (q COD) Get(ctx context.Context, orderID pgtype.UUID) (CODTracking, error) {
	row := q.DB.QueryRow(ctx, `SELECT `+codColumns+` FROM cod_tracking WHERE order_id = $1`, orderID)
	return scanCOD(row)
}

// Create opens a ledger row in the awaiting state. Checkout owns when this
// happens for real orders; the seeder and tests call it directly.
func (q COD) Create(ctx context.Context, orderID pgtype.UUID) (CODTracking, error) {
	row := q.DB.QueryRow(ctx, `
		INSERT INTO cod_tracking (order_id, state)
		VALUES ($1, 'awaiting')
		RETURNING `+codColumns, orderID)
	return scanCOD(row)
}

// OpenIfAbsent opens the ledger row in the awaiting state when none exists
// yet. Booking a second COD shipment for the same order is a no-op here.
func (q COD) OpenIfAbsent(ctx context.Context, orderID pgtype.UUID) error {
	_, err := q.DB.Exec(ctx, `
		INSERT INTO cod_tracking (order_id, state)
		VALUES ($1, 'awaiting')
		ON CONFLICT (order_id) DO NOTHING`, orderID)
	return err
}

// MarkCollected records a successful collection. Legal only from awaiting.
func (q COD) MarkCollected(ctx context.Context, orderID pgtype.UUID, collectedBy string, amount int64, receiptRef pgtype.Text) (bool, error) {
	tag, err := q.DB.Exec(ctx, `
		UPDATE cod_tracking
		SET state = 'collected', collected_by = $2, collected_amount = $3,
		    receipt_ref = $4, updated_at = now()
		WHERE order_id = $1 AND state = 'awaiting'`,
		orderID, collectedBy, amount, receiptRef)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed records a failed collection attempt. Legal only from awaiting.
func (q COD) MarkFailed(ctx context.Context, orderID pgtype.UUID, reason CODFailureReason, notes pgtype.Text) (bool, error) {
	tag, err := q.DB.Exec(ctx, `
		UPDATE cod_tracking
		SET state = 'failed', failure_reason = $2, notes = $3, updated_at = now()
		WHERE order_id = $1 AND state = 'awaiting'`,
		orderID, reason, notes)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkReturned closes the ledger after the parcel came back. Legal from
// collected or failed.
func (q COD) MarkReturned(ctx context.Context, orderID pgtype.UUID) (bool, error) {
	tag, err := q.DB.Exec(ctx, `
		UPDATE cod_tracking
		SET state = 'returned', updated_at = now()
		WHERE order_id = $1 AND state IN ('collected', 'failed')`, orderID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
