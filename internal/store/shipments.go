package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Shipments persists shipment rows.
type Shipments struct {
	DB DBTX
}

const shipmentColumns = `id, order_id, provider_id, provider_type, tracking_ref, status, last_checked, created_at, updated_at`

func scanShipment(row pgx.Row) (Shipment, error) {
	var s Shipment
	err := row.Scan(&s.ID, &s.OrderID, &s.ProviderID, &s.ProviderType, &s.TrackingRef,
		&s.Status, &s.LastChecked, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// CreateShipmentParams captures the columns required to insert a shipment.
type CreateShipmentParams struct {
	OrderID      pgtype.UUID
	ProviderID   string
	ProviderType string
	TrackingRef  pgtype.Text
	Status       ShipmentStatus
}

// Create inserts a new shipment row and returns it.
func (q Shipments) Create(ctx context.Context, arg CreateShipmentParams) (Shipment, error) {
	row := q.DB.QueryRow(ctx, `
		INSERT INTO shipments (order_id, provider_id, provider_type, tracking_ref, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+shipmentColumns,
		arg.OrderID, arg.ProviderID, arg.ProviderType, arg.TrackingRef, arg.Status)
	return scanShipment(row)
}

// GetByID returns a shipment by primary key.
func (q Shipments) GetByID(ctx context.Context, id pgtype.UUID) (Shipment, error) {
	row := q.DB.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = $1`, id)
	return scanShipment(row)
}

// ListByOrder returns every shipment for the order, newest first.
func (q Shipments) ListByOrder(ctx context.Context, orderID pgtype.UUID) ([]Shipment, error) {
	rows, err := q.DB.Query(ctx, `
		SELECT `+shipmentColumns+` FROM shipments
		WHERE order_id = $1
		ORDER BY created_at DESC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// LatestByOrder returns the most recently created shipment for the order.
func (q Shipments) LatestByOrder(ctx context.Context, orderID pgtype.UUID) (Shipment, error) {
	row := q.DB.QueryRow(ctx, `
		SELECT `+shipmentColumns+` FROM shipments
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, orderID)
	return scanShipment(row)
}

// HasActiveForProvider reports whether a non-terminal shipment already exists
// for the order/provider pair.
func (q Shipments) HasActiveForProvider(ctx context.Context, orderID pgtype.UUID, providerID string) (bool, error) {
	var exists bool
	err := q.DB.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM shipments
			WHERE order_id = $1 AND provider_id = $2
			  AND status NOT IN ('delivered', 'failed', 'cancelled', 'returned')
		)`, orderID, providerID).Scan(&exists)
	return exists, err
}

// HasActive reports whether any non-terminal shipment exists for the order.
func (q Shipments) HasActive(ctx context.Context, orderID pgtype.UUID) (bool, error) {
	var exists bool
	err := q.DB.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM shipments
			WHERE order_id = $1
			  AND status NOT IN ('delivered', 'failed', 'cancelled', 'returned')
		)`, orderID).Scan(&exists)
	return exists, err
}

// GetByTrackingRef returns the newest shipment carrying the provider-assigned
// reference. Couriers key their callbacks on this, not on our ids.
func (q Shipments) GetByTrackingRef(ctx context.Context, ref string) (Shipment, error) {
	row := q.DB.QueryRow(ctx, `
		SELECT `+shipmentColumns+` FROM shipments
		WHERE tracking_ref = $1
		ORDER BY created_at DESC
		LIMIT 1`, ref)
	return scanShipment(row)
}

// TouchLastChecked stamps the shipment with the time of the latest status probe.
func (q Shipments) TouchLastChecked(ctx context.Context, id pgtype.UUID) error {
	_, err := q.DB.Exec(ctx, `
		UPDATE shipments SET last_checked = now(), updated_at = now() WHERE id = $1`, id)
	return err
}

// SetStatusIf performs a compare-and-swap status write. It returns false when
// the stored status no longer matches expected, which signals a lost race.
func (q Shipments) SetStatusIf(ctx context.Context, id pgtype.UUID, expected, next ShipmentStatus) (bool, error) {
	tag, err := q.DB.Exec(ctx, `
		UPDATE shipments SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`, id, expected, next)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetTrackingRef records the provider-assigned reference once the courier confirms it.
func (q Shipments) SetTrackingRef(ctx context.Context, id pgtype.UUID, ref string) error {
	_, err := q.DB.Exec(ctx, `
		UPDATE shipments SET tracking_ref = $2, updated_at = now() WHERE id = $1`, id, ref)
	return err
}

// ListActiveStale returns non-terminal shipments whose last probe is older than
// the cutoff. Used by the sweep worker to fan out status checks.
func (q Shipments) ListActiveStale(ctx context.Context, olderThan time.Time, limit int32) ([]Shipment, error) {
	rows, err := q.DB.Query(ctx, `
		SELECT `+shipmentColumns+` FROM shipments
		WHERE status NOT IN ('delivered', 'failed', 'cancelled', 'returned')
		  AND (last_checked IS NULL OR last_checked < $1)
		ORDER BY last_checked ASC NULLS FIRST
		LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}
