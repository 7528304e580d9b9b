package store

import "github.com/jackc/pgx/v5/pgtype"

// ShipmentStatus is the canonical status vocabulary every courier adapter maps into.
type ShipmentStatus string

const (
	ShipmentStatusPending   ShipmentStatus = "pending"
	ShipmentStatusPickedUp  ShipmentStatus = "picked_up"
	ShipmentStatusInTransit ShipmentStatus = "in_transit"
	ShipmentStatusDelivered ShipmentStatus = "delivered"
	ShipmentStatusFailed    ShipmentStatus = "failed"
	ShipmentStatusCancelled ShipmentStatus = "cancelled"
	ShipmentStatusReturned  ShipmentStatus = "returned"
	// ShipmentStatusUnknown is a transient value used when a courier reports a
	// code no adapter mapping covers.
	ShipmentStatusUnknown ShipmentStatus = "unknown"
)

// Terminal reports whether no further automatic transition is expected for the status.
func (s ShipmentStatus) Terminal() bool {
	switch s {
	case ShipmentStatusDelivered, ShipmentStatusFailed, ShipmentStatusCancelled, ShipmentStatusReturned:
		return true
	}
	return false
}

// Valid reports whether the value belongs to the canonical enum.
func (s ShipmentStatus) Valid() bool {
	switch s {
	case ShipmentStatusPending, ShipmentStatusPickedUp, ShipmentStatusInTransit,
		ShipmentStatusDelivered, ShipmentStatusFailed, ShipmentStatusCancelled,
		ShipmentStatusReturned, ShipmentStatusUnknown:
		return true
	}
	return false
}

// OrderStatus is the subset of the order state machine this core reads and writes.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusReturned   OrderStatus = "returned"
)

// Terminal reports whether the order status forbids automatic transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturned:
		return true
	}
	return false
}

// CODState enumerates the cash-on-delivery collection lifecycle.
type CODState string

const (
	CODStateAwaiting  CODState = "awaiting"
	CODStateCollected CODState = "collected"
	CODStateFailed    CODState = "failed"
	CODStateReturned  CODState = "returned"
)

// CODFailureReason enumerates why a courier failed to collect payment.
type CODFailureReason string

const (
	CODFailureNotHome      CODFailureReason = "not_home"
	CODFailureRefused      CODFailureReason = "refused"
	CODFailureNoCash       CODFailureReason = "no_cash"
	CODFailureWrongAddress CODFailureReason = "wrong_address"
	CODFailureOther        CODFailureReason = "other"
)

// Valid reports whether the reason belongs to the enumerated set.
func (r CODFailureReason) Valid() bool {
	switch r {
	case CODFailureNotHome, CODFailureRefused, CODFailureNoCash, CODFailureWrongAddress, CODFailureOther:
		return true
	}
	return false
}

// Shipment is one courier-side delivery attempt for an order. Rows are never
// deleted; a retry after failure creates a new row.
type Shipment struct {
	ID           pgtype.UUID
	OrderID      pgtype.UUID
	ProviderID   string
	ProviderType string
	TrackingRef  pgtype.Text
	Status       ShipmentStatus
	LastChecked  pgtype.Timestamptz
	CreatedAt    pgtype.Timestamptz
	UpdatedAt    pgtype.Timestamptz
}

// Order is the slice of the order record this core consumes.
type Order struct {
	ID            pgtype.UUID
	Status        OrderStatus
	PaymentMethod string
	CustomerEmail string
}

// CODTracking is the per-order cash-on-delivery ledger row.
type CODTracking struct {
	OrderID         pgtype.UUID
	State           CODState
	CollectedBy     pgtype.Text
	CollectedAmount pgtype.Int8
	ReceiptRef      pgtype.Text
	FailureReason   pgtype.Text
	Notes           pgtype.Text
	CreatedAt       pgtype.Timestamptz
	UpdatedAt       pgtype.Timestamptz
}

// Provider is a configured courier integration as stored in settings.
type Provider struct {
	ID          string
	Name        string
	AdapterType string
	Credentials []byte
	Active      bool
}

// DomainEvent is a persisted fan-out record for downstream notifiers.
type DomainEvent struct {
	ID          pgtype.UUID
	Topic       string
	AggregateID pgtype.UUID
	Payload     []byte
	OccurredAt  pgtype.Timestamptz
}
