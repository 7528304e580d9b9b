package courier

import (
	"context"
	"fmt"
	"time"

	"github.com/orderdesk/backend-fulfillment/internal/store"
)

// ShipmentRequest carries the order details an adapter needs to book a delivery.
type ShipmentRequest struct {
	OrderID string
	// IdempotencyKey is forwarded to couriers that support request
	// deduplication. Adapters that cannot use it run with at-most-one-attempt
	// semantics and the caller owns retry policy.
	IdempotencyKey string
	Destination    string
	WeightGram     int
	Notes          string
	COD            bool
	CODAmount      int64
}

// ShipmentHandle is what a courier hands back after accepting a booking.
type ShipmentHandle struct {
	TrackingRef string
	RawStatus   string
}

// RawStatus is a courier's own status vocabulary before canonical mapping.
type RawStatus struct {
	Code        string
	Description string
	OccurredAt  time.Time
}

// Adapter translates the uniform shipment contract into one courier's API.
// Implementations are stateless besides credentials.
type Adapter interface {
	// CreateShipment books a delivery with the courier.
	CreateShipment(ctx context.Context, req ShipmentRequest) (ShipmentHandle, error)
	// FetchStatus is a pure read of the courier's current tracking state.
	FetchStatus(ctx context.Context, trackingRef string) (RawStatus, error)
	// MapStatus converts the courier vocabulary into the canonical enum. It is
	// total: codes without a mapping come back as ShipmentStatusUnknown.
	MapStatus(raw RawStatus) store.ShipmentStatus
}

// ErrorKind classifies provider failures so callers can branch on them.
type ErrorKind string

const (
	ErrAuth           ErrorKind = "auth"
	ErrUnavailable    ErrorKind = "unavailable"
	ErrNotFound       ErrorKind = "not_found"
	ErrInvalidRequest ErrorKind = "invalid_request"
	ErrUnknown        ErrorKind = "unknown"
)

// ProviderError is the only error type adapters surface across the contract
// boundary. Network faults, timeouts and HTTP-level failures are all wrapped.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Message  string
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return fmt.Sprintf("courier %s: %s: %s", e.Provider, e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("courier %s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("courier %s: %s", e.Provider, e.Kind)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(provider string, kind ErrorKind, message string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Message: message, Err: err}
}
