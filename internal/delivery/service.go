package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/orderdesk/backend-fulfillment/internal/courier"
	"github.com/orderdesk/backend-fulfillment/internal/obs"
	"github.com/orderdesk/backend-fulfillment/internal/store"
)

var (
	// ErrOrderNotFound is returned when the referenced order does not exist.
	ErrOrderNotFound = errors.New("order not found")
	// ErrShipmentNotFound is returned when the referenced shipment does not exist.
	ErrShipmentNotFound = errors.New("shipment not found")
	// ErrDuplicateActiveShipment is returned when the order already has a
	// non-terminal shipment that the configured policy forbids duplicating.
	ErrDuplicateActiveShipment = errors.New("order already has an active shipment")
	// ErrNoTrackingRef is returned when a status check is requested before the
	// courier assigned a tracking reference.
	ErrNoTrackingRef = errors.New("shipment has no tracking reference yet")
)

type shipmentQueries interface {
	Create(ctx context.Context, arg store.CreateShipmentParams) (store.Shipment, error)
	GetByID(ctx context.Context, id pgtype.UUID) (store.Shipment, error)
	GetByTrackingRef(ctx context.Context, ref string) (store.Shipment, error)
	ListByOrder(ctx context.Context, orderID pgtype.UUID) ([]store.Shipment, error)
	LatestByOrder(ctx context.Context, orderID pgtype.UUID) (store.Shipment, error)
	HasActive(ctx context.Context, orderID pgtype.UUID) (bool, error)
	HasActiveForProvider(ctx context.Context, orderID pgtype.UUID, providerID string) (bool, error)
	TouchLastChecked(ctx context.Context, id pgtype.UUID) error
}

type orderQueries interface {
	Get(ctx context.Context, id pgtype.UUID) (store.Order, error)
}

type adapterResolver interface {
	Resolve(providerID string) (courier.Adapter, error)
	Provider(providerID string) (store.Provider, bool)
}

type codLedger interface {
	OpenIfAbsent(ctx context.Context, orderID pgtype.UUID) error
}

// Service creates shipments and drives status checks through the configured
// courier adapters. It owns no state beyond what it reads and writes per call.
type Service struct {
	Shipments shipmentQueries
	Orders    orderQueries
	Registry  adapterResolver
	// COD, when set, opens the cash-on-delivery ledger row for COD shipments.
	COD codLedger
	// AllowMultiProvider permits concurrent active shipments with different
	// providers for one order. Duplicate actives with the SAME provider are
	// always rejected.
	AllowMultiProvider bool
}

// CreateOptions carries the caller-supplied shipment parameters.
type CreateOptions struct {
	Destination string
	WeightGram  int
	Notes       string
	COD         bool
	CODAmount   int64
	// AttemptID distinguishes deliberate retries in the idempotency key. When
	// empty a fresh one is generated, giving at-most-one-attempt semantics.
	AttemptID string
}

// CreateShipment books a delivery with the provider and persists the resulting
// shipment row. Nothing is persisted when the courier call fails; retries are
// the caller's responsibility.
func (s *Service) CreateShipment(ctx context.Context, orderID pgtype.UUID, providerID string, opts CreateOptions) (store.Shipment, error) {
	ctx, span := otel.Tracer("delivery.Service").Start(ctx, "DeliveryService.CreateShipment")
	defer span.End()
	span.SetAttributes(attribute.String("shipping.provider", providerID))

	result := "error"
	defer func() {
		if obs.ShipmentCreateTotal != nil {
			obs.ShipmentCreateTotal.WithLabelValues(providerID, result).Inc()
		}
	}()

	order, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Shipment{}, ErrOrderNotFound
		}
		return store.Shipment{}, fmt.Errorf("load order: %w", err)
	}
	adapter, err := s.Registry.Resolve(providerID)
	if err != nil {
		return store.Shipment{}, err
	}
	if err := s.checkDuplicateActive(ctx, orderID, providerID); err != nil {
		return store.Shipment{}, err
	}

	attempt := opts.AttemptID
	if attempt == "" {
		attempt = uuid.NewString()
	}
	req := courier.ShipmentRequest{
		OrderID:        uuidString(orderID),
		IdempotencyKey: fmt.Sprintf("%s:%s:%s", uuidString(orderID), providerID, attempt),
		Destination:    opts.Destination,
		WeightGram:     opts.WeightGram,
		Notes:          opts.Notes,
		COD:            opts.COD,
		CODAmount:      opts.CODAmount,
	}
	if req.COD && order.PaymentMethod != "cod" {
		req.COD = false
		req.CODAmount = 0
	}
	handle, err := adapter.CreateShipment(ctx, req)
	if err != nil {
		span.RecordError(err)
		return store.Shipment{}, fmt.Errorf("provider %s: %w", providerID, err)
	}

	status := store.ShipmentStatusPending
	if handle.RawStatus != "" {
		if mapped := adapter.MapStatus(courier.RawStatus{Code: handle.RawStatus}); mapped != store.ShipmentStatusUnknown {
			status = mapped
		}
	}
	provider, _ := s.Registry.Provider(providerID)
	shipment, err := s.Shipments.Create(ctx, store.CreateShipmentParams{
		OrderID:      orderID,
		ProviderID:   providerID,
		ProviderType: provider.AdapterType,
		TrackingRef:  optionalText(handle.TrackingRef),
		Status:       status,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Lost a concurrent-create race against the partial unique index.
			return store.Shipment{}, ErrDuplicateActiveShipment
		}
		return store.Shipment{}, fmt.Errorf("persist shipment: %w", err)
	}
	if req.COD && s.COD != nil {
		if err := s.COD.OpenIfAbsent(ctx, orderID); err != nil {
			return shipment, fmt.Errorf("open cod ledger: %w", err)
		}
	}
	result = "success"
	span.SetAttributes(attribute.String("shipping.tracking_ref", handle.TrackingRef))
	return shipment, nil
}

func (s *Service) checkDuplicateActive(ctx context.Context, orderID pgtype.UUID, providerID string) error {
	var (
		active bool
		err    error
	)
	if s.AllowMultiProvider {
		active, err = s.Shipments.HasActiveForProvider(ctx, orderID, providerID)
	} else {
		active, err = s.Shipments.HasActive(ctx, orderID)
	}
	if err != nil {
		return fmt.Errorf("check active shipments: %w", err)
	}
	if active {
		return ErrDuplicateActiveShipment
	}
	return nil
}

// GetShipments returns all shipments for the order, newest first.
func (s *Service) GetShipments(ctx context.Context, orderID pgtype.UUID) ([]store.Shipment, error) {
	return s.Shipments.ListByOrder(ctx, orderID)
}

// GetLatestShipment returns the most recent shipment for the order, or
// ErrShipmentNotFound when none exists.
func (s *Service) GetLatestShipment(ctx context.Context, orderID pgtype.UUID) (store.Shipment, error) {
	shipment, err := s.Shipments.LatestByOrder(ctx, orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Shipment{}, ErrShipmentNotFound
	}
	return shipment, err
}

// CheckResult is what a status probe observed at the courier.
type CheckResult struct {
	Shipment store.Shipment
	Previous store.ShipmentStatus
	Status   store.ShipmentStatus
	Raw      courier.RawStatus
}

// CheckShipmentStatus asks the courier for the current status and returns the
// canonical mapping. It deliberately performs none of the reconciliation side
// effects so that observing a change and acting on it stay independently
// retryable.
func (s *Service) CheckShipmentStatus(ctx context.Context, shipmentID pgtype.UUID) (CheckResult, error) {
	ctx, span := otel.Tracer("delivery.Service").Start(ctx, "DeliveryService.CheckShipmentStatus")
	defer span.End()

	shipment, err := s.Shipments.GetByID(ctx, shipmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CheckResult{}, ErrShipmentNotFound
		}
		return CheckResult{}, fmt.Errorf("load shipment: %w", err)
	}
	result := "error"
	defer func() {
		if obs.ShipmentCheckTotal != nil {
			obs.ShipmentCheckTotal.WithLabelValues(shipment.ProviderID, result).Inc()
		}
	}()
	adapter, err := s.Registry.Resolve(shipment.ProviderID)
	if err != nil {
		return CheckResult{}, err
	}
	if !shipment.TrackingRef.Valid || shipment.TrackingRef.String == "" {
		return CheckResult{}, ErrNoTrackingRef
	}
	raw, err := adapter.FetchStatus(ctx, shipment.TrackingRef.String)
	if err != nil {
		span.RecordError(err)
		return CheckResult{}, fmt.Errorf("provider %s: %w", shipment.ProviderID, err)
	}
	if err := s.Shipments.TouchLastChecked(ctx, shipment.ID); err != nil {
		return CheckResult{}, fmt.Errorf("stamp last checked: %w", err)
	}
	result = "success"
	mapped := adapter.MapStatus(raw)
	span.SetAttributes(
		attribute.String("shipping.raw_status", raw.Code),
		attribute.String("shipping.status", string(mapped)),
	)
	return CheckResult{Shipment: shipment, Previous: shipment.Status, Status: mapped, Raw: raw}, nil
}

func optionalText(value string) pgtype.Text {
	if value == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: value, Valid: true}
}
