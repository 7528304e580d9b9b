package delivery

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/orderdesk/backend-fulfillment/internal/common"
	"github.com/orderdesk/backend-fulfillment/internal/events"
	"github.com/orderdesk/backend-fulfillment/internal/obs"
	"github.com/orderdesk/backend-fulfillment/internal/store"
)

// Outcome describes what a reconciliation attempt did.
type Outcome string

const (
	// OutcomeUnchanged means no transition was applied: the statuses matched,
	// or a concurrent reconciler already applied the same transition.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeApplied means this call persisted the transition and owns its
	// side effects.
	OutcomeApplied Outcome = "applied"
)

type reconcilerShipmentQueries interface {
	SetStatusIf(ctx context.Context, id pgtype.UUID, expected, next store.ShipmentStatus) (bool, error)
}

type reconcilerOrderQueries interface {
	Get(ctx context.Context, id pgtype.UUID) (store.Order, error)
	GetStatus(ctx context.Context, id pgtype.UUID) (store.OrderStatus, error)
	SetStatusIf(ctx context.Context, id pgtype.UUID, expected, next store.OrderStatus) (bool, error)
}

// StatusChangeEvent is handed to the notification collaborator after an
// applied transition. It is not persisted beyond the domain event record.
type StatusChangeEvent struct {
	ShipmentID string               `json:"shipmentId"`
	OrderID    string               `json:"orderId"`
	Previous   store.ShipmentStatus `json:"previous"`
	New        store.ShipmentStatus `json:"new"`
}

// Reconciler applies an observed courier status against the stored shipment
// state exactly once, then synchronises the order status and notifies.
type Reconciler struct {
	Shipments reconcilerShipmentQueries
	Orders    reconcilerOrderQueries
	Events    *events.Bus
	Mail      common.EmailSender
	Logger    zerolog.Logger

	NotifyOnDelivered bool
	NotifyOnReturned  bool
}

// Reconcile compares the previously observed status with the new one. Equal
// statuses are an idempotent no-op. A change is written with a compare-and-swap
// against the stored status: the loser of a concurrent race observes a CAS miss
// and reports unchanged, so the order transition and the notification fire
// exactly once per transition.
func (r *Reconciler) Reconcile(ctx context.Context, shipmentID, orderID pgtype.UUID, previous, next store.ShipmentStatus) (Outcome, error) {
	ctx, span := otel.Tracer("delivery.Reconciler").Start(ctx, "Reconciler.Reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("shipping.previous", string(previous)),
		attribute.String("shipping.next", string(next)),
	)

	outcome := OutcomeUnchanged
	defer func() {
		if obs.ReconcileTotal != nil {
			obs.ReconcileTotal.WithLabelValues(string(outcome)).Inc()
		}
	}()

	if previous == next {
		return OutcomeUnchanged, nil
	}
	applied, err := r.Shipments.SetStatusIf(ctx, shipmentID, previous, next)
	if err != nil {
		return OutcomeUnchanged, fmt.Errorf("persist shipment status: %w", err)
	}
	if !applied {
		// Someone else already moved the shipment past `previous`.
		return OutcomeUnchanged, nil
	}
	outcome = OutcomeApplied

	if err := r.syncOrderStatus(ctx, orderID, next); err != nil {
		return OutcomeApplied, err
	}
	r.emit(ctx, shipmentID, orderID, previous, next)
	r.notify(ctx, orderID, next)
	return OutcomeApplied, nil
}

func shipmentToOrderStatus(status store.ShipmentStatus) (store.OrderStatus, bool) {
	switch status {
	case store.ShipmentStatusDelivered:
		return store.OrderStatusDelivered, true
	case store.ShipmentStatusReturned:
		return store.OrderStatusReturned, true
	}
	// failed and cancelled stay on the order for manual review.
	return "", false
}

func (r *Reconciler) syncOrderStatus(ctx context.Context, orderID pgtype.UUID, status store.ShipmentStatus) error {
	target, ok := shipmentToOrderStatus(status)
	if !ok {
		return nil
	}
	current, err := r.Orders.GetStatus(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order status: %w", err)
	}
	if current == target || current.Terminal() {
		// Never move an order out of a terminal state automatically; a late
		// delivered report must not resurrect a cancelled order.
		return nil
	}
	applied, err := r.Orders.SetStatusIf(ctx, orderID, current, target)
	if err != nil {
		return fmt.Errorf("persist order status: %w", err)
	}
	if !applied {
		r.Logger.Info().
			Str("order_id", uuidString(orderID)).
			Str("target", string(target)).
			Msg("order status moved concurrently, transition skipped")
	}
	return nil
}

func (r *Reconciler) emit(ctx context.Context, shipmentID, orderID pgtype.UUID, previous, next store.ShipmentStatus) {
	if r.Events == nil {
		return
	}
	event := StatusChangeEvent{
		ShipmentID: uuidString(shipmentID),
		OrderID:    uuidString(orderID),
		Previous:   previous,
		New:        next,
	}
	topics := []string{events.TopicShipmentStatusChanged}
	switch next {
	case store.ShipmentStatusDelivered:
		topics = append(topics, events.TopicShipmentDelivered)
	case store.ShipmentStatusReturned:
		topics = append(topics, events.TopicShipmentReturned)
	}
	for _, topic := range topics {
		if _, err := r.Events.Emit(ctx, topic, shipmentID, event); err != nil {
			// Notification is best effort; status truth is already persisted.
			r.Logger.Error().Err(err).Str("topic", topic).Msg("emit status change event")
		}
	}
}

func (r *Reconciler) notify(ctx context.Context, orderID pgtype.UUID, status store.ShipmentStatus) {
	if r.Mail == nil {
		return
	}
	switch status {
	case store.ShipmentStatusDelivered:
		if !r.NotifyOnDelivered {
			return
		}
	case store.ShipmentStatusReturned:
		if !r.NotifyOnReturned {
			return
		}
	default:
		return
	}
	order, err := r.Orders.Get(ctx, orderID)
	if err != nil || order.CustomerEmail == "" {
		return
	}
	subject, body := notificationContent(status)
	if err := r.Mail.Send(order.CustomerEmail, subject, body); err != nil {
		r.Logger.Error().Err(err).Str("order_id", uuidString(orderID)).Msg("send status email")
	}
}

func notificationContent(status store.ShipmentStatus) (string, string) {
	switch status {
	case store.ShipmentStatusDelivered:
		return "Pesanan diterima", "Pesanan Anda telah diterima."
	case store.ShipmentStatusReturned:
		return "Pesanan dikembalikan", "Pesanan Anda dikembalikan ke penjual."
	default:
		return "", ""
	}
}
