package cod

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/orderdesk/backend-fulfillment/internal/events"
	"github.com/orderdesk/backend-fulfillment/internal/store"
)

var (
	// ErrInvalidState is returned when the requested event is not legal from
	// the row's current state. The row is left untouched.
	ErrInvalidState = errors.New("action is not valid for the order's current COD state")
	// ErrOrderNotFound is returned when no COD ledger row exists for the order.
	ErrOrderNotFound = errors.New("no COD tracking for order")
	// ErrInvalidReason is returned when the failure reason is outside the
	// enumerated set.
	ErrInvalidReason = errors.New("unknown COD failure reason")
)

type codQueries interface {
	Get(ctx context.Context, orderID pgtype.UUID) (store.CODTracking, error)
	MarkCollected(ctx context.Context, orderID pgtype.UUID, collectedBy string, amount int64, receiptRef pgtype.Text) (bool, error)
	MarkFailed(ctx context.Context, orderID pgtype.UUID, reason store.CODFailureReason, notes pgtype.Text) (bool, error)
	MarkReturned(ctx context.Context, orderID pgtype.UUID) (bool, error)
}

// Ledger is the cash-on-delivery state machine: awaiting -> {collected|failed}
// -> returned. It knows nothing about order status; that coupling is an
// explicit two-step at the handler boundary.
type Ledger struct {
	Q      codQueries
	Events *events.Bus
	Logger zerolog.Logger
}

// Get returns the ledger row for the order.
func (l *Ledger) Get(ctx context.Context, orderID pgtype.UUID) (store.CODTracking, error) {
	row, err := l.Q.Get(ctx, orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.CODTracking{}, ErrOrderNotFound
	}
	return row, err
}

// RecordCollection marks the order's COD as collected. Legal only from
// awaiting; a second collection fails instead of overwriting the first.
func (l *Ledger) RecordCollection(ctx context.Context, orderID pgtype.UUID, collectedBy string, amount int64, receiptRef string) error {
	ctx, span := otel.Tracer("cod.Ledger").Start(ctx, "CODLedger.RecordCollection")
	defer span.End()
	span.SetAttributes(attribute.String("cod.collected_by", collectedBy))

	if collectedBy == "" {
		return fmt.Errorf("%w: collector identity is required", ErrInvalidState)
	}
	ok, err := l.Q.MarkCollected(ctx, orderID, collectedBy, amount, optionalText(receiptRef))
	if err != nil {
		return fmt.Errorf("persist collection: %w", err)
	}
	if !ok {
		return l.classifyMiss(ctx, orderID)
	}
	l.emit(ctx, events.TopicCODCollected, orderID, map[string]any{
		"collectedBy": collectedBy,
		"amount":      amount,
	})
	return nil
}

// RecordFailure marks a failed collection attempt. Legal only from awaiting.
func (l *Ledger) RecordFailure(ctx context.Context, orderID pgtype.UUID, reason store.CODFailureReason, notes string) error {
	ctx, span := otel.Tracer("cod.Ledger").Start(ctx, "CODLedger.RecordFailure")
	defer span.End()
	span.SetAttributes(attribute.String("cod.reason", string(reason)))

	if !reason.Valid() {
		return ErrInvalidReason
	}
	ok, err := l.Q.MarkFailed(ctx, orderID, reason, optionalText(notes))
	if err != nil {
		return fmt.Errorf("persist failure: %w", err)
	}
	if !ok {
		return l.classifyMiss(ctx, orderID)
	}
	l.emit(ctx, events.TopicCODFailed, orderID, map[string]any{"reason": reason})
	return nil
}

// MarkReturned closes the ledger after the parcel went back to the seller.
// Legal from collected or failed.
func (l *Ledger) MarkReturned(ctx context.Context, orderID pgtype.UUID) error {
	ctx, span := otel.Tracer("cod.Ledger").Start(ctx, "CODLedger.MarkReturned")
	defer span.End()

	ok, err := l.Q.MarkReturned(ctx, orderID)
	if err != nil {
		return fmt.Errorf("persist return: %w", err)
	}
	if !ok {
		return l.classifyMiss(ctx, orderID)
	}
	l.emit(ctx, events.TopicCODReturned, orderID, nil)
	return nil
}

// classifyMiss distinguishes a missing row from an illegal transition after a
// compare-and-swap update touched no rows.
func (l *Ledger) classifyMiss(ctx context.Context, orderID pgtype.UUID) error {
	if _, err := l.Q.Get(ctx, orderID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("load cod tracking: %w", err)
	}
	return ErrInvalidState
}

func (l *Ledger) emit(ctx context.Context, topic string, orderID pgtype.UUID, payload map[string]any) {
	if l.Events == nil {
		return
	}
	if _, err := l.Events.Emit(ctx, topic, orderID, payload); err != nil {
		l.Logger.Error().Err(err).Str("topic", topic).Msg("emit cod event")
	}
}

func optionalText(value string) pgtype.Text {
	if value == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: value, Valid: true}
}
