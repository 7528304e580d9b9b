package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// Events persists domain events for downstream fan-out.
type Events struct {
	DB DBTX
}

// InsertDomainEventParams captures the columns required to record an event.
type InsertDomainEventParams struct {
	Topic       string
	AggregateID pgtype.UUID
	Payload     []byte
}

// Insert records a domain event and returns the stored row.
func (q Events) Insert(ctx context.Context, arg InsertDomainEventParams) (DomainEvent, error) {
	var ev DomainEvent
	err := q.DB.QueryRow(ctx, `
		INSERT INTO domain_events (topic, aggregate_id, payload)
		VALUES ($1, $2, $3)
		RETURNING id, topic, aggregate_id, payload, occurred_at`,
		arg.Topic, arg.AggregateID, arg.Payload).
		Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt)
	return ev, err
}
