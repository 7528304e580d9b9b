package notify

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/orderdesk/backend-fulfillment/internal/common"
	"github.com/orderdesk/backend-fulfillment/internal/events"
	"github.com/orderdesk/backend-fulfillment/internal/store"
)

func TestEmailNotifierSendsForDeliveredShipment(t *testing.T) {
	mail := &common.InMemoryEmail{}
	notifier := EmailNotifier{Mail: mail, Enabled: true}

	event := store.DomainEvent{
		Topic:      events.TopicShipmentDelivered,
		Payload:    []byte(`{"customerEmail":"buyer@example.com","orderId":"ord-1","new":"delivered"}`),
		OccurredAt: pgtype.Timestamptz{Time: time.Now(), Valid: true},
	}
	require.NoError(t, notifier.Notify(context.Background(), event))
	require.Len(t, mail.Outbox, 1)
	require.Equal(t, "buyer@example.com", mail.Outbox[0].To)
	require.Equal(t, "Pesanan telah diterima", mail.Outbox[0].Subject)
	require.Contains(t, mail.Outbox[0].HTML, "ord-1")
}

func TestEmailNotifierSkipsWithoutRecipient(t *testing.T) {
	mail := &common.InMemoryEmail{}
	notifier := EmailNotifier{Mail: mail, Enabled: true}

	event := store.DomainEvent{
		Topic:   events.TopicShipmentStatusChanged,
		Payload: []byte(`{"orderId":"ord-2"}`),
	}
	require.NoError(t, notifier.Notify(context.Background(), event))
	require.Empty(t, mail.Outbox)
}

func TestEmailNotifierHonoursTopicToggle(t *testing.T) {
	mail := &common.InMemoryEmail{}
	notifier := EmailNotifier{
		Mail:         mail,
		Enabled:      true,
		TopicToggles: map[string]bool{events.TopicCODFailed: false},
	}

	event := store.DomainEvent{
		Topic:   events.TopicCODFailed,
		Payload: []byte(`{"customerEmail":"buyer@example.com"}`),
	}
	require.NoError(t, notifier.Notify(context.Background(), event))
	require.Empty(t, mail.Outbox)
}
