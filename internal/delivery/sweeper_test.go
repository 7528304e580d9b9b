package delivery_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/orderdesk/backend-fulfillment/internal/courier"
	"github.com/orderdesk/backend-fulfillment/internal/delivery"
	"github.com/orderdesk/backend-fulfillment/internal/events"
	"github.com/orderdesk/backend-fulfillment/internal/lock"
	"github.com/orderdesk/backend-fulfillment/internal/queue"
	"github.com/orderdesk/backend-fulfillment/internal/store"
)

type recordingEnqueuer struct {
	mu    sync.Mutex
	tasks []queue.Task
	err   error
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, t queue.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.tasks = append(r.tasks, t)
	return nil
}

func TestSweeperSchedulesOnlyStaleActiveShipments(t *testing.T) {
	t.Parallel()

	now := time.Now()
	staleID := toPGUUID(uuid.New())

	shipments := newMockShipments()
	shipments.add(store.Shipment{
		ID:          staleID,
		OrderID:     toPGUUID(uuid.New()),
		ProviderID:  "mock",
		Status:      store.ShipmentStatusInTransit,
		LastChecked: pgtype.Timestamptz{Time: now.Add(-2 * time.Hour), Valid: true},
	})
	// Checked recently, skipped.
	shipments.add(store.Shipment{
		ID:          toPGUUID(uuid.New()),
		OrderID:     toPGUUID(uuid.New()),
		ProviderID:  "mock",
		Status:      store.ShipmentStatusInTransit,
		LastChecked: pgtype.Timestamptz{Time: now, Valid: true},
	})
	// Terminal, skipped.
	shipments.add(store.Shipment{
		ID:          toPGUUID(uuid.New()),
		OrderID:     toPGUUID(uuid.New()),
		ProviderID:  "mock",
		Status:      store.ShipmentStatusDelivered,
		LastChecked: pgtype.Timestamptz{Time: now.Add(-2 * time.Hour), Valid: true},
	})

	enqueuer := &recordingEnqueuer{}
	sweeper := delivery.Sweeper{
		Shipments: shipments,
		Queue:     enqueuer,
		StaleFor:  30 * time.Minute,
		BatchSize: 10,
		Logger:    zerolog.Nop(),
	}

	scheduled, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, scheduled)
	require.Len(t, enqueuer.tasks, 1)

	task := enqueuer.tasks[0]
	require.Equal(t, delivery.CheckTaskKind, task.Kind)
	require.Equal(t, uuid.UUID(staleID.Bytes).String(), task.IdempotencyKey)

	var job struct {
		ShipmentID string `json:"shipmentId"`
	}
	require.NoError(t, json.Unmarshal(task.Payload, &job))
	require.Equal(t, task.IdempotencyKey, job.ShipmentID)
}

func TestCheckerHandleAppliesStatusChange(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	orderID := toPGUUID(uuid.New())
	shipmentID := toPGUUID(uuid.New())

	shipments := newMockShipments()
	shipments.add(store.Shipment{
		ID:          shipmentID,
		OrderID:     orderID,
		ProviderID:  "mock",
		TrackingRef: pgText("TRK-7"),
		Status:      store.ShipmentStatusPending,
	})
	orders := newMockOrders()
	orders.add(store.Order{ID: orderID, Status: store.OrderStatusShipped})
	eventStore := &mockEventStore{}

	adapter := &courier.Mock{Provider: "mock"}
	adapter.SetStatus("TRK-7", "in_transit")
	registry := newTestRegistry(adapter)
	svc := &delivery.Service{Shipments: shipments, Orders: orders, Registry: registry}
	rec := &delivery.Reconciler{
		Shipments: shipments,
		Orders:    orders,
		Events:    &events.Bus{Store: eventStore},
		Logger:    zerolog.Nop(),
	}
	checker := delivery.Checker{
		Svc:     svc,
		Rec:     rec,
		Locker:  lock.Locker{R: client},
		LockTTL: time.Second,
		Logger:  zerolog.Nop(),
	}

	payload, err := json.Marshal(map[string]string{"shipmentId": uuid.UUID(shipmentID.Bytes).String()})
	require.NoError(t, err)
	require.NoError(t, checker.Handle(context.Background(), payload))

	require.Equal(t, store.ShipmentStatusInTransit, shipments.get(shipmentID).Status)
	require.True(t, shipments.get(shipmentID).LastChecked.Valid)
}

func TestCheckerSkipsVanishedShipment(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	registry := newTestRegistry(&courier.Mock{Provider: "mock"})
	svc := &delivery.Service{Shipments: newMockShipments(), Orders: newMockOrders(), Registry: registry}
	rec := &delivery.Reconciler{Logger: zerolog.Nop()}
	checker := delivery.Checker{
		Svc:     svc,
		Rec:     rec,
		Locker:  lock.Locker{R: client},
		LockTTL: time.Second,
		Logger:  zerolog.Nop(),
	}

	payload, err := json.Marshal(map[string]string{"shipmentId": uuid.New().String()})
	require.NoError(t, err)
	require.NoError(t, checker.Handle(context.Background(), payload))
}
