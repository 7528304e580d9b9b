package delivery_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/orderdesk/backend-fulfillment/internal/store"
)

func toPGUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgText(value string) pgtype.Text {
	if value == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: value, Valid: true}
}

type mockShipments struct {
	mu       sync.Mutex
	rows     map[pgtype.UUID]*store.Shipment
	casFails int
}

func newMockShipments() *mockShipments {
	return &mockShipments{rows: make(map[pgtype.UUID]*store.Shipment)}
}

func (m *mockShipments) add(s store.Shipment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := s
	m.rows[s.ID] = &row
}

func (m *mockShipments) get(id pgtype.UUID) store.Shipment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[id]; ok {
		return *row
	}
	return store.Shipment{}
}

func (m *mockShipments) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *mockShipments) Create(_ context.Context, arg store.CreateShipmentParams) (store.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	shipment := store.Shipment{
		ID:           toPGUUID(uuid.New()),
		OrderID:      arg.OrderID,
		ProviderID:   arg.ProviderID,
		ProviderType: arg.ProviderType,
		TrackingRef:  arg.TrackingRef,
		Status:       arg.Status,
		CreatedAt:    pgtype.Timestamptz{Time: time.Now(), Valid: true},
		UpdatedAt:    pgtype.Timestamptz{Time: time.Now(), Valid: true},
	}
	m.rows[shipment.ID] = &shipment
	return shipment, nil
}

func (m *mockShipments) GetByID(_ context.Context, id pgtype.UUID) (store.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[id]; ok {
		return *row, nil
	}
	return store.Shipment{}, pgx.ErrNoRows
}

func (m *mockShipments) GetByTrackingRef(_ context.Context, ref string) (store.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.TrackingRef.Valid && row.TrackingRef.String == ref {
			return *row, nil
		}
	}
	return store.Shipment{}, pgx.ErrNoRows
}

func (m *mockShipments) ListByOrder(_ context.Context, orderID pgtype.UUID) ([]store.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []store.Shipment
	for _, row := range m.rows {
		if row.OrderID == orderID {
			result = append(result, *row)
		}
	}
	return result, nil
}

func (m *mockShipments) LatestByOrder(ctx context.Context, orderID pgtype.UUID) (store.Shipment, error) {
	rows, _ := m.ListByOrder(ctx, orderID)
	if len(rows) == 0 {
		return store.Shipment{}, pgx.ErrNoRows
	}
	latest := rows[0]
	for _, row := range rows[1:] {
		if row.CreatedAt.Time.After(latest.CreatedAt.Time) {
			latest = row
		}
	}
	return latest, nil
}

func (m *mockShipments) HasActive(_ context.Context, orderID pgtype.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.OrderID == orderID && !row.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockShipments) HasActiveForProvider(_ context.Context, orderID pgtype.UUID, providerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.OrderID == orderID && row.ProviderID == providerID && !row.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockShipments) TouchLastChecked(_ context.Context, id pgtype.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[id]; ok {
		row.LastChecked = pgtype.Timestamptz{Time: time.Now(), Valid: true}
	}
	return nil
}

func (m *mockShipments) SetStatusIf(_ context.Context, id pgtype.UUID, expected, next store.ShipmentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.Status != expected {
		m.casFails++
		return false, nil
	}
	row.Status = next
	return true, nil
}

func (m *mockShipments) ListActiveStale(_ context.Context, olderThan time.Time, limit int32) ([]store.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []store.Shipment
	for _, row := range m.rows {
		if row.Status.Terminal() {
			continue
		}
		if row.LastChecked.Valid && row.LastChecked.Time.After(olderThan) {
			continue
		}
		result = append(result, *row)
		if int32(len(result)) >= limit {
			break
		}
	}
	return result, nil
}

type mockOrders struct {
	mu   sync.Mutex
	rows map[pgtype.UUID]*store.Order
}

func newMockOrders() *mockOrders {
	return &mockOrders{rows: make(map[pgtype.UUID]*store.Order)}
}

func (m *mockOrders) add(o store.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := o
	m.rows[o.ID] = &row
}

func (m *mockOrders) status(id pgtype.UUID) store.OrderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[id]; ok {
		return row.Status
	}
	return ""
}

func (m *mockOrders) Get(_ context.Context, id pgtype.UUID) (store.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[id]; ok {
		return *row, nil
	}
	return store.Order{}, pgx.ErrNoRows
}

func (m *mockOrders) GetStatus(ctx context.Context, id pgtype.UUID) (store.OrderStatus, error) {
	order, err := m.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return order.Status, nil
}

func (m *mockOrders) SetStatusIf(_ context.Context, id pgtype.UUID, expected, next store.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.Status != expected {
		return false, nil
	}
	row.Status = next
	return true, nil
}

type mockCOD struct {
	mu     sync.Mutex
	opened []pgtype.UUID
}

func (m *mockCOD) OpenIfAbsent(_ context.Context, orderID pgtype.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.opened {
		if id == orderID {
			return nil
		}
	}
	m.opened = append(m.opened, orderID)
	return nil
}

type mockEventStore struct {
	mu     sync.Mutex
	events []store.DomainEvent
}

func (m *mockEventStore) Insert(_ context.Context, arg store.InsertDomainEventParams) (store.DomainEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev := store.DomainEvent{
		ID:          toPGUUID(uuid.New()),
		Topic:       arg.Topic,
		AggregateID: arg.AggregateID,
		Payload:     arg.Payload,
		OccurredAt:  pgtype.Timestamptz{Time: time.Now(), Valid: true},
	}
	m.events = append(m.events, ev)
	return ev, nil
}

func (m *mockEventStore) topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]string, 0, len(m.events))
	for _, ev := range m.events {
		result = append(result, ev.Topic)
	}
	return result
}
