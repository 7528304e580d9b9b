package cod_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/orderdesk/backend-fulfillment/internal/cod"
	"github.com/orderdesk/backend-fulfillment/internal/events"
	"github.com/orderdesk/backend-fulfillment/internal/store"
)

func toPGUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

type mockCODQueries struct {
	mu   sync.Mutex
	rows map[pgtype.UUID]*store.CODTracking
}

func newMockCODQueries() *mockCODQueries {
	return &mockCODQueries{rows: make(map[pgtype.UUID]*store.CODTracking)}
}

func (m *mockCODQueries) open(orderID pgtype.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[orderID] = &store.CODTracking{OrderID: orderID, State: store.CODStateAwaiting}
}

func (m *mockCODQueries) state(orderID pgtype.UUID) store.CODState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[orderID]; ok {
		return row.State
	}
	return ""
}

func (m *mockCODQueries) Get(_ context.Context, orderID pgtype.UUID) (store.CODTracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[orderID]; ok {
		return *row, nil
	}
	return store.CODTracking{}, pgx.ErrNoRows
}

func (m *mockCODQueries) MarkCollected(_ context.Context, orderID pgtype.UUID, collectedBy string, amount int64, receiptRef pgtype.Text) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[orderID]
	if !ok || row.State != store.CODStateAwaiting {
		return false, nil
	}
	row.State = store.CODStateCollected
	row.CollectedBy = pgtype.Text{String: collectedBy, Valid: true}
	row.CollectedAmount = pgtype.Int8{Int64: amount, Valid: true}
	row.ReceiptRef = receiptRef
	return true, nil
}

func (m *mockCODQueries) MarkFailed(_ context.Context, orderID pgtype.UUID, reason store.CODFailureReason, notes pgtype.Text) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[orderID]
	if !ok || row.State != store.CODStateAwaiting {
		return false, nil
	}
	row.State = store.CODStateFailed
	row.FailureReason = pgtype.Text{String: string(reason), Valid: true}
	row.Notes = notes
	return true, nil
}

func (m *mockCODQueries) MarkReturned(_ context.Context, orderID pgtype.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[orderID]
	if !ok || (row.State != store.CODStateCollected && row.State != store.CODStateFailed) {
		return false, nil
	}
	row.State = store.CODStateReturned
	return true, nil
}

type mockEventStore struct {
	mu     sync.Mutex
	events []store.DomainEvent
}

func (m *mockEventStore) Insert(_ context.Context, arg store.InsertDomainEventParams) (store.DomainEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	event := store.DomainEvent{Topic: arg.Topic, AggregateID: arg.AggregateID, Payload: arg.Payload}
	m.events = append(m.events, event)
	return event, nil
}

func (m *mockEventStore) topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Topic)
	}
	return out
}

func newTestLedger(q *mockCODQueries, eventStore *mockEventStore) *cod.Ledger {
	return &cod.Ledger{Q: q, Events: &events.Bus{Store: eventStore}, Logger: zerolog.Nop()}
}

func TestRecordCollectionFromAwaiting(t *testing.T) {
	t.Parallel()

	orderID := toPGUUID(uuid.New())
	queries := newMockCODQueries()
	queries.open(orderID)
	eventStore := &mockEventStore{}
	ledger := newTestLedger(queries, eventStore)

	err := ledger.RecordCollection(context.Background(), orderID, "kurir-7", 250000, "RCPT-1")
	require.NoError(t, err)
	require.Equal(t, store.CODStateCollected, queries.state(orderID))
	require.Equal(t, []string{events.TopicCODCollected}, eventStore.topics())
}

func TestRecordCollectionTwiceIsRejected(t *testing.T) {
	t.Parallel()

	orderID := toPGUUID(uuid.New())
	queries := newMockCODQueries()
	queries.open(orderID)
	ledger := newTestLedger(queries, &mockEventStore{})

	require.NoError(t, ledger.RecordCollection(context.Background(), orderID, "kurir-7", 250000, ""))
	err := ledger.RecordCollection(context.Background(), orderID, "kurir-9", 250000, "")
	require.ErrorIs(t, err, cod.ErrInvalidState)

	row, getErr := ledger.Get(context.Background(), orderID)
	require.NoError(t, getErr)
	require.Equal(t, "kurir-7", row.CollectedBy.String)
}

func TestRecordCollectionRequiresCollector(t *testing.T) {
	t.Parallel()

	orderID := toPGUUID(uuid.New())
	queries := newMockCODQueries()
	queries.open(orderID)
	ledger := newTestLedger(queries, &mockEventStore{})

	err := ledger.RecordCollection(context.Background(), orderID, "", 250000, "")
	require.ErrorIs(t, err, cod.ErrInvalidState)
	require.Equal(t, store.CODStateAwaiting, queries.state(orderID))
}

func TestRecordCollectionMissingRow(t *testing.T) {
	t.Parallel()

	ledger := newTestLedger(newMockCODQueries(), &mockEventStore{})
	err := ledger.RecordCollection(context.Background(), toPGUUID(uuid.New()), "kurir-7", 100, "")
	require.ErrorIs(t, err, cod.ErrOrderNotFound)
}

func TestRecordFailureValidatesReason(t *testing.T) {
	t.Parallel()

	orderID := toPGUUID(uuid.New())
	queries := newMockCODQueries()
	queries.open(orderID)
	ledger := newTestLedger(queries, &mockEventStore{})

	err := ledger.RecordFailure(context.Background(), orderID, "customer_moved_to_mars", "")
	require.ErrorIs(t, err, cod.ErrInvalidReason)
	require.Equal(t, store.CODStateAwaiting, queries.state(orderID))
}

func TestRecordFailureFromAwaiting(t *testing.T) {
	t.Parallel()

	orderID := toPGUUID(uuid.New())
	queries := newMockCODQueries()
	queries.open(orderID)
	eventStore := &mockEventStore{}
	ledger := newTestLedger(queries, eventStore)

	err := ledger.RecordFailure(context.Background(), orderID, store.CODFailureNotHome, "penerima tidak di rumah")
	require.NoError(t, err)
	require.Equal(t, store.CODStateFailed, queries.state(orderID))
	require.Equal(t, []string{events.TopicCODFailed}, eventStore.topics())
}

func TestMarkReturnedFromFailed(t *testing.T) {
	t.Parallel()

	orderID := toPGUUID(uuid.New())
	queries := newMockCODQueries()
	queries.open(orderID)
	eventStore := &mockEventStore{}
	ledger := newTestLedger(queries, eventStore)

	require.NoError(t, ledger.RecordFailure(context.Background(), orderID, store.CODFailureRefused, ""))
	require.NoError(t, ledger.MarkReturned(context.Background(), orderID))
	require.Equal(t, store.CODStateReturned, queries.state(orderID))
	require.Contains(t, eventStore.topics(), events.TopicCODReturned)
}

func TestMarkReturnedFromAwaitingIsRejected(t *testing.T) {
	t.Parallel()

	orderID := toPGUUID(uuid.New())
	queries := newMockCODQueries()
	queries.open(orderID)
	ledger := newTestLedger(queries, &mockEventStore{})

	err := ledger.MarkReturned(context.Background(), orderID)
	require.ErrorIs(t, err, cod.ErrInvalidState)
	require.Equal(t, store.CODStateAwaiting, queries.state(orderID))
}
