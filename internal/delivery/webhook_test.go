package delivery_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/orderdesk/backend-fulfillment/internal/courier"
	"github.com/orderdesk/backend-fulfillment/internal/delivery"
	"github.com/orderdesk/backend-fulfillment/internal/events"
	"github.com/orderdesk/backend-fulfillment/internal/store"
)

type fakeReplayStore struct {
	results []bool
	err     error
}

func (f *fakeReplayStore) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	if len(f.results) == 0 {
		return redis.NewBoolResult(true, f.err)
	}
	res := f.results[0]
	f.results = f.results[1:]
	return redis.NewBoolResult(res, f.err)
}

type webhookFixture struct {
	handler    delivery.Webhook
	shipments  *mockShipments
	orders     *mockOrders
	eventStore *mockEventStore
	shipmentID pgtype.UUID
	orderID    pgtype.UUID
}

func newWebhookFixture(replay *fakeReplayStore) webhookFixture {
	orderID := toPGUUID(uuid.New())
	shipmentID := toPGUUID(uuid.New())

	shipments := newMockShipments()
	shipments.add(store.Shipment{
		ID:          shipmentID,
		OrderID:     orderID,
		ProviderID:  "mock",
		TrackingRef: pgText("TRK-100"),
		Status:      store.ShipmentStatusPending,
	})
	orders := newMockOrders()
	orders.add(store.Order{ID: orderID, Status: store.OrderStatusShipped})
	eventStore := &mockEventStore{}

	registry := newTestRegistry(&courier.Mock{Provider: "mock"})
	svc := &delivery.Service{Shipments: shipments, Orders: orders, Registry: registry}
	rec := &delivery.Reconciler{
		Shipments: shipments,
		Orders:    orders,
		Events:    &events.Bus{Store: eventStore},
		Logger:    zerolog.Nop(),
	}
	return webhookFixture{
		handler:    delivery.Webhook{Svc: svc, Rec: rec, Registry: registry, Replay: replay, ReplayTTL: time.Minute},
		shipments:  shipments,
		orders:     orders,
		eventStore: eventStore,
		shipmentID: shipmentID,
		orderID:    orderID,
	}
}

func postWebhook(t *testing.T, handler delivery.Webhook, courierName string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/courier/"+courierName, bytes.NewReader(body))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("courier", courierName)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rr := httptest.NewRecorder()
	handler.Handle(rr, req)
	return rr
}

func TestWebhookAppliesStatusChange(t *testing.T) {
	t.Parallel()

	fx := newWebhookFixture(&fakeReplayStore{})
	rr := postWebhook(t, fx.handler, "mock", map[string]any{
		"trackingRef":    "TRK-100",
		"externalStatus": "in_transit",
	})
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, store.ShipmentStatusInTransit, fx.shipments.get(fx.shipmentID).Status)
	require.Equal(t, []string{events.TopicShipmentStatusChanged}, fx.eventStore.topics())
}

func TestWebhookReplayProtection(t *testing.T) {
	t.Parallel()

	fx := newWebhookFixture(&fakeReplayStore{results: []bool{true, false}})
	payload := map[string]any{"trackingRef": "TRK-100", "externalStatus": "delivered"}

	rr := postWebhook(t, fx.handler, "mock", payload)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr2 := postWebhook(t, fx.handler, "mock", payload)
	require.Equal(t, http.StatusConflict, rr2.Code)
	require.Contains(t, rr2.Body.String(), "REPLAY")
	require.Len(t, fx.eventStore.topics(), 2)
}

func TestWebhookUnknownTrackingRef(t *testing.T) {
	t.Parallel()

	fx := newWebhookFixture(&fakeReplayStore{})
	rr := postWebhook(t, fx.handler, "mock", map[string]any{
		"trackingRef":    "TRK-MISSING",
		"externalStatus": "delivered",
	})
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Empty(t, fx.eventStore.topics())
}

func TestWebhookRejectsIncompletePayload(t *testing.T) {
	t.Parallel()

	fx := newWebhookFixture(&fakeReplayStore{})
	rr := postWebhook(t, fx.handler, "mock", map[string]any{"trackingRef": "TRK-100"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestWebhookUnmappedStatusBecomesUnknown(t *testing.T) {
	t.Parallel()

	fx := newWebhookFixture(&fakeReplayStore{})
	rr := postWebhook(t, fx.handler, "mock", map[string]any{
		"trackingRef":    "TRK-100",
		"externalStatus": "TELEPORTED",
	})
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, store.ShipmentStatusUnknown, fx.shipments.get(fx.shipmentID).Status)
}
