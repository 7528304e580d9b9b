package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/orderdesk/backend-fulfillment/internal/common"
	"github.com/orderdesk/backend-fulfillment/internal/courier"
	"github.com/orderdesk/backend-fulfillment/internal/obs"
)

type replayStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Webhook handles push callbacks from couriers and feeds them into the same
// reconcile path manual status checks use.
type Webhook struct {
	Svc       *Service
	Rec       *Reconciler
	Registry  adapterResolver
	Replay    replayStore
	ReplayTTL time.Duration
}

type webhookPayload struct {
	TrackingRef    string     `json:"trackingRef"`
	ExternalStatus string     `json:"externalStatus"`
	Description    string     `json:"description"`
	OccurredAt     *time.Time `json:"occurredAt"`
}

// Handle processes a courier callback: replay-protect, map the courier's raw
// status to the canonical enum, reconcile.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil || h.Rec == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "delivery service not configured", nil)
		return
	}
	if h.Replay == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "replay protection not configured", nil)
		return
	}
	ctx, span := otel.Tracer("delivery.Webhook").Start(r.Context(), "CourierWebhook.Handle")
	defer span.End()

	courierLabel := normaliseLabel(chi.URLParam(r, "courier"))
	span.SetAttributes(attribute.String("shipping.webhook.courier", courierLabel))
	outcome := "error"
	defer func() {
		if obs.CourierWebhookTotal != nil {
			obs.CourierWebhookTotal.WithLabelValues(courierLabel, outcome).Inc()
		}
	}()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		span.RecordError(err)
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unable to read payload", nil)
		return
	}
	key := fmt.Sprintf("cwh:%s:%s", courierLabel, common.Sha256Hex(string(body)))
	ok, err := h.Replay.SetNX(ctx, key, "1", h.ReplayTTL).Result()
	if err != nil {
		span.RecordError(err)
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "replay protection failed", nil)
		return
	}
	if !ok {
		span.AddEvent("courier webhook replay prevented")
		common.JSONError(w, http.StatusConflict, "REPLAY", "duplicate webhook payload", nil)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if payload.TrackingRef == "" || payload.ExternalStatus == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "trackingRef and externalStatus are required", nil)
		return
	}

	shipment, err := h.Svc.Shipments.GetByTrackingRef(ctx, payload.TrackingRef)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "shipment not found", nil)
			return
		}
		span.RecordError(err)
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load shipment", nil)
		return
	}
	adapter, err := h.Registry.Resolve(shipment.ProviderID)
	if err != nil {
		common.JSONError(w, http.StatusNotFound, "PROVIDER_NOT_FOUND", "delivery provider not configured", nil)
		return
	}
	raw := courier.RawStatus{Code: payload.ExternalStatus, Description: payload.Description}
	if payload.OccurredAt != nil {
		raw.OccurredAt = *payload.OccurredAt
	}
	status := adapter.MapStatus(raw)
	span.SetAttributes(attribute.String("shipping.webhook.status", string(status)))

	if _, err := h.Rec.Reconcile(ctx, shipment.ID, shipment.OrderID, shipment.Status, status); err != nil {
		span.RecordError(err)
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to reconcile status", nil)
		return
	}
	outcome = "success"
	w.WriteHeader(http.StatusNoContent)
}

func normaliseLabel(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
