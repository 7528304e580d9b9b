package delivery

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/orderdesk/backend-fulfillment/internal/common"
	"github.com/orderdesk/backend-fulfillment/internal/courier"
	"github.com/orderdesk/backend-fulfillment/internal/store"
)

// Handler exposes HTTP endpoints for shipment creation, listing and status checks.
type Handler struct {
	Svc      *Service
	Rec      *Reconciler
	Validate *validator.Validate
}

type createShipmentRequest struct {
	ProviderID  string `json:"providerId" validate:"required"`
	Destination string `json:"destination" validate:"required"`
	WeightGram  int    `json:"weightGram" validate:"gte=0"`
	Notes       string `json:"notes"`
	COD         bool   `json:"cod"`
	CODAmount   int64  `json:"codAmount" validate:"gte=0"`
	AttemptID   string `json:"attemptId"`
}

// Create books a shipment with the requested provider for the order.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "delivery service not configured", nil)
		return
	}
	orderID, err := parseUUID(chi.URLParam(r, "orderId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}
	var req createShipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
	}
	shipment, err := h.Svc.CreateShipment(r.Context(), orderID, req.ProviderID, CreateOptions{
		Destination: req.Destination,
		WeightGram:  req.WeightGram,
		Notes:       req.Notes,
		COD:         req.COD,
		CODAmount:   req.CODAmount,
		AttemptID:   req.AttemptID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": serialiseShipment(shipment)})
}

// List returns all shipments for the order, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	orderID, err := parseUUID(chi.URLParam(r, "orderId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}
	shipments, err := h.Svc.GetShipments(r.Context(), orderID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load shipments", nil)
		return
	}
	items := make([]map[string]any, 0, len(shipments))
	for _, s := range shipments {
		items = append(items, serialiseShipment(s))
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items})
}

// Latest returns the most recent shipment for the order.
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	orderID, err := parseUUID(chi.URLParam(r, "orderId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}
	shipment, err := h.Svc.GetLatestShipment(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, ErrShipmentNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "no shipment for order", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load shipment", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": serialiseShipment(shipment)})
}

// Check probes the courier for the current status and reconciles any change.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil || h.Rec == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "delivery service not configured", nil)
		return
	}
	shipmentID, err := parseUUID(chi.URLParam(r, "shipmentId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid shipment id", nil)
		return
	}
	check, err := h.Svc.CheckShipmentStatus(r.Context(), shipmentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	outcome, err := h.Rec.Reconcile(r.Context(), check.Shipment.ID, check.Shipment.OrderID, check.Previous, check.Status)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to reconcile status", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"shipmentId": uuidString(check.Shipment.ID),
			"status":     check.Status,
			"raw":        check.Raw.Code,
			"changed":    outcome == OutcomeApplied,
		},
	})
}

func writeServiceError(w http.ResponseWriter, err error) {
	var provErr *courier.ProviderError
	switch {
	case errors.Is(err, ErrOrderNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
	case errors.Is(err, ErrShipmentNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "shipment not found", nil)
	case errors.Is(err, courier.ErrProviderNotFound):
		common.JSONError(w, http.StatusNotFound, "PROVIDER_NOT_FOUND", "delivery provider not configured", nil)
	case errors.Is(err, ErrDuplicateActiveShipment):
		common.JSONError(w, http.StatusConflict, "ALREADY_EXISTS", err.Error(), nil)
	case errors.Is(err, ErrNoTrackingRef):
		common.JSONError(w, http.StatusConflict, "INVALID_STATE", err.Error(), nil)
	case errors.As(err, &provErr):
		common.JSONError(w, http.StatusBadGateway, "PROVIDER_ERROR",
			"could not reach delivery provider, last known state still applies",
			map[string]any{"provider": provErr.Provider, "kind": provErr.Kind})
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "delivery operation failed", nil)
	}
}

func serialiseShipment(s store.Shipment) map[string]any {
	return map[string]any{
		"id":          uuidString(s.ID),
		"orderId":     uuidString(s.OrderID),
		"providerId":  s.ProviderID,
		"trackingRef": nullableText(s.TrackingRef),
		"status":      s.Status,
		"lastChecked": nullableTime(s.LastChecked),
		"createdAt":   nullableTime(s.CreatedAt),
		"updatedAt":   nullableTime(s.UpdatedAt),
	}
}

func nullableText(v pgtype.Text) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullableTime(v pgtype.Timestamptz) *time.Time {
	if !v.Valid {
		return nil
	}
	return &v.Time
}
