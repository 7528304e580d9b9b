package cod

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/orderdesk/backend-fulfillment/internal/common"
	"github.com/orderdesk/backend-fulfillment/internal/obs"
	"github.com/orderdesk/backend-fulfillment/internal/store"
)

type orderQueries interface {
	GetStatus(ctx context.Context, id pgtype.UUID) (store.OrderStatus, error)
	SetStatusIf(ctx context.Context, id pgtype.UUID, expected, next store.OrderStatus) (bool, error)
}

// Handler exposes HTTP endpoints for the COD ledger. After a successful ledger
// mutation it applies the coupled order-status update as a second explicit
// step, keeping the ledger itself order-agnostic.
type Handler struct {
	Ledger   *Ledger
	Orders   orderQueries
	Validate *validator.Validate
}

type codEventRequest struct {
	CollectedBy string `json:"collectedBy"`
	Amount      int64  `json:"amount" validate:"gte=0"`
	ReceiptRef  string `json:"receiptRef"`
	Reason      string `json:"reason"`
	Notes       string `json:"notes"`
}

// RecordEvent dispatches a COD action: collected, failed or returned.
func (h *Handler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	if h.Ledger == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cod ledger not configured", nil)
		return
	}
	orderID, err := parseUUID(chi.URLParam(r, "orderId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}
	action := chi.URLParam(r, "action")

	var req codEventRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
			return
		}
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
	}

	result := "error"
	defer func() {
		if obs.CODEventTotal != nil {
			obs.CODEventTotal.WithLabelValues(action, result).Inc()
		}
	}()

	var orderTarget store.OrderStatus
	switch action {
	case "collected":
		err = h.Ledger.RecordCollection(r.Context(), orderID, req.CollectedBy, req.Amount, req.ReceiptRef)
		orderTarget = store.OrderStatusDelivered
	case "failed":
		err = h.Ledger.RecordFailure(r.Context(), orderID, store.CODFailureReason(req.Reason), req.Notes)
	case "returned":
		err = h.Ledger.MarkReturned(r.Context(), orderID)
		orderTarget = store.OrderStatusReturned
	default:
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown cod action", nil)
		return
	}
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if orderTarget != "" {
		h.applyOrderStatus(r.Context(), orderID, orderTarget)
	}
	result = "success"
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"status": "ok"}})
}

// Get returns the COD tracking row for the order.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	orderID, err := parseUUID(chi.URLParam(r, "orderId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}
	row, err := h.Ledger.Get(r.Context(), orderID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": serialiseTracking(row)})
}

// applyOrderStatus performs the coupled order transition. Collection must not
// resurrect a terminal order; a return is an explicit compensating action and
// may follow delivered.
func (h *Handler) applyOrderStatus(ctx context.Context, orderID pgtype.UUID, target store.OrderStatus) {
	if h.Orders == nil {
		return
	}
	current, err := h.Orders.GetStatus(ctx, orderID)
	if err != nil || current == target {
		return
	}
	if current.Terminal() && !(target == store.OrderStatusReturned && current == store.OrderStatusDelivered) {
		return
	}
	_, _ = h.Orders.SetStatusIf(ctx, orderID, current, target)
}

func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "no COD tracking for order", nil)
	case errors.Is(err, ErrInvalidReason):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, ErrInvalidState):
		common.JSONError(w, http.StatusConflict, "INVALID_STATE", "this action is not valid for the order's current COD state", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cod operation failed", nil)
	}
}

func serialiseTracking(c store.CODTracking) map[string]any {
	return map[string]any{
		"orderId":         uuidString(c.OrderID),
		"state":           c.State,
		"collectedBy":     nullableText(c.CollectedBy),
		"collectedAmount": nullableInt(c.CollectedAmount),
		"receiptRef":      nullableText(c.ReceiptRef),
		"failureReason":   nullableText(c.FailureReason),
		"notes":           nullableText(c.Notes),
		"createdAt":       nullableTime(c.CreatedAt),
		"updatedAt":       nullableTime(c.UpdatedAt),
	}
}

func parseUUID(value string) (pgtype.UUID, error) {
	parsed, err := uuid.Parse(value)
	if err != nil {
		return pgtype.UUID{}, err
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, nil
}

func uuidString(id pgtype.UUID) string {
	if !id.Valid {
		return ""
	}
	return uuid.UUID(id.Bytes).String()
}

func nullableText(v pgtype.Text) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullableInt(v pgtype.Int8) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullableTime(v pgtype.Timestamptz) *time.Time {
	if !v.Valid {
		return nil
	}
	return &v.Time
}
