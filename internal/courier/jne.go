package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/orderdesk/backend-fulfillment/internal/resilience"
	"github.com/orderdesk/backend-fulfillment/internal/store"
)

// JNE integrates the JNE consignment API.
type JNE struct {
	Provider string
	APIKey   string
	BaseURL  string
	HTTP     *resilience.HTTPClient
	Logger   zerolog.Logger
}

type jneBookingRequest struct {
	OrderRef    string `json:"order_ref"`
	Destination string `json:"destination"`
	WeightGram  int    `json:"weight_gram"`
	Notes       string `json:"notes,omitempty"`
	CODAmount   int64  `json:"cod_amount,omitempty"`
}

type jneBookingResponse struct {
	AWB    string `json:"awb"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

type jneTrackingResponse struct {
	AWB       string `json:"awb"`
	Code      string `json:"last_status"`
	Note      string `json:"note"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error"`
}

// CreateShipment books a consignment. JNE deduplicates on the X-Request-ID
// header, so the idempotency key is forwarded there.
func (j *JNE) CreateShipment(ctx context.Context, req ShipmentRequest) (ShipmentHandle, error) {
	payload := jneBookingRequest{
		OrderRef:    req.OrderID,
		Destination: req.Destination,
		WeightGram:  req.WeightGram,
		Notes:       req.Notes,
	}
	if req.COD {
		payload.CODAmount = req.CODAmount
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return ShipmentHandle{}, newError(j.Provider, ErrInvalidRequest, "encode booking", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, j.base()+"/v1/consignments", bytes.NewReader(body))
	if err != nil {
		return ShipmentHandle{}, newError(j.Provider, ErrInvalidRequest, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+j.APIKey)
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("X-Request-ID", req.IdempotencyKey)
	}
	resp, err := j.do(ctx, httpReq)
	if err != nil {
		return ShipmentHandle{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := j.classifyStatus(resp.StatusCode); err != nil {
		return ShipmentHandle{}, err
	}
	var decoded jneBookingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ShipmentHandle{}, newError(j.Provider, ErrUnknown, "decode booking response", err)
	}
	if decoded.Error != "" {
		return ShipmentHandle{}, newError(j.Provider, ErrInvalidRequest, decoded.Error, nil)
	}
	if decoded.AWB == "" {
		return ShipmentHandle{}, newError(j.Provider, ErrUnknown, "booking accepted without awb", nil)
	}
	return ShipmentHandle{TrackingRef: decoded.AWB, RawStatus: decoded.Status}, nil
}

// FetchStatus reads the latest tracking state for the consignment.
func (j *JNE) FetchStatus(ctx context.Context, trackingRef string) (RawStatus, error) {
	if strings.TrimSpace(trackingRef) == "" {
		return RawStatus{}, newError(j.Provider, ErrInvalidRequest, "tracking reference is required", nil)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, j.base()+"/v1/consignments/"+trackingRef, nil)
	if err != nil {
		return RawStatus{}, newError(j.Provider, ErrInvalidRequest, "build request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+j.APIKey)
	resp, err := j.do(ctx, httpReq)
	if err != nil {
		return RawStatus{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := j.classifyStatus(resp.StatusCode); err != nil {
		return RawStatus{}, err
	}
	var decoded jneTrackingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return RawStatus{}, newError(j.Provider, ErrUnknown, "decode tracking response", err)
	}
	if decoded.Error != "" {
		return RawStatus{}, newError(j.Provider, ErrUnknown, decoded.Error, nil)
	}
	raw := RawStatus{Code: decoded.Code, Description: decoded.Note}
	if ts, err := time.Parse(time.RFC3339, decoded.Timestamp); err == nil {
		raw.OccurredAt = ts
	}
	return raw, nil
}

// MapStatus converts JNE status codes into the canonical enum.
func (j *JNE) MapStatus(raw RawStatus) store.ShipmentStatus {
	switch strings.ToUpper(strings.TrimSpace(raw.Code)) {
	case "MANIFESTED", "BOOKED":
		return store.ShipmentStatusPending
	case "PICKED", "PU1":
		return store.ShipmentStatusPickedUp
	case "ON_PROCESS", "ON_TRANSIT", "RECEIVED_AT_WAREHOUSE":
		return store.ShipmentStatusInTransit
	case "DELIVERED", "POD":
		return store.ShipmentStatusDelivered
	case "UNDELIVERED", "CRISS_CROSS":
		return store.ShipmentStatusFailed
	case "CANCELLED":
		return store.ShipmentStatusCancelled
	case "RETURNED_TO_SHIPPER", "RTS":
		return store.ShipmentStatusReturned
	}
	j.Logger.Warn().Str("provider", j.Provider).Str("code", raw.Code).Msg("unmapped courier status")
	return store.ShipmentStatusUnknown
}

func (j *JNE) base() string {
	return strings.TrimRight(j.BaseURL, "/")
}

func (j *JNE) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if j.HTTP == nil {
		return nil, newError(j.Provider, ErrUnavailable, "http client not configured", nil)
	}
	resp, err := j.HTTP.Do(ctx, req)
	if err != nil {
		return nil, classifyTransportError(j.Provider, err)
	}
	return resp, nil
}

func (j *JNE) classifyStatus(code int) error {
	return classifyHTTPStatus(j.Provider, code)
}

func classifyTransportError(provider string, err error) *ProviderError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return newError(provider, ErrUnavailable, "courier request timed out", err)
	case errors.Is(err, resilience.ErrOpenCircuit):
		return newError(provider, ErrUnavailable, "courier circuit open", err)
	default:
		return newError(provider, ErrUnavailable, "courier unreachable", err)
	}
}

func classifyHTTPStatus(provider string, code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return newError(provider, ErrAuth, fmt.Sprintf("courier rejected credentials (%d)", code), nil)
	case code == http.StatusNotFound:
		return newError(provider, ErrNotFound, "courier does not know this reference", nil)
	case code >= 400 && code < 500:
		return newError(provider, ErrInvalidRequest, fmt.Sprintf("courier rejected request (%d)", code), nil)
	case code >= 500:
		return newError(provider, ErrUnavailable, fmt.Sprintf("courier returned %d", code), nil)
	default:
		return newError(provider, ErrUnknown, fmt.Sprintf("unexpected courier response (%d)", code), nil)
	}
}
