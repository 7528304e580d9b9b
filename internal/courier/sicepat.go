package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/orderdesk/backend-fulfillment/internal/resilience"
	"github.com/orderdesk/backend-fulfillment/internal/store"
)

// SiCepat integrates the SiCepat pickup API. SiCepat has no request
// deduplication, so shipment creation runs with at-most-one-attempt semantics
// and the orchestration layer owns retries.
type SiCepat struct {
	Provider string
	APIKey   string
	BaseURL  string
	HTTP     *resilience.HTTPClient
	Logger   zerolog.Logger
}

type sicepatPickupRequest struct {
	ReferenceNo string `json:"reference_number"`
	Address     string `json:"recipient_address"`
	Weight      int    `json:"weight"`
	CODValue    int64  `json:"cod_value,omitempty"`
	Remark      string `json:"remark,omitempty"`
}

type sicepatEnvelope struct {
	Status struct {
		Code        int    `json:"code"`
		Description string `json:"description"`
	} `json:"sicepat_status"`
	Result struct {
		ReceiptNumber string `json:"receipt_number"`
		LastStatus    string `json:"last_status"`
		City          string `json:"city"`
		DateTime      string `json:"date_time"`
	} `json:"result"`
}

// CreateShipment requests a pickup and returns the receipt number as the
// tracking reference.
func (s *SiCepat) CreateShipment(ctx context.Context, req ShipmentRequest) (ShipmentHandle, error) {
	payload := sicepatPickupRequest{
		ReferenceNo: req.OrderID,
		Address:     req.Destination,
		Weight:      req.WeightGram,
		Remark:      req.Notes,
	}
	if req.COD {
		payload.CODValue = req.CODAmount
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return ShipmentHandle{}, newError(s.Provider, ErrInvalidRequest, "encode pickup", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base()+"/api/partner/requestpickup", bytes.NewReader(body))
	if err != nil {
		return ShipmentHandle{}, newError(s.Provider, ErrInvalidRequest, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", s.APIKey)
	resp, err := s.do(ctx, httpReq)
	if err != nil {
		return ShipmentHandle{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := classifyHTTPStatus(s.Provider, resp.StatusCode); err != nil {
		return ShipmentHandle{}, err
	}
	var decoded sicepatEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ShipmentHandle{}, newError(s.Provider, ErrUnknown, "decode pickup response", err)
	}
	if decoded.Status.Code != 200 {
		return ShipmentHandle{}, newError(s.Provider, ErrInvalidRequest, decoded.Status.Description, nil)
	}
	if decoded.Result.ReceiptNumber == "" {
		return ShipmentHandle{}, newError(s.Provider, ErrUnknown, "pickup accepted without receipt number", nil)
	}
	return ShipmentHandle{TrackingRef: decoded.Result.ReceiptNumber, RawStatus: decoded.Result.LastStatus}, nil
}

// FetchStatus reads the latest waybill state.
func (s *SiCepat) FetchStatus(ctx context.Context, trackingRef string) (RawStatus, error) {
	if strings.TrimSpace(trackingRef) == "" {
		return RawStatus{}, newError(s.Provider, ErrInvalidRequest, "tracking reference is required", nil)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base()+"/api/partner/waybill?waybill="+trackingRef, nil)
	if err != nil {
		return RawStatus{}, newError(s.Provider, ErrInvalidRequest, "build request", err)
	}
	httpReq.Header.Set("api-key", s.APIKey)
	resp, err := s.do(ctx, httpReq)
	if err != nil {
		return RawStatus{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := classifyHTTPStatus(s.Provider, resp.StatusCode); err != nil {
		return RawStatus{}, err
	}
	var decoded sicepatEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return RawStatus{}, newError(s.Provider, ErrUnknown, "decode waybill response", err)
	}
	if decoded.Status.Code != 200 {
		return RawStatus{}, newError(s.Provider, ErrUnknown, decoded.Status.Description, nil)
	}
	raw := RawStatus{Code: decoded.Result.LastStatus, Description: decoded.Result.City}
	if ts, err := time.Parse("2006-01-02 15:04:05", decoded.Result.DateTime); err == nil {
		raw.OccurredAt = ts
	}
	return raw, nil
}

// MapStatus converts SiCepat waybill statuses into the canonical enum.
func (s *SiCepat) MapStatus(raw RawStatus) store.ShipmentStatus {
	switch strings.ToUpper(strings.TrimSpace(raw.Code)) {
	case "PICKREQ", "DROP":
		return store.ShipmentStatusPending
	case "PICK", "PICKED UP":
		return store.ShipmentStatusPickedUp
	case "IN", "OUT", "TRANSIT", "ANT":
		return store.ShipmentStatusInTransit
	case "DELIVERED":
		return store.ShipmentStatusDelivered
	case "BA", "UNDELIVERED":
		return store.ShipmentStatusFailed
	case "CANCEL":
		return store.ShipmentStatusCancelled
	case "RETURN", "RTS":
		return store.ShipmentStatusReturned
	}
	s.Logger.Warn().Str("provider", s.Provider).Str("code", raw.Code).Msg("unmapped courier status")
	return store.ShipmentStatusUnknown
}

func (s *SiCepat) base() string {
	return strings.TrimRight(s.BaseURL, "/")
}

func (s *SiCepat) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if s.HTTP == nil {
		return nil, newError(s.Provider, ErrUnavailable, "http client not configured", nil)
	}
	resp, err := s.HTTP.Do(ctx, req)
	if err != nil {
		return nil, classifyTransportError(s.Provider, err)
	}
	return resp, nil
}
