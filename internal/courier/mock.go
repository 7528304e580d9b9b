package courier

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/orderdesk/backend-fulfillment/internal/store"
)

// Mock implements Adapter with deterministic in-memory behaviour for tests and
// local development.
type Mock struct {
	Provider string

	mu       sync.Mutex
	counter  int
	statuses map[string]RawStatus

	// CreateErr and FetchErr, when set, are returned instead of the normal result.
	CreateErr error
	FetchErr  error
}

// CreateShipment assigns a deterministic tracking reference.
func (m *Mock) CreateShipment(_ context.Context, req ShipmentRequest) (ShipmentHandle, error) {
	if m.CreateErr != nil {
		return ShipmentHandle{}, m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	ref := fmt.Sprintf("MOCK-%s-%d", req.OrderID, m.counter)
	if m.statuses == nil {
		m.statuses = make(map[string]RawStatus)
	}
	m.statuses[ref] = RawStatus{Code: "pending", OccurredAt: time.Now()}
	return ShipmentHandle{TrackingRef: ref, RawStatus: "pending"}, nil
}

// FetchStatus returns the last status set via SetStatus, defaulting to pending.
func (m *Mock) FetchStatus(_ context.Context, trackingRef string) (RawStatus, error) {
	if m.FetchErr != nil {
		return RawStatus{}, m.FetchErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if raw, ok := m.statuses[trackingRef]; ok {
		return raw, nil
	}
	return RawStatus{}, newError(m.Provider, ErrNotFound, "unknown tracking reference", nil)
}

// SetStatus seeds the status the next FetchStatus will observe.
func (m *Mock) SetStatus(trackingRef, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statuses == nil {
		m.statuses = make(map[string]RawStatus)
	}
	m.statuses[trackingRef] = RawStatus{Code: code, OccurredAt: time.Now()}
}

// MapStatus maps the canonical vocabulary onto itself; anything else is unknown.
func (m *Mock) MapStatus(raw RawStatus) store.ShipmentStatus {
	status := store.ShipmentStatus(strings.ToLower(strings.TrimSpace(raw.Code)))
	if status.Valid() {
		return status
	}
	return store.ShipmentStatusUnknown
}
