package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/orderdesk/backend-fulfillment/internal/courier"
	"github.com/orderdesk/backend-fulfillment/internal/lock"
	"github.com/orderdesk/backend-fulfillment/internal/obs"
	"github.com/orderdesk/backend-fulfillment/internal/queue"
	"github.com/orderdesk/backend-fulfillment/internal/store"
)

// CheckTaskKind is the queue kind for background status checks.
const CheckTaskKind = "shipment-check"

type staleLister interface {
	ListActiveStale(ctx context.Context, olderThan time.Time, limit int32) ([]store.Shipment, error)
}

type taskEnqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// checkJob is the queue payload for one background status check.
type checkJob struct {
	ShipmentID string `json:"shipmentId"`
}

// Sweeper finds active shipments whose status has not been confirmed recently
// and schedules a background check for each. The shipment id doubles as the
// dedup key so one shipment is never queued twice within the dedup window.
type Sweeper struct {
	Shipments staleLister
	Queue     taskEnqueuer
	StaleFor  time.Duration
	BatchSize int32
	Logger    zerolog.Logger
}

// RunOnce performs a single sweep and returns how many checks were scheduled.
func (s Sweeper) RunOnce(ctx context.Context) (int, error) {
	staleFor := s.StaleFor
	if staleFor <= 0 {
		staleFor = 30 * time.Minute
	}
	batch := s.BatchSize
	if batch <= 0 {
		batch = 100
	}
	shipments, err := s.Shipments.ListActiveStale(ctx, time.Now().Add(-staleFor), batch)
	if err != nil {
		if obs.SweepRunTotal != nil {
			obs.SweepRunTotal.WithLabelValues("error").Inc()
		}
		return 0, fmt.Errorf("list stale shipments: %w", err)
	}
	scheduled := 0
	for _, shipment := range shipments {
		id := uuidString(shipment.ID)
		payload, err := json.Marshal(checkJob{ShipmentID: id})
		if err != nil {
			continue
		}
		task := queue.Task{
			Kind:           CheckTaskKind,
			Payload:        payload,
			IdempotencyKey: id,
			MaxAttempts:    3,
		}
		if err := s.Queue.Enqueue(ctx, task); err != nil {
			s.Logger.Error().Err(err).Str("shipment_id", id).Msg("enqueue status check")
			continue
		}
		scheduled++
	}
	if obs.SweepRunTotal != nil {
		obs.SweepRunTotal.WithLabelValues("ok").Inc()
	}
	return scheduled, nil
}

// Run sweeps on the configured interval until the context is cancelled.
func (s Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			count, err := s.RunOnce(ctx)
			if err != nil {
				s.Logger.Error().Err(err).Msg("sweep shipments")
				continue
			}
			if count > 0 {
				s.Logger.Info().Int("scheduled", count).Msg("sweep scheduled status checks")
			}
		}
	}
}

// Checker executes one background status check under a per-shipment lock so
// that a manual check racing against the sweep still resolves through the
// compare-and-swap in the reconciler rather than double-applying effects.
type Checker struct {
	Svc     *Service
	Rec     *Reconciler
	Locker  lock.Locker
	LockTTL time.Duration
	Logger  zerolog.Logger
}

// Handle processes one queued check job.
func (c Checker) Handle(ctx context.Context, payload []byte) error {
	var job checkJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("decode check job: %w", err)
	}
	shipmentID, err := parseUUID(job.ShipmentID)
	if err != nil {
		return fmt.Errorf("check job shipment id: %w", err)
	}
	return c.Locker.WithLock(ctx, "shipcheck:"+job.ShipmentID, c.LockTTL, func(ctx context.Context) error {
		return c.checkOne(ctx, shipmentID)
	})
}

func (c Checker) checkOne(ctx context.Context, shipmentID pgtype.UUID) error {
	check, err := c.Svc.CheckShipmentStatus(ctx, shipmentID)
	if err != nil {
		switch {
		case errors.Is(err, ErrShipmentNotFound), errors.Is(err, ErrNoTrackingRef), errors.Is(err, courier.ErrProviderNotFound):
			// Nothing to do until the shipment becomes checkable.
			c.Logger.Debug().Err(err).Str("shipment_id", uuidString(shipmentID)).Msg("skip background check")
			return nil
		}
		return err
	}
	outcome, err := c.Rec.Reconcile(ctx, check.Shipment.ID, check.Shipment.OrderID, check.Previous, check.Status)
	if err != nil {
		return err
	}
	if outcome == OutcomeApplied {
		c.Logger.Info().
			Str("shipment_id", uuidString(check.Shipment.ID)).
			Str("previous", string(check.Previous)).
			Str("status", string(check.Status)).
			Msg("background check applied status change")
	}
	return nil
}
