package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// ShipmentCreateTotal counts shipment creation attempts by provider and result.
	ShipmentCreateTotal *prometheus.CounterVec
	// ShipmentCheckTotal counts on-demand status checks by provider and result.
	ShipmentCheckTotal *prometheus.CounterVec
	// ReconcileTotal counts reconciliation outcomes (applied or unchanged).
	ReconcileTotal *prometheus.CounterVec
	// CODEventTotal counts COD ledger actions by result.
	CODEventTotal *prometheus.CounterVec
	// CourierWebhookTotal counts inbound courier webhook processing outcomes.
	CourierWebhookTotal *prometheus.CounterVec
	// SweepRunTotal counts background sweep iterations by result.
	SweepRunTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		ShipmentCreateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shipment_create_total",
			Help:      "Count of shipment creation attempts by outcome.",
		}, []string{"provider", "result"})
		ShipmentCheckTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shipment_check_total",
			Help:      "Count of on-demand shipment status checks by outcome.",
		}, []string{"provider", "result"})
		ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shipment_reconcile_total",
			Help:      "Count of shipment status reconciliations by outcome.",
		}, []string{"outcome"})
		CODEventTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cod_event_total",
			Help:      "Count of cash-on-delivery ledger actions by outcome.",
		}, []string{"action", "result"})
		CourierWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "courier_webhook_total",
			Help:      "Count of processed courier webhooks by outcome.",
		}, []string{"courier", "result"})
		SweepRunTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shipment_sweep_total",
			Help:      "Count of background shipment sweep runs by outcome.",
		}, []string{"result"})

		mustRegisterCollector(reg, ShipmentCreateTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ShipmentCreateTotal = v
			}
		})
		mustRegisterCollector(reg, ShipmentCheckTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ShipmentCheckTotal = v
			}
		})
		mustRegisterCollector(reg, ReconcileTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReconcileTotal = v
			}
		})
		mustRegisterCollector(reg, CODEventTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CODEventTotal = v
			}
		})
		mustRegisterCollector(reg, CourierWebhookTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CourierWebhookTotal = v
			}
		})
		mustRegisterCollector(reg, SweepRunTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SweepRunTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
