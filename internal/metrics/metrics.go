// Package metrics exposes the process-level Prometheus counters. Most of
// the system's observability lives in the delivery ledger; these counters
// exist for the paths the ledger cannot see, like the ledger's own write
// failures.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeliveriesTotal counts finished delivery sequences by terminal status
	// (success, failed, skipped).
	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hookbridge_deliveries_total",
		Help: "Delivery sequences by terminal status.",
	}, []string{"status"})

	// AttemptsTotal counts individual HTTP attempts, including retries.
	AttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hookbridge_delivery_attempts_total",
		Help: "Individual delivery HTTP attempts.",
	})

	// LedgerWriteFailures counts swallowed ledger write errors. Audit writes
	// never fail a delivery, so this counter is how operators notice a
	// broken audit pipe.
	LedgerWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hookbridge_ledger_write_failures_total",
		Help: "Delivery ledger writes that failed and were swallowed.",
	})

	// BreakerTrips counts subscriptions disabled after reaching their
	// consecutive-failure threshold.
	BreakerTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hookbridge_circuit_breaker_trips_total",
		Help: "Subscriptions tripped by consecutive delivery failures.",
	})

	// CallbackRejections counts inbound callbacks rejected before
	// processing, by internal reason (the wire response stays uniform).
	CallbackRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hookbridge_callback_rejections_total",
		Help: "Inbound callbacks rejected during verification.",
	}, []string{"reason"})
)
