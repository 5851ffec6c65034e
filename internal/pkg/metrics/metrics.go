// Package metrics defines and registers all custom Prometheus metrics for the
// reservation service. It is the single source of truth for metric names,
// labels, and help strings.
//
// Metrics are registered with the default Prometheus registry at package
// init through promauto; the /metrics endpoint exposes them together with
// the HTTP metrics collected by echoprometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "reservations"

// ── Booking metrics ───────────────────────────────────────────────────────────

// ReservationsCreatedTotal counts reservations persisted in pending state.
var ReservationsCreatedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "created_total",
		Help:      "Total number of reservations created.",
	},
)

// BookingConflictsTotal counts create/reschedule attempts rejected because
// the provider was already booked.
// Label:
//   - operation: "create" or "reschedule"
var BookingConflictsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "booking_conflicts_total",
		Help:      "Total number of booking attempts rejected with a conflict.",
	},
	[]string{"operation"},
)

// TransitionsTotal counts lifecycle transitions applied.
// Label:
//   - status: the new reservation status (e.g. "accepted")
var TransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transitions_total",
		Help:      "Total number of reservation status transitions, by target status.",
	},
	[]string{"status"},
)

// ProviderLockWait measures how long requests wait for a provider lock.
var ProviderLockWait = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "provider_lock_wait_seconds",
		Help:      "Time spent waiting to acquire a per-provider booking lock.",
		Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	},
)

// ── Event metrics ─────────────────────────────────────────────────────────────

// EventsProcessedTotal counts lifecycle events that completed processing.
// Label:
//   - type: event type (e.g. "reservation.created")
var EventsProcessedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_processed_total",
		Help:      "Total number of reservation events successfully processed.",
	},
	[]string{"type"},
)

// EventsErrorsTotal counts events that failed a processing step.
// Label:
//   - reason: short description of the failure (e.g. "audit_insert", "sink_send")
var EventsErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_errors_total",
		Help:      "Total number of reservation event processing failures.",
	},
	[]string{"reason"},
)

// EventsDedupTotal counts deduplication decisions.
// Label:
//   - result: "hit" (duplicate, skipped) or "miss" (new event, processed)
var EventsDedupTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dedup_total",
		Help:      "Total number of deduplication checks, labelled by result (hit/miss).",
	},
	[]string{"result"},
)

// EventsQueueDepth tracks the current number of events waiting in each worker channel.
// Label:
//   - worker_id: numeric worker index (e.g. "0", "1", …)
var EventsQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "events_queue_depth",
		Help:      "Current number of events pending in each dispatcher worker channel.",
	},
	[]string{"worker_id"},
)

// EventProcessingDuration measures how long a single event takes to process end-to-end.
var EventProcessingDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "event_processing_duration_seconds",
		Help:      "Duration of event processing from dequeue to persistence.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"type"},
)
