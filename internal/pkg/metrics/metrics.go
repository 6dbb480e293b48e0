// Package metrics holds the Prometheus collectors for the status service and
// the realtime hub.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	StatusUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracker",
			Name:      "status_updates_total",
			Help:      "Status update attempts by category and outcome.",
		},
		[]string{"category", "outcome"},
	)

	StatusUpdateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tracker",
			Name:      "status_update_duration_seconds",
			Help:      "Time from request to broadcast hand-off.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"category"},
	)

	RealtimeConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tracker",
			Name:      "realtime_connections",
			Help:      "Live websocket connections by role.",
		},
		[]string{"role"},
	)

	RealtimeRejectedConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracker",
			Name:      "realtime_rejected_connections_total",
			Help:      "Connection attempts refused before admission.",
		},
		[]string{"reason"},
	)

	RealtimeEventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracker",
			Name:      "realtime_events_published_total",
			Help:      "Events published by type.",
		},
		[]string{"type"},
	)

	RealtimeDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracker",
			Name:      "realtime_deliveries_total",
			Help:      "Per-session deliveries by type and result (queued, dropped).",
		},
		[]string{"type", "result"},
	)

	RealtimeAcks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tracker",
			Name:      "realtime_acks_total",
			Help:      "Status update acknowledgements received from clients.",
		},
	)

	RealtimeMalformedMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tracker",
			Name:      "realtime_malformed_messages_total",
			Help:      "Inbound control messages that failed to decode.",
		},
	)
)

var registerOnce sync.Once

// Register registers all collectors with reg. Safe to call more than once.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			StatusUpdatesTotal,
			StatusUpdateDuration,
			RealtimeConnections,
			RealtimeRejectedConnections,
			RealtimeEventsPublished,
			RealtimeDeliveries,
			RealtimeAcks,
			RealtimeMalformedMessages,
		)
	})
}
