package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supplyrouter_orders_created_total",
			Help: "Orders created, by initial status",
		},
		[]string{"status"},
	)

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supplyrouter_transitions_total",
			Help: "Lifecycle transitions applied, by action",
		},
		[]string{"action"},
	)

	MatcherFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supplyrouter_matcher_fallback_total",
			Help: "Orders routed to the default supplier because no filter matched",
		},
	)

	DeclineReassigned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supplyrouter_decline_reassign_total",
			Help: "Outcome of the reassignment attempt after a decline",
		},
		[]string{"outcome"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supplyrouter_notifications_sent_total",
			Help: "Notifications delivered, by event",
		},
		[]string{"event"},
	)

	NotificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supplyrouter_notifications_failed_total",
			Help: "Notifications that could not be delivered, by event",
		},
		[]string{"event"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supplyrouter_cache_lookups_total",
			Help: "Cache lookups by key kind and result (hit, miss, error)",
		},
		[]string{"kind", "result"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supplyrouter_operation_duration_seconds",
			Help:    "Duration of engine operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)
