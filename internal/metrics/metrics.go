// Package metrics provides Prometheus instrumentation for Mission Control.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics (debug surface).
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "missionctl_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "missionctl_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Fan-out metrics.
var (
	MessagesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "missionctl_messages_created_total",
		Help: "Total number of task messages persisted.",
	})

	NotificationsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "missionctl_notifications_created_total",
		Help: "Total number of notifications created by fan-out.",
	})
)

// Delivery worker metrics.
var (
	WorkerTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "missionctl_worker_ticks_total",
		Help: "Total number of delivery worker ticks run.",
	})

	WorkerTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "missionctl_worker_tick_duration_seconds",
		Help:    "Delivery worker tick duration in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	NotificationOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "missionctl_notification_outcomes_total",
		Help: "Total notifications reaching each outcome per worker tick.",
	}, []string{"outcome"}) // delivered, deferred_busy, failed, timeout, dead_letter, sla_escalated

	NotificationStateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "missionctl_notification_transitions_total",
		Help: "Total notification state transitions applied.",
	}, []string{"from", "to"})
)
