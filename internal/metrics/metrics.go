// Package metrics declares the Prometheus collectors shared by the pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mediaguard"

var (
	// ModerationDecisions counts terminal moderation outcomes by media kind.
	ModerationDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "moderation",
			Name:      "decisions_total",
			Help:      "Moderation decisions by media kind and status",
		},
		[]string{"kind", "status"},
	)

	// ModerationErrors counts pipeline failures that left a record pending.
	ModerationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "moderation",
			Name:      "errors_total",
			Help:      "Moderation pipeline failures by error class",
		},
		[]string{"kind", "class"},
	)

	// ModerationDuration observes end-to-end moderation time per asset.
	ModerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "moderation",
			Name:      "duration_seconds",
			Help:      "Moderation duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"kind"},
	)

	// FramesScored counts frames evaluated by the cascade.
	FramesScored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cascade",
		Name:      "frames_scored_total",
		Help:      "Frames evaluated by the cascade scorer",
	})

	// JobsProcessed counts finished queue tasks by lane and result.
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Queue tasks processed by lane, job and result",
		},
		[]string{"lane", "job", "result"},
	)

	// TieringOperations counts durable storage operations.
	TieringOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tiering",
			Name:      "operations_total",
			Help:      "Backup, rehydrate and delete operations against durable storage",
		},
		[]string{"operation", "result"},
	)

	// TieringBytes counts bytes moved to or from durable storage.
	TieringBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tiering",
			Name:      "bytes_total",
			Help:      "Bytes transferred to or from durable storage",
		},
		[]string{"direction"},
	)

	// JanitorRemoved counts rows and files removed by maintenance sweeps.
	JanitorRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "janitor",
			Name:      "removed_total",
			Help:      "Items removed by maintenance sweeps",
		},
		[]string{"sweep", "item"},
	)

	// EmailsSent counts delivered and failed emails by kind.
	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "email",
			Name:      "sent_total",
			Help:      "Emails sent by kind and result",
		},
		[]string{"kind", "result"},
	)

	// APIRequests counts operator API requests.
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Operator API requests by route and status code",
		},
		[]string{"route", "code"},
	)
)

// Result labels.
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
	ResultRetry   = "retry"
)

// ObserveModeration records a terminal decision and its duration.
func ObserveModeration(kind, status string, elapsed time.Duration) {
	ModerationDecisions.WithLabelValues(kind, status).Inc()
	ModerationDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
