// Package metrics holds the Prometheus collectors for the webhook receiver.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveybox_submissions_total",
			Help: "Webhook submissions by final outcome (success, partial, failed, rejected, invalid).",
		},
		[]string{"outcome"},
	)

	StepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveybox_steps_total",
			Help: "Ingest sub-operations by step (individual, master) and result.",
		},
		[]string{"step", "result"},
	)

	MasterRenamesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "surveybox_master_renames_total",
			Help: "Master files renamed to a later response date.",
		},
	)

	TokenRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveybox_token_refreshes_total",
			Help: "Credential exchanges with the storage backend by result.",
		},
		[]string{"result"},
	)

	BackendRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "surveybox_backend_request_duration_seconds",
			Help:    "Latency of storage backend calls by operation and status class.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	IngestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "surveybox_ingest_duration_seconds",
			Help:    "End-to-end duration of one submission.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

var registerOnce sync.Once

// Register registers all collectors with reg. Later calls are no-ops.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			SubmissionsTotal,
			StepsTotal,
			MasterRenamesTotal,
			TokenRefreshesTotal,
			BackendRequestDuration,
			IngestDuration,
		)
	})
}

// ObserveBackend records one backend call. status is a short class such as
// "2xx", "4xx" or "error".
func ObserveBackend(operation, status string, started time.Time) {
	BackendRequestDuration.WithLabelValues(operation, status).Observe(time.Since(started).Seconds())
}

// StatusClass maps an HTTP status code to its class label.
func StatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "error"
	}
}
