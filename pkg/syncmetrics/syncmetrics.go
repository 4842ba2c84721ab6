// Package syncmetrics exposes Prometheus instrumentation for the sync
// core, generalized from the teacher's cluster-resource gauges to the
// quantities this system actually tracks: notifier throughput, replication
// history size, upload/download byte counts, and pending-bootstrap/error
// backlog.
package syncmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Coordinator/notifier metrics
	NotifierCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coresync_notifiers_registered",
			Help: "Number of notifiers currently registered with a file's coordinator",
		},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coresync_coordinator_tick_duration_seconds",
			Help:    "Time taken to run one coordinator diff pump",
			Buckets: prometheus.DefBuckets,
		},
	)

	// History metrics
	HistoryEntriesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coresync_history_entries_total",
			Help: "Total number of entries retained in the client replication history",
		},
	)

	HistoryTrimmedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coresync_history_trimmed_entries_total",
			Help: "Total number of history entries removed by Trim",
		},
	)

	// Upload/download metrics
	UploadChangesetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coresync_upload_changesets_total",
			Help: "Total number of local changesets handed to the wire layer for upload",
		},
	)

	UploadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coresync_upload_bytes_total",
			Help: "Total number of uncompressed changeset bytes uploaded",
		},
	)

	DownloadChangesetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coresync_download_changesets_total",
			Help: "Total number of remote changesets integrated",
		},
	)

	DownloadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coresync_download_bytes_total",
			Help: "Total number of uncompressed changeset bytes downloaded",
		},
	)

	IntegrationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coresync_integration_duration_seconds",
			Help:    "Time taken to transform and apply one batch of remote changesets",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Bootstrap/pending-error metrics
	PendingBootstrapChangesets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coresync_pending_bootstrap_changesets",
			Help: "Number of changesets still queued in the pending bootstrap store",
		},
	)

	PendingBootstrapBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coresync_pending_bootstrap_bytes",
			Help: "Total uncompressed size of changesets still queued in the pending bootstrap store",
		},
	)

	PendingErrorsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coresync_pending_errors_total",
			Help: "Number of pending errors awaiting delivery",
		},
	)

	// Subscription metrics
	SubscriptionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coresync_subscription_state",
			Help: "Whether the active subscription set is in the given state (1 = current state, 0 = otherwise)",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(NotifierCount)
	prometheus.MustRegister(TickDuration)
	prometheus.MustRegister(HistoryEntriesTotal)
	prometheus.MustRegister(HistoryTrimmedTotal)
	prometheus.MustRegister(UploadChangesetsTotal)
	prometheus.MustRegister(UploadBytesTotal)
	prometheus.MustRegister(DownloadChangesetsTotal)
	prometheus.MustRegister(DownloadBytesTotal)
	prometheus.MustRegister(IntegrationDuration)
	prometheus.MustRegister(PendingBootstrapChangesets)
	prometheus.MustRegister(PendingBootstrapBytes)
	prometheus.MustRegister(PendingErrorsTotal)
	prometheus.MustRegister(SubscriptionState)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
