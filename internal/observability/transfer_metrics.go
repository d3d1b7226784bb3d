package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	transferJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckxfer_transfer_jobs_total",
			Help: "Total number of finished transfer jobs by kind and terminal status.",
		},
		[]string{"kind", "status"},
	)
	transferRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckxfer_transfer_records_total",
			Help: "Total number of records moved by transfer jobs.",
		},
		[]string{"kind"},
	)
	transferDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckxfer_transfer_duration_seconds",
			Help:    "Transfer job duration in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 900},
		},
		[]string{"kind"},
	)
	transferBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckxfer_transfer_bytes_total",
			Help: "Total number of serialized bytes received from export streams.",
		},
		[]string{"kind"},
	)
	importBatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckxfer_import_batches_total",
			Help: "Total number of INSERT batches written by imports.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		transferJobsTotal,
		transferRecordsTotal,
		transferDurationSeconds,
		transferBytesTotal,
		importBatchesTotal,
	)
}

// ObserveTransfer records one finished job.
func ObserveTransfer(kind, status string, records int64, elapsed time.Duration) {
	transferJobsTotal.WithLabelValues(kind, status).Inc()
	if records > 0 {
		transferRecordsTotal.WithLabelValues(kind).Add(float64(records))
	}
	transferDurationSeconds.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func AddTransferBytes(kind string, bytes int64) {
	if bytes > 0 {
		transferBytesTotal.WithLabelValues(kind).Add(float64(bytes))
	}
}

func AddImportBatches(batches int) {
	if batches > 0 {
		importBatchesTotal.Add(float64(batches))
	}
}
