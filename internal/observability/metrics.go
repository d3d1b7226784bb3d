package observability

import "github.com/prometheus/client_golang/prometheus"

// HTTP metrics are labelled by route pattern so job ids in paths do not
// create new series.
var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckxfer_http_requests_total",
			Help: "Total number of HTTP requests by route.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckxfer_http_request_duration_seconds",
			Help:    "HTTP request latency by route. Streamed transfers last as long as the job.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30, 120, 600},
		},
		[]string{"method", "route", "status"},
	)

	httpInflightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "duckxfer_http_inflight_requests",
			Help: "Requests currently being served, including open transfer streams.",
		},
	)

	authFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckxfer_auth_failures_total",
			Help: "Rejected API requests by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDurationSeconds, httpInflightRequests, authFailuresTotal)
}

// ObserveAuthFailure counts one rejected request; reason is missing_key or
// invalid_key.
func ObserveAuthFailure(reason string) {
	authFailuresTotal.WithLabelValues(reason).Inc()
}
