// Package metrics exposes Prometheus metrics for API traffic and warehouse
// loads.
//
// # Basic Usage
//
//	metrics.APIRequests.WithLabelValues("GET", "200").Inc()
//	metrics.RateLimitRetries.Inc()
//	metrics.RowsLoaded.WithLabelValues("analytics.projects").Add(float64(n))
//
// Handler serves the default registry for the --metrics-addr listener.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "airbridge"

var (
	// APIRequests counts completed API requests by method and status code
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of API requests by method and status code",
		},
		[]string{"method", "status"},
	)

	// APIRequestDuration tracks request latency excluding the throttle sleep
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Duration of API requests in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
		[]string{"method"},
	)

	// RateLimitRetries counts 429 responses that were retried
	RateLimitRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "rate_limit_retries_total",
			Help:      "Total number of retries after HTTP 429 responses",
		},
	)

	// IteratorRestarts counts full rescans after iterator invalidation
	IteratorRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "iterator_restarts_total",
			Help:      "Total number of pagination restarts after iterator invalidation",
		},
		[]string{"table"},
	)

	// RecordsWritten counts records sent to the API
	RecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "records_written_total",
			Help:      "Total number of records written to the API",
		},
		[]string{"table", "mode"},
	)

	// RowsLoaded counts rows materialized into warehouse tables
	RowsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "warehouse",
			Name:      "rows_loaded_total",
			Help:      "Total number of rows loaded into warehouse tables",
		},
		[]string{"destination"},
	)

	// Cutovers counts completed table cutovers by kind (swap or rename)
	Cutovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "warehouse",
			Name:      "cutovers_total",
			Help:      "Total number of temp table cutovers",
		},
		[]string{"kind"},
	)

	// QueryFailures counts failed source queries in the send path
	QueryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "warehouse",
			Name:      "query_failures_total",
			Help:      "Total number of failed source table queries",
		},
		[]string{"table"},
	)
)

// ObserveRequest records one finished API request.
func ObserveRequest(method string, status int, elapsed time.Duration) {
	APIRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Handler returns the HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
