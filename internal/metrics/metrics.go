package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "onlyyield_build_info",
			Help: "Build information of the OnlyYield service",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onlyyield_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onlyyield_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "onlyyield_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Distribution cycle metrics
	DistributionCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onlyyield_distribution_cycles_total",
			Help: "Total number of yield distribution cycles",
		},
		[]string{"status"}, // "success", "error", "busy"
	)

	DistributionCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "onlyyield_distribution_cycle_duration_seconds",
			Help:    "Duration of yield distribution cycles",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~2048s
		},
	)

	DistributionTransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onlyyield_distribution_transfers_total",
			Help: "Total number of per-recipient payout attempts",
		},
		[]string{"kind", "status"}, // kind: "direct"/"bridge", status: "success"/"skipped"/"error"
	)

	DistributionDonationsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "onlyyield_distribution_donations_processed_total",
			Help: "Total number of donations processed across all cycles",
		},
	)

	// Chain call metrics
	ChainCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onlyyield_chain_calls_total",
			Help: "Total number of contract calls and transactions",
		},
		[]string{"kind", "status"}, // kind: "call"/"transact"
	)

	ChainCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onlyyield_chain_call_duration_seconds",
			Help:    "Duration of contract calls and transactions",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~164s
		},
		[]string{"kind"},
	)

	// Bridge provider metrics
	BridgeRoutesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onlyyield_bridge_routes_total",
			Help: "Total number of bridge route quotes",
		},
		[]string{"status"}, // "success", "no_route", "error"
	)

	BridgeTransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onlyyield_bridge_transfers_total",
			Help: "Total number of executed bridge transfers",
		},
		[]string{"to_chain", "status"}, // status: "done"/"pending"/"failed"
	)

	// Withdrawal metrics
	WithdrawalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onlyyield_withdrawals_total",
			Help: "Total number of withdrawal orchestrations",
		},
		[]string{"outcome"}, // "completed", "bridge_required", "approval_required", "rejected", "error"
	)

	WithdrawalSearchIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "onlyyield_withdrawal_search_iterations",
			Help:    "Share-search iterations per withdrawal fallback",
			Buckets: []float64{1, 2, 3, 5, 7, 10, 15, 20},
		},
	)

	// Database metrics
	DatabaseQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onlyyield_database_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"status"},
	)

	DatabaseQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "onlyyield_database_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4.1s
		},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RecordCycle records metrics for a completed distribution cycle.
func RecordCycle(duration time.Duration, processed int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DistributionCyclesTotal.WithLabelValues(status).Inc()
	DistributionCycleDuration.Observe(duration.Seconds())
	if processed > 0 {
		DistributionDonationsProcessed.Add(float64(processed))
	}
}

// RecordChainCall records metrics for a contract call or transaction.
func RecordChainCall(kind string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ChainCallsTotal.WithLabelValues(kind, status).Inc()
	ChainCallDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordDatabaseQuery records metrics for a database query.
func RecordDatabaseQuery(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseQueriesTotal.WithLabelValues(status).Inc()
	DatabaseQueryDuration.Observe(duration.Seconds())
}
