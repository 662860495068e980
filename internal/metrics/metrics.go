// Package metrics provides Prometheus instrumentation for the settlement
// engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LiquidationsTotal counts liquidations, partitioned by position side.
	LiquidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpetua_liquidations_total",
		Help: "Total number of positions liquidated",
	}, []string{"side"})

	// WithdrawalsTotal counts completed collateral withdrawals.
	WithdrawalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perpetua_collateral_withdrawals_total",
		Help: "Total number of collateral withdrawals settled",
	})

	// SettlementFailures counts failed settlement attempts by operation and
	// failure class.
	SettlementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpetua_settlement_failures_total",
		Help: "Settlement attempts rejected or aborted",
	}, []string{"operation", "reason"})

	// OracleResolutions counts price band resolutions by outcome.
	OracleResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpetua_oracle_resolutions_total",
		Help: "Price band resolutions by outcome",
	}, []string{"outcome"})

	// LiquidationVolumeUSD tracks cumulative liquidated notional in USD
	// base units, per custody.
	LiquidationVolumeUSD = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpetua_liquidation_volume_usd_total",
		Help: "Cumulative liquidated notional in USD base units",
	}, []string{"custody_id"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perpetua_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpetua_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "perpetua_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
