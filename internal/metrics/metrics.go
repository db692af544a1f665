// Package metrics provides Prometheus instrumentation for the trading engine.
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
	// TradesTotal counts trade submissions, partitioned by kind and
	// terminal status.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cinestox_trades_total",
		Help: "Total number of trade submissions by kind and terminal status",
	}, []string{"kind", "status"})

	// TradeLatency tracks submit-to-terminal latency.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cinestox_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// VersionConflicts counts optimistic-concurrency retries on positions.
	VersionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cinestox_position_version_conflicts_total",
		Help: "Position writes retried due to version conflicts",
	})

	// MarginCalls counts positions flagged below the liquidation threshold.
	MarginCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cinestox_margin_calls_total",
		Help: "Positions flagged below the liquidation threshold",
	})

	// Liquidations counts system-initiated forced closes.
	Liquidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cinestox_liquidations_total",
		Help: "System-initiated liquidation trades submitted",
	})

	// QuoteCacheHits / QuoteCacheMisses track the Redis quote cache.
	QuoteCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cinestox_quote_cache_hits_total",
		Help: "Quote cache hits",
	})
	QuoteCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cinestox_quote_cache_misses_total",
		Help: "Quote cache misses",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cinestox_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cinestox_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cinestox_http_request_duration_seconds",
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

		// Use the raw path for the label; routes here are low-cardinality.
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
