// Package metrics provides Prometheus instrumentation for the PnL engine.
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
	// ValuationRunsTotal counts valuation runs by cycle and outcome.
	ValuationRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_valuation_runs_total",
		Help: "Total valuation runs by cycle and outcome",
	}, []string{"cycle", "outcome"})

	// ValuationRunDuration tracks run latency per cycle.
	ValuationRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pnl_valuation_run_duration_seconds",
		Help:    "Valuation run duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"cycle"})

	// OpenPositionsLastRun reports the open-position count of the most
	// recent successful run.
	OpenPositionsLastRun = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pnl_open_positions_last_run",
		Help: "Open positions observed by the most recent valuation run",
	})

	// MissingCurvePoints counts (contract month, tenor) pairs that aborted
	// a run for lack of curve data.
	MissingCurvePoints = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pnl_missing_curve_points_total",
		Help: "Missing curve points encountered during valuation runs",
	})

	// TradesRecorded counts trades recorded through the API, by direction.
	TradesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_trades_recorded_total",
		Help: "Total trades recorded",
	}, []string{"direction"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pnl_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pnl_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveValuationRun records one run's outcome and latency. The caller
// supplies the outcome label ("ok", "duplicate", "missing_curve", "error").
func ObserveValuationRun(cycle, outcome string, elapsed time.Duration) {
	ValuationRunsTotal.WithLabelValues(cycle, outcome).Inc()
	ValuationRunDuration.WithLabelValues(cycle).Observe(elapsed.Seconds())
}

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
