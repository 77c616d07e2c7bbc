// Package metrics provides Prometheus instrumentation for the market engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts confirmed trades, partitioned by action and outcome.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmx_trades_total",
		Help: "Total number of confirmed trades",
	}, []string{"action", "outcome"})

	// TradeDollars observes the absolute dollar size of confirmed trades.
	TradeDollars = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pmx_trade_dollars",
		Help:    "Absolute dollar volume per confirmed trade",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	}, []string{"action"})

	// TradeFailures counts rejected trade confirmations by taxonomy code.
	TradeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmx_trade_failures_total",
		Help: "Trade confirmations rejected, by reason",
	}, []string{"reason"})

	// ResolutionsTotal counts market resolutions by settlement outcome.
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmx_resolutions_total",
		Help: "Total number of market resolutions",
	}, []string{"resolution"})

	// ResolutionPaidDollars accumulates winning-side redemptions.
	ResolutionPaidDollars = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pmx_resolution_paid_dollars_total",
		Help: "Cumulative dollars credited to winning positions",
	})

	// ActiveMarkets tracks the number of open (unresolved) markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pmx_active_markets",
		Help: "Number of currently open markets",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pmx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pmx_http_request_duration_seconds",
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

		// Use the route pattern for the path label to keep cardinality
		// bounded; chi fills it in during routing.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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
