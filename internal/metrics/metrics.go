// Package metrics provides Prometheus instrumentation for the escrow engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OperationsTotal counts engine operations by name and outcome kind
	// ("ok" or an error kind).
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_operations_total",
		Help: "Total engine operations by outcome",
	}, []string{"op", "outcome"})

	// OperationLatency tracks time spent inside the store transaction.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "escrow_operation_latency_seconds",
		Help:    "Engine operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// ActiveAds tracks the number of open ads.
	ActiveAds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "escrow_active_ads",
		Help: "Number of currently active ads",
	})

	// OpenOrders tracks orders that are not yet released.
	OpenOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "escrow_open_orders",
		Help: "Number of orders not yet released",
	})

	// LockedTotal exports TotalLockedForToken per asset. Values above
	// float64 precision are approximate.
	LockedTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "escrow_locked_total",
		Help: "Escrow locked per asset in raw units",
	}, []string{"asset"})

	// SolvencyMismatches counts audit runs that found a locked total
	// disagreeing with open ads and orders.
	SolvencyMismatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_solvency_mismatches_total",
		Help: "Audit mismatches between recorded and expected escrow",
	}, []string{"asset"})

	// AuditRuns counts completed audit passes.
	AuditRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_audit_runs_total",
		Help: "Completed solvency audit passes",
	})

	// DividendsDistributed tracks the distributor's cumulative payouts.
	DividendsDistributed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "escrow_dividends_distributed",
		Help: "Total dividends claimed in raw reward units",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "escrow_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// EventsPublished counts events handed to each sink.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_events_published_total",
		Help: "Events published per sink",
	}, []string{"sink"})

	// EventPublishErrors counts failed publishes per sink.
	EventPublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_event_publish_errors_total",
		Help: "Failed event publishes per sink",
	}, []string{"sink"})

	// RateLimited counts requests rejected by the limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "escrow_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveOperation records one engine operation.
func ObserveOperation(op, outcome string, started time.Time) {
	OperationsTotal.WithLabelValues(op, outcome).Inc()
	OperationLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
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

		// Route pattern keeps ids out of the label set.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
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

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
