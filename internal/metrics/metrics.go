// Package metrics provides Prometheus instrumentation for the round engine.
package metrics

import (
	"bufio"
	"fmt"
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
	// CommandsTotal counts engine commands by name and outcome kind
	// ("ok" on success, otherwise the error kind).
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updown_commands_total",
		Help: "Engine commands by outcome",
	}, []string{"command", "outcome"})

	// CommandLatency tracks command execution time, including storage.
	CommandLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "updown_command_latency_seconds",
		Help:    "Engine command latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})

	// RoundsTotal counts lifecycle transitions by target status.
	RoundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updown_round_transitions_total",
		Help: "Round lifecycle transitions",
	}, []string{"status"})

	// RoundResults counts settled rounds by result.
	RoundResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updown_round_results_total",
		Help: "Settled rounds by result",
	}, []string{"result"})

	// WagerVolume tracks cumulative wagered base units by direction.
	WagerVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updown_wager_volume_total",
		Help: "Cumulative wagered base units",
	}, []string{"direction"})

	// PayoutVolume tracks cumulative claimed base units.
	PayoutVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updown_payout_volume_total",
		Help: "Cumulative paid out base units",
	})

	// DelegatedRounds tracks rounds currently in the accelerated environment.
	DelegatedRounds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "updown_delegated_rounds",
		Help: "Rounds currently handed off to the accelerated environment",
	})

	// OracleFailures counts rejected oracle reads by reason.
	OracleFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updown_oracle_failures_total",
		Help: "Oracle reads rejected at open or settle",
	}, []string{"reason"})

	// EventPublishFailures counts lifecycle events that failed to publish.
	EventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updown_event_publish_failures_total",
		Help: "Lifecycle events that failed to publish",
	})

	// CrankCycles counts operator loop cycles by outcome.
	CrankCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updown_crank_cycles_total",
		Help: "Operator loop cycles",
	}, []string{"outcome"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "updown_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updown_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "updown_http_request_duration_seconds",
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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern labels by chi route pattern, so /rounds/7 and /rounds/8
// share one series.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
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

// Hijack lets the WebSocket upgrade pass through this middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: %T does not support hijacking", w.ResponseWriter)
	}
	return h.Hijack()
}
