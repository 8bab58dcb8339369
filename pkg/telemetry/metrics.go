// Package telemetry exposes Prometheus metrics for the sandbox service.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omcp/sandbox-mcp/pkg/logger"
)

// Execution outcome label values.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeTimeout   = "timeout"
	OutcomeTransport = "transport_error"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	sessionsCreated prometheus.Counter
	sessionsClosed  prometheus.Counter
	sessionsLive    prometheus.Gauge
	executions      *prometheus.CounterVec
	executionTime   prometheus.Histogram
}

// NewMetrics creates and registers the service collectors on a fresh
// registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sandbox_sessions_created_total",
			Help: "Total number of sandbox sessions created.",
		}),
		sessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sandbox_sessions_closed_total",
			Help: "Total number of sandbox sessions closed.",
		}),
		sessionsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sandbox_sessions_live",
			Help: "Number of currently live sandbox sessions.",
		}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandbox_executions_total",
			Help: "Total number of code executions by outcome.",
		}, []string{"outcome"}),
		executionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sandbox_execution_seconds",
			Help:    "Wall-clock execution time of sandbox code.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
	}

	registry.MustRegister(
		m.sessionsCreated,
		m.sessionsClosed,
		m.sessionsLive,
		m.executions,
		m.executionTime,
	)
	return m
}

// RecordSessionCreated increments the created counter and the live gauge.
func (m *Metrics) RecordSessionCreated() {
	m.sessionsCreated.Inc()
	m.sessionsLive.Inc()
}

// RecordSessionClosed increments the closed counter and decrements the live
// gauge.
func (m *Metrics) RecordSessionClosed() {
	m.sessionsClosed.Inc()
	m.sessionsLive.Dec()
}

// RecordExecution records one execution with its outcome and duration.
func (m *Metrics) RecordExecution(outcome string, elapsedSecs float64) {
	m.executions.WithLabelValues(outcome).Inc()
	m.executionTime.Observe(elapsedSecs)
}

// Serve runs an HTTP listener exposing /metrics until ctx is canceled. It
// blocks; callers run it in a goroutine.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("metrics server shutdown: %v", err)
		}
	}()

	logger.Infof("Serving metrics on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
