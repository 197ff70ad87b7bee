// Package observability provides Prometheus metrics for bootmount.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// namespace is the Prometheus metric namespace prefix for all bootmount metrics.
	namespace = "bootmount"
)

// Metrics holds all Prometheus metrics for mount runs.
type Metrics struct {
	registry *prometheus.Registry

	// Run metrics
	runsTotal        *prometheus.CounterVec
	runDuration      prometheus.Histogram
	lastRunTimestamp prometheus.Gauge
	lastExitCode     prometheus.Gauge
	runInProgress    prometheus.Gauge

	// Trigger metrics
	triggersTotal *prometheus.CounterVec

	// Status indicator metrics
	statusUpdatesTotal *prometheus.CounterVec

	// Mount verification metrics
	missingMountsTotal prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
// Uses a custom registry so repeated construction in tests never panics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of mount runs by outcome",
			},
			[]string{"outcome"},
		),

		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of mount runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),

		lastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last mount run finished",
		}),

		lastExitCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_exit_code",
			Help:      "Exit code of the last mount command, -1 if it did not exit on its own",
		}),

		runInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_in_progress",
			Help:      "1 while a mount run is active",
		}),

		triggersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "triggers_total",
				Help:      "Total number of startup events received by source",
			},
			[]string{"source"},
		),

		statusUpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_updates_total",
				Help:      "Total number of status indicator updates by phase and status",
			},
			[]string{"phase", "status"},
		),

		missingMountsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_mounts_total",
			Help:      "Total number of expected mount points found absent after a run",
		}),
	}

	reg.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.lastRunTimestamp,
		m.lastExitCode,
		m.runInProgress,
		m.triggersTotal,
		m.statusUpdatesTotal,
		m.missingMountsTotal,
	)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// WriteTextfile writes all metrics in text format for the node_exporter
// textfile collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// RecordRunStart marks a run as active.
func (m *Metrics) RecordRunStart() {
	m.runInProgress.Set(1)
}

// RecordRun records a finished run.
// outcome should be one of: completed, failed, spawn-failed, timed-out.
func (m *Metrics) RecordRun(outcome string, exitCode int, duration time.Duration) {
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(duration.Seconds())
	m.lastExitCode.Set(float64(exitCode))
	m.lastRunTimestamp.SetToCurrentTime()
	m.runInProgress.Set(0)
}

// RecordTrigger records a startup event.
func (m *Metrics) RecordTrigger(source string) {
	m.triggersTotal.WithLabelValues(source).Inc()
}

// RecordStatusUpdate records an indicator update.
// phase should be one of: starting, terminal.
func (m *Metrics) RecordStatusUpdate(phase string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.statusUpdatesTotal.WithLabelValues(phase, status).Inc()
}

// RecordMissingMounts records expected mount points absent after a run.
func (m *Metrics) RecordMissingMounts(n int) {
	if n > 0 {
		m.missingMountsTotal.Add(float64(n))
	}
}
