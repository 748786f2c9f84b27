package report

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are boring counters derived from Results. Nothing else
// updates them.
type Metrics struct {
	registry *prometheus.Registry

	runsStarted    prometheus.Counter
	runsCompleted  *prometheus.CounterVec
	launchFailures *prometheus.CounterVec
	linesForwarded prometheus.Counter
	runDuration    prometheus.Histogram
	lastExitCode   prometheus.Gauge
	peakRSS        prometheus.Gauge
}

var (
	globalMetrics *Metrics
	globalOnce    sync.Once
)

// Global returns the process-wide metrics instance
func Global() *Metrics {
	globalOnce.Do(func() {
		globalMetrics = NewMetrics()
	})
	return globalMetrics
}

// NewMetrics creates metrics backed by a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hpoprun_runs_started_total",
			Help: "Child processes the launcher attempted to start",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hpoprun_runs_completed_total",
			Help: "Finished runs by exit reason",
		}, []string{"reason"}),
		launchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hpoprun_failures_total",
			Help: "Runs that ended in a launcher-side failure",
		}, []string{"kind"}), // "launch" or "io"
		linesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hpoprun_output_lines_total",
			Help: "Stdout lines forwarded from child processes",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hpoprun_run_duration_seconds",
			Help:    "Wall-clock duration of child processes",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		lastExitCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hpoprun_last_exit_code",
			Help: "Exit code of the most recent child process",
		}),
		peakRSS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hpoprun_last_peak_rss_bytes",
			Help: "Peak resident memory of the most recent child process",
		}),
	}

	m.registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.launchFailures,
		m.linesForwarded,
		m.runDuration,
		m.lastExitCode,
		m.peakRSS,
	)

	return m
}

// Registry exposes the underlying registry for /metrics and textfile export
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncrStarted increments the runs started counter
func (m *Metrics) IncrStarted() {
	m.runsStarted.Inc()
}

// RecordResult updates all counters from a single frozen Result.
func (m *Metrics) RecordResult(r *Result) {
	m.runsCompleted.WithLabelValues(string(r.ExitReason)).Inc()

	switch r.ExitReason {
	case ExitReasonLaunchFailed:
		m.launchFailures.WithLabelValues("launch").Inc()
		return
	case ExitReasonIOFailed:
		m.launchFailures.WithLabelValues("io").Inc()
	}

	m.linesForwarded.Add(float64(r.LinesForwarded))
	m.runDuration.Observe(r.Duration.Seconds())
	m.lastExitCode.Set(float64(r.ExitCode))
	m.peakRSS.Set(float64(r.PeakRSSBytes))
}
