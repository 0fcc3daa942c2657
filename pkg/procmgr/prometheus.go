package procmgr

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// PrometheusMetricsCollector implements MetricsCollector using Prometheus metrics
type PrometheusMetricsCollector struct {
	// Lifecycle metrics
	starts       *prometheus.CounterVec
	startFailure *prometheus.CounterVec
	stops        *prometheus.CounterVec
	stopDuration *prometheus.HistogramVec

	// Signal metrics
	signals        *prometheus.CounterVec
	signalDuration *prometheus.HistogramVec

	// Reviver metrics
	revivalPasses *prometheus.CounterVec
	revived       prometheus.Counter

	registrySize prometheus.Gauge

	registry *prometheus.Registry
}

// NewPrometheusMetricsCollector creates a new Prometheus metrics collector
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "pyramid_fleet"
	}

	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	pmc.starts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_starts_total",
			Help:      "Total number of processes that passed startup checks",
		},
		[]string{"process_id", "attempts"},
	)

	pmc.startFailure = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_start_failures_total",
			Help:      "Total number of starts that gave up",
		},
		[]string{"process_id", "reason"},
	)

	pmc.stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_stops_total",
			Help:      "Total number of stop requests by outcome",
		},
		[]string{"process_id", "outcome"},
	)

	pmc.stopDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_stop_duration_seconds",
			Help:      "Duration of stop requests",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"process_id"},
	)

	pmc.signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Total number of marker requests by command and result",
		},
		[]string{"command", "accepted"},
	)

	pmc.signalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "signal_duration_seconds",
			Help:      "Time from issuing a marker to completion",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	pmc.revivalPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revival_passes_total",
			Help:      "Total number of reviver passes",
		},
		[]string{"status"},
	)

	pmc.revived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revived_processes_total",
			Help:      "Total number of processes restarted by the reviver",
		},
	)

	pmc.registrySize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_processes",
			Help:      "Current number of processes tracked by the controller",
		},
	)

	pmc.registry.MustRegister(
		pmc.starts,
		pmc.startFailure,
		pmc.stops,
		pmc.stopDuration,
		pmc.signals,
		pmc.signalDuration,
		pmc.revivalPasses,
		pmc.revived,
		pmc.registrySize,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return pmc
}

// ProcessStarted records a successful start
func (pmc *PrometheusMetricsCollector) ProcessStarted(id ProcessID, attempts int) {
	pmc.starts.WithLabelValues(string(id), strconv.Itoa(attempts)).Inc()
}

// ProcessStartFailed records a start that gave up
func (pmc *PrometheusMetricsCollector) ProcessStartFailed(id ProcessID, reason StartFailure) {
	pmc.startFailure.WithLabelValues(string(id), reason.String()).Inc()
}

// ProcessStopped records the outcome and duration of a stop request
func (pmc *PrometheusMetricsCollector) ProcessStopped(id ProcessID, outcome StopOutcome, duration time.Duration) {
	pmc.stops.WithLabelValues(string(id), outcome.String()).Inc()
	pmc.stopDuration.WithLabelValues(string(id)).Observe(duration.Seconds())
}

// SignalCompleted records a finished marker request
func (pmc *PrometheusMetricsCollector) SignalCompleted(command string, accepted bool, duration time.Duration) {
	pmc.signals.WithLabelValues(command, strconv.FormatBool(accepted)).Inc()
	pmc.signalDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RevivalPass records one reviver pass
func (pmc *PrometheusMetricsCollector) RevivalPass(revived int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	pmc.revivalPasses.WithLabelValues(status).Inc()
	pmc.revived.Add(float64(revived))
}

// RegistrySize records the number of tracked processes
func (pmc *PrometheusMetricsCollector) RegistrySize(size int) {
	pmc.registrySize.Set(float64(size))
}

// Registry returns the Prometheus registry for HTTP handler setup
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}

// Compile-time interface compliance check
var _ MetricsCollector = (*PrometheusMetricsCollector)(nil)
