package procmgr

import (
	"time"
)

// MetricsCollector defines the interface for collecting fleet controller metrics
type MetricsCollector interface {
	// ProcessStarted records a process that passed its startup checks
	ProcessStarted(id ProcessID, attempts int)

	// ProcessStartFailed records a start that gave up
	ProcessStartFailed(id ProcessID, reason StartFailure)

	// ProcessStopped records how a stop request ended
	ProcessStopped(id ProcessID, outcome StopOutcome, duration time.Duration)

	// SignalCompleted records a finished marker request
	SignalCompleted(command string, accepted bool, duration time.Duration)

	// RevivalPass records one reviver pass and how many processes it revived
	RevivalPass(revived int, err error)

	// RegistrySize records the number of tracked processes
	RegistrySize(size int)
}

// noopMetricsCollector is a no-op implementation of MetricsCollector
type noopMetricsCollector struct{}

func (n *noopMetricsCollector) ProcessStarted(id ProcessID, attempts int)            {}
func (n *noopMetricsCollector) ProcessStartFailed(id ProcessID, reason StartFailure) {}
func (n *noopMetricsCollector) ProcessStopped(id ProcessID, outcome StopOutcome, duration time.Duration) {
}
func (n *noopMetricsCollector) SignalCompleted(command string, accepted bool, duration time.Duration) {
}
func (n *noopMetricsCollector) RevivalPass(revived int, err error) {}
func (n *noopMetricsCollector) RegistrySize(size int)              {}

// NewNoopMetricsCollector creates a no-op metrics collector
func NewNoopMetricsCollector() MetricsCollector {
	return &noopMetricsCollector{}
}
