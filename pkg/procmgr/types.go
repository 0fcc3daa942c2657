// Package procmgr spawns and tracks the OS processes of the fleet.
package procmgr

import (
	"time"
)

// ProcessID uniquely identifies a managed process: a group id, or the
// reserved proxy key
type ProcessID string

// Handle is a live OS process started by this controller
type Handle interface {
	// Pid returns the OS process id
	Pid() int

	// StartedAt returns when the process was spawned
	StartedAt() time.Time

	// Exited is closed once the process has exited
	Exited() <-chan struct{}

	// Alive reports whether the process has not exited yet
	Alive() bool

	// ExitErr returns the wait error once the process has exited
	ExitErr() error

	// Kill forcibly terminates the process
	Kill() error
}

// StopOutcome classifies how a stop request ended
type StopOutcome int

const (
	// StopOutcomeAccepted - the process acknowledged the request or exited
	StopOutcomeAccepted StopOutcome = iota
	// StopOutcomeRejected - the request was never acknowledged and nothing could be killed
	StopOutcomeRejected
	// StopOutcomeForced - the process ignored every request and was killed
	StopOutcomeForced
	// StopOutcomeSkipped - nothing was running
	StopOutcomeSkipped
)

// String returns the string representation of a StopOutcome
func (o StopOutcome) String() string {
	switch o {
	case StopOutcomeAccepted:
		return "Accepted"
	case StopOutcomeRejected:
		return "Rejected"
	case StopOutcomeForced:
		return "Forced"
	case StopOutcomeSkipped:
		return "Skipped"
	default:
		return "Unknown"
	}
}

// StartFailure classifies why a start gave up
type StartFailure int

const (
	// StartFailureSpawn - the executable could not be launched at all
	StartFailureSpawn StartFailure = iota
	// StartFailureExitedImmediately - every attempt exited during the startup check
	StartFailureExitedImmediately
	// StartFailureCrashed - the process died while waiting for health
	StartFailureCrashed
	// StartFailureUnhealthy - the process stayed up but never passed a health check
	StartFailureUnhealthy
	// StartFailureDuplicate - a live process was already tracked
	StartFailureDuplicate
)

// String returns the string representation of a StartFailure
func (f StartFailure) String() string {
	switch f {
	case StartFailureSpawn:
		return "Spawn"
	case StartFailureExitedImmediately:
		return "ExitedImmediately"
	case StartFailureCrashed:
		return "Crashed"
	case StartFailureUnhealthy:
		return "Unhealthy"
	case StartFailureDuplicate:
		return "Duplicate"
	default:
		return "Unknown"
	}
}
