package launcher

import (
	"context"
	"log/slog"
	"sort"
)

// Lifecycle event types reported by the launcher
const (
	EventStarting   = "starting"
	EventReady      = "ready"
	EventSkipped    = "skipped"
	EventFailed     = "failed"
	EventStopping   = "stopping"
	EventStopped    = "stopped"
	EventRestarting = "restarting"
	EventSignaled   = "signaled"
)

// EventPublisher receives lifecycle events for fleet targets. Publishing
// never influences the operation that reported the event.
type EventPublisher interface {
	// ReportLifecycleEvent records one event
	//
	// Parameters:
	//   ctx: Context for the operation
	//   eventType: One of the Event* constants
	//   message: Human-readable description of the event
	//   metadata: Additional context (group, pid, accepted, error)
	ReportLifecycleEvent(ctx context.Context, eventType, message string, metadata map[string]string) error
}

// NoopEventPublisher drops every event
type NoopEventPublisher struct{}

// ReportLifecycleEvent does nothing
func (n *NoopEventPublisher) ReportLifecycleEvent(ctx context.Context, eventType, message string, metadata map[string]string) error {
	return nil
}

// LogEventPublisher writes events to a structured logger
type LogEventPublisher struct {
	logger *slog.Logger
}

// NewLogEventPublisher creates a publisher logging at info level
func NewLogEventPublisher(logger *slog.Logger) *LogEventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEventPublisher{logger: logger.With("component", "events")}
}

// ReportLifecycleEvent logs the event with its metadata as attributes
func (p *LogEventPublisher) ReportLifecycleEvent(ctx context.Context, eventType, message string, metadata map[string]string) error {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]any, 0, 2+2*len(keys))
	attrs = append(attrs, "event", eventType)
	for _, k := range keys {
		attrs = append(attrs, k, metadata[k])
	}

	level := slog.LevelInfo
	if eventType == EventFailed {
		level = slog.LevelWarn
	}
	p.logger.Log(ctx, level, message, attrs...)
	return nil
}

var (
	_ EventPublisher = (*NoopEventPublisher)(nil)
	_ EventPublisher = (*LogEventPublisher)(nil)
)
