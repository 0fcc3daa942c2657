package launcher

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jrepp/pyramid-fleet/pkg/config"
	"github.com/jrepp/pyramid-fleet/pkg/controller"
	"github.com/jrepp/pyramid-fleet/pkg/procmgr"
	"github.com/jrepp/pyramid-fleet/pkg/signal"
)

// Builder provides a fluent interface for constructing a Launcher.
//
// Usage:
//
//	l, err := launcher.NewBuilder(cfg).
//	    WithLogger(logger).
//	    WithMetrics(procmgr.NewPrometheusMetricsCollector("")).
//	    Build()
//
// Every collaborator not set explicitly gets its production default: marker
// files in the configured commands folder, os/exec spawning and HTTP health
// checks with the configured timeouts.
type Builder struct {
	cfg       *config.Config
	spawner   procmgr.Spawner
	health    controller.HealthChecker
	transport signal.Transport
	metrics   procmgr.MetricsCollector
	events    EventPublisher
	logger    *slog.Logger
	logDir    string
	err       error
}

// NewBuilder creates a builder for the fleet described by cfg
func NewBuilder(cfg *config.Config) *Builder {
	b := &Builder{cfg: cfg}
	if cfg == nil {
		b.err = fmt.Errorf("config cannot be nil")
	}
	return b
}

// WithSpawner sets how processes are launched
func (b *Builder) WithSpawner(s procmgr.Spawner) *Builder {
	if b.err != nil {
		return b
	}
	if s == nil {
		b.err = fmt.Errorf("spawner cannot be nil")
		return b
	}
	b.spawner = s
	return b
}

// WithHealthChecker sets how endpoint liveness is decided
func (b *Builder) WithHealthChecker(h controller.HealthChecker) *Builder {
	if b.err != nil {
		return b
	}
	if h == nil {
		b.err = fmt.Errorf("health checker cannot be nil")
		return b
	}
	b.health = h
	return b
}

// WithTransport sets how requests reach workers
func (b *Builder) WithTransport(t signal.Transport) *Builder {
	if b.err != nil {
		return b
	}
	if t == nil {
		b.err = fmt.Errorf("transport cannot be nil")
		return b
	}
	b.transport = t
	return b
}

// WithMetrics sets the metrics collector
func (b *Builder) WithMetrics(m procmgr.MetricsCollector) *Builder {
	if b.err != nil {
		return b
	}
	b.metrics = m
	return b
}

// WithEvents sets the lifecycle event publisher
func (b *Builder) WithEvents(p EventPublisher) *Builder {
	if b.err != nil {
		return b
	}
	b.events = p
	return b
}

// WithLogger sets the logger
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	if b.err != nil {
		return b
	}
	b.logger = logger
	return b
}

// WithProcessLogDir writes each spawned process's output to <dir>/<id>.log.
// It only applies to the default spawner.
func (b *Builder) WithProcessLogDir(dir string) *Builder {
	if b.err != nil {
		return b
	}
	b.logDir = dir
	return b
}

// Build creates the launcher
func (b *Builder) Build() (*Launcher, error) {
	if b.err != nil {
		return nil, fmt.Errorf("builder validation failed: %w", b.err)
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	runID := uuid.NewString()
	logger = logger.With("component", "launcher", "run_id", runID)

	metrics := b.metrics
	if metrics == nil {
		metrics = procmgr.NewNoopMetricsCollector()
	}

	events := b.events
	if events == nil {
		events = NewLogEventPublisher(logger)
	}

	transport := b.transport
	if transport == nil {
		transport = signal.NewFileTransport(b.cfg.SystemCommandsFolder, logger)
	}

	spawner := b.spawner
	if spawner == nil {
		opts := []procmgr.Option{procmgr.WithLogger(logger)}
		if b.logDir != "" {
			opts = append(opts, procmgr.WithLogDir(b.logDir))
		}
		spawner = procmgr.NewExecSpawner(opts...)
	}

	health := b.health
	if health == nil {
		health = controller.NewHTTPHealthCheckerFromTiming(b.cfg.Timing)
	}

	deps := controller.Deps{
		Registry:  procmgr.NewRegistry(),
		Spawner:   spawner,
		Transport: transport,
		Health:    health,
		Metrics:   metrics,
		Logger:    logger,
	}

	return newLauncher(b.cfg, deps, events, runID), nil
}

// MustBuild creates the launcher and panics on error
func (b *Builder) MustBuild() *Launcher {
	l, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build launcher: %v", err))
	}
	return l
}
