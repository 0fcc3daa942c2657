// Package controller owns the lifecycle of one process: a worker group or
// the reverse proxy. It starts the process with bounded retries, stops it
// through the marker protocol with escalation to a forced kill, and restarts
// it as a stop followed by a start.
package controller

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jrepp/pyramid-fleet/pkg/command"
	"github.com/jrepp/pyramid-fleet/pkg/config"
	"github.com/jrepp/pyramid-fleet/pkg/fleeterr"
	"github.com/jrepp/pyramid-fleet/pkg/procmgr"
	"github.com/jrepp/pyramid-fleet/pkg/signal"
)

// Deps are the collaborators shared by every controller of a fleet
type Deps struct {
	Registry  *procmgr.Registry
	Spawner   procmgr.Spawner
	Transport signal.Transport
	Health    HealthChecker
	Metrics   procmgr.MetricsCollector
	Logger    *slog.Logger
}

// Controller starts, stops and restarts one process
type Controller struct {
	id        procmgr.ProcessID
	launch    config.LaunchConfig
	timing    config.Timing
	registry  *procmgr.Registry
	spawner   procmgr.Spawner
	transport signal.Transport
	health    HealthChecker
	metrics   procmgr.MetricsCollector
	logger    *slog.Logger
}

// New creates a controller for the process identified by id
func New(id procmgr.ProcessID, launch config.LaunchConfig, timing config.Timing, deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = procmgr.NewNoopMetricsCollector()
	}
	health := deps.Health
	if health == nil {
		health = NewHTTPHealthCheckerFromTiming(timing)
	}

	return &Controller{
		id:        id,
		launch:    launch,
		timing:    timing,
		registry:  deps.Registry,
		spawner:   deps.Spawner,
		transport: deps.Transport,
		health:    health,
		metrics:   metrics,
		logger:    logger.With("group", string(id), "port", launch.CommandPort()),
	}
}

// ID returns the controlled identity
func (c *Controller) ID() procmgr.ProcessID {
	return c.id
}

// Endpoints returns the endpoints served by the process
func (c *Controller) Endpoints() []config.Endpoint {
	return c.launch.Endpoints
}

// Start spawns the process and blocks until it is healthy or the start gave
// up. A process that exits within the startup check delay is respawned, up
// to StartAttempts spawns in total.
func (c *Controller) Start(ctx context.Context) error {
	if h, ok := c.registry.Get(c.id); ok && h.Alive() {
		c.metrics.ProcessStartFailed(c.id, procmgr.StartFailureDuplicate)
		return fleeterr.ErrDuplicateStart(string(c.id), h.Pid())
	}

	spec := procmgr.Spec{
		ID:         c.id,
		Executable: c.launch.Executable,
		Args:       c.launch.Args,
		WorkDir:    c.launch.WorkDir,
		Env:        c.launch.Env,
	}

	var lastErr error
	failure := procmgr.StartFailureSpawn
	for attempt := 1; attempt <= c.timing.StartAttempts; attempt++ {
		logger := c.logger.With("attempt", attempt)

		h, err := c.spawner.Spawn(ctx, spec)
		if err != nil {
			if isNotFound(err) {
				c.metrics.ProcessStartFailed(c.id, procmgr.StartFailureSpawn)
				return fleeterr.ErrExecutableNotFound(string(c.id), c.launch.Executable, err)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("failed to spawn process", "error", err)
			lastErr = err
			failure = procmgr.StartFailureSpawn
			continue
		}

		logger = logger.With("pid", h.Pid())
		logger.Debug("process spawned, checking it stays up", "delay", c.timing.StartupCheckDelay)

		exited, err := waitExit(ctx, h, c.timing.StartupCheckDelay)
		if err != nil {
			_ = h.Kill()
			return err
		}
		if exited {
			logger.Warn("process exited immediately", "exit_error", h.ExitErr())
			lastErr = h.ExitErr()
			failure = procmgr.StartFailureExitedImmediately
			continue
		}

		if existing, ok := c.registry.Insert(c.id, h); !ok {
			_ = h.Kill()
			c.metrics.ProcessStartFailed(c.id, procmgr.StartFailureDuplicate)
			return fleeterr.ErrDuplicateStart(string(c.id), existing.Pid())
		}
		c.metrics.RegistrySize(c.registry.Len())

		if err := c.awaitHealthy(ctx, h, logger); err != nil {
			return err
		}

		c.metrics.ProcessStarted(c.id, attempt)
		logger.Info("process started")
		return nil
	}

	c.metrics.ProcessStartFailed(c.id, failure)
	return fleeterr.ErrProcessStartFailed(string(c.id), c.timing.StartAttempts, lastErr)
}

func (c *Controller) awaitHealthy(ctx context.Context, h procmgr.Handle, logger *slog.Logger) error {
	for check := 1; check <= c.timing.SlowStartAttempts; check++ {
		if c.AllAlive(ctx) {
			return nil
		}
		if !h.Alive() {
			c.registry.RemoveIf(c.id, h)
			c.metrics.ProcessStartFailed(c.id, procmgr.StartFailureCrashed)
			logger.Warn("process died while starting", "exit_error", h.ExitErr())
			return fleeterr.ErrProcessCrashed(string(c.id), h.Pid()).WithCause(h.ExitErr())
		}
		if check == c.timing.SlowStartAttempts {
			break
		}

		logger.Debug("waiting for process to become healthy", "check", check)
		exited, err := waitExit(ctx, h, c.timing.SlowStartDelay)
		if err != nil {
			_ = h.Kill()
			c.registry.RemoveIf(c.id, h)
			return err
		}
		if exited {
			c.registry.RemoveIf(c.id, h)
			c.metrics.ProcessStartFailed(c.id, procmgr.StartFailureCrashed)
			logger.Warn("process died while starting", "exit_error", h.ExitErr())
			return fleeterr.ErrProcessCrashed(string(c.id), h.Pid()).WithCause(h.ExitErr())
		}
	}

	if c.timing.SlowStartAttempts == 0 {
		return nil
	}

	logger.Warn("process never became healthy, killing it", "checks", c.timing.SlowStartAttempts)
	_ = h.Kill()
	c.registry.RemoveIf(c.id, h)
	c.metrics.ProcessStartFailed(c.id, procmgr.StartFailureUnhealthy)
	return fleeterr.ErrHealthCheckFailed(string(c.id), c.timing.SlowStartAttempts)
}

// StopRequest asks the process to finish and returns without waiting. The
// identity leaves the registry immediately. With skipIfNotAlive, nothing
// tracked and no endpoint answering, no marker is created and the result is
// finished and not accepted.
func (c *Controller) StopRequest(ctx context.Context, skipIfNotAlive bool) command.Command {
	h, tracked := c.registry.Remove(c.id)
	c.metrics.RegistrySize(c.registry.Len())
	if tracked && !h.Alive() {
		h = nil
	}

	if skipIfNotAlive && h == nil && !c.AnyAlive(ctx) {
		c.logger.Debug("not running, nothing to stop")
		c.metrics.ProcessStopped(c.id, procmgr.StopOutcomeSkipped, 0)
		return command.Done(false)
	}

	requested := time.Now()
	forced := false

	retry := command.NewRetry(command.RetryPolicy{
		Attempts: c.timing.StopAttempts,
		Delay:    c.timing.StopRetryDelay,
		Settled: func() (bool, bool) {
			if h != nil && !h.Alive() {
				return true, true
			}
			return false, false
		},
		Exhausted: func() command.Command {
			if h == nil || !h.Alive() {
				c.logger.Warn("stop request was not accepted", "attempts", c.timing.StopAttempts)
				return command.Done(h != nil)
			}
			forced = true
			c.logger.Warn("process ignored stop requests, killing it",
				"pid", h.Pid(), "attempts", c.timing.StopAttempts,
				"error", fleeterr.ErrForcedStop(string(c.id), c.timing.StopAttempts))
			if err := h.Kill(); err != nil {
				c.logger.Warn("kill failed", "pid", h.Pid(), "error", err)
			}
			return command.After(c.timing.KillGraceDelay, false)
		},
	}, func(attempt int) command.Command {
		c.logger.Debug("requesting stop", "attempt", attempt)
		opts := []command.SignalOption{command.WithLogger(c.logger), command.WithMetrics(c.metrics)}
		if h != nil {
			opts = append(opts, command.WithHandle(h))
		}
		return command.NewSignal(c.transport, command.SignalConfig{
			Command:          signal.CommandFinish,
			Port:             c.launch.CommandPort(),
			Timeout:          c.timing.SignalTimeout,
			DelayAfterAccept: c.timing.DelayAfterAccept,
		}, opts...)
	})

	return command.NewComposite(retry).OnFinish(func(cmp *command.Composite) {
		outcome := procmgr.StopOutcomeRejected
		switch {
		case forced:
			outcome = procmgr.StopOutcomeForced
		case cmp.Accepted():
			outcome = procmgr.StopOutcomeAccepted
		}
		c.metrics.ProcessStopped(c.id, outcome, time.Since(requested))
		c.logger.Info("stop finished", "outcome", outcome.String(), "attempts", retry.Attempts())
	})
}

// RestartRequest stops then starts the process. With skipIfAlive and every
// endpoint healthy it returns an accepted, finished command. The start runs
// in its own goroutine once the stop finished.
func (c *Controller) RestartRequest(ctx context.Context, skipIfAlive bool) command.Command {
	if skipIfAlive && c.AllAlive(ctx) {
		c.logger.Debug("already running, restart skipped")
		return command.Done(true)
	}

	return command.NewSequence(
		c.StopRequest(ctx, true),
		command.NewFunc(func() error {
			return c.Start(ctx)
		}),
	)
}

// SignalRequest issues an arbitrary worker command marker on the command port
func (c *Controller) SignalRequest(name string) command.Command {
	opts := []command.SignalOption{command.WithLogger(c.logger), command.WithMetrics(c.metrics)}
	if h, ok := c.registry.Get(c.id); ok && h.Alive() {
		opts = append(opts, command.WithHandle(h))
	}
	return command.NewSignal(c.transport, command.SignalConfig{
		Command:          name,
		Port:             c.launch.CommandPort(),
		Timeout:          c.timing.SignalTimeout,
		DelayAfterAccept: c.timing.DelayAfterAccept,
	}, opts...)
}

var (
	errEndpointDown = errors.New("endpoint down")
	errEndpointUp   = errors.New("endpoint up")
)

// AllAlive reports whether every endpoint answers its health check
func (c *Controller) AllAlive(ctx context.Context) bool {
	if len(c.launch.Endpoints) == 0 {
		return false
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ep := range c.launch.Endpoints {
		g.Go(func() error {
			if !c.health.Alive(gctx, ep) {
				return errEndpointDown
			}
			return nil
		})
	}
	return g.Wait() == nil
}

// AnyAlive reports whether at least one endpoint answers its health check
func (c *Controller) AnyAlive(ctx context.Context) bool {
	g, gctx := errgroup.WithContext(ctx)
	for _, ep := range c.launch.Endpoints {
		g.Go(func() error {
			if c.health.Alive(gctx, ep) {
				return errEndpointUp
			}
			return nil
		})
	}
	return errors.Is(g.Wait(), errEndpointUp)
}

// waitExit waits up to d for h to exit. It reports whether it did.
func waitExit(ctx context.Context, h procmgr.Handle, d time.Duration) (bool, error) {
	if d <= 0 {
		return !h.Alive(), nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-h.Exited():
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission)
}
