// Package manager keeps a fleet running: it starts every target, then
// periodically restarts whatever died until it is asked to stop.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jrepp/pyramid-fleet/pkg/command"
	"github.com/jrepp/pyramid-fleet/pkg/config"
	"github.com/jrepp/pyramid-fleet/pkg/controller"
	"github.com/jrepp/pyramid-fleet/pkg/fleeterr"
	"github.com/jrepp/pyramid-fleet/pkg/procmgr"
)

// Fleet is the part of the launcher the manager drives
type Fleet interface {
	Config() *config.Config
	PollInterval() time.Duration
	StartAll(ctx context.Context, skipAlreadyAlive bool) error
	StopAllRequest(ctx context.Context, skipNotAlive bool) command.Command
	RestartGroupRequest(ctx context.Context, id string, skipAlreadyAlive bool) (command.Command, error)
	RestartProxyRequest(ctx context.Context, skipAlreadyAlive bool) (command.Command, error)
	Status(ctx context.Context) []controller.Status
}

// Option configures a ServersManager
type Option func(*ServersManager)

// WithLogger sets the manager's logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *ServersManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records revival passes
func WithMetrics(metrics procmgr.MetricsCollector) Option {
	return func(m *ServersManager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithInterval overrides the configured reviving interval
func WithInterval(d time.Duration) Option {
	return func(m *ServersManager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// ServersManager starts the fleet and revives dead targets in the
// background until StopAll
type ServersManager struct {
	fleet       Fleet
	interval    time.Duration
	reviveProxy bool
	logger      *slog.Logger
	metrics     procmgr.MetricsCollector

	mu       sync.Mutex
	cond     *sync.Cond
	started  bool
	shutdown bool
	active   bool
	passes   int
	wake     chan struct{}

	// abandoned holds targets whose restart failed with a fatal error
	abandoned map[string]bool
}

// New creates a manager for fleet. The reviving interval and the proxy
// switch come from the fleet configuration.
func New(fleet Fleet, opts ...Option) *ServersManager {
	cfg := fleet.Config()
	m := &ServersManager{
		fleet:       fleet,
		interval:    cfg.Reviver.Interval,
		reviveProxy: cfg.Reviver.ReviveProxy && cfg.Proxy != nil,
		logger:      slog.Default(),
		metrics:     procmgr.NewNoopMetricsCollector(),
		wake:        make(chan struct{}, 1),
		abandoned:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "manager")
	m.cond = sync.NewCond(&m.mu)
	return m
}

// StartAll starts every target, then the reviving loop. The loop is started
// even when some targets failed so it can bring them up later; the first
// start error is returned.
func (m *ServersManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fleeterr.ErrInternal("servers manager already started")
	}
	if m.shutdown {
		m.mu.Unlock()
		return fleeterr.ErrInternal("servers manager already stopped")
	}
	m.started = true
	// StopAll waits for the initial start as it waits for a revival pass
	m.active = true
	m.mu.Unlock()

	err := m.fleet.StartAll(ctx, false)
	if err != nil {
		m.logger.Warn("not every target started, the reviving loop will retry", "error", err)
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		m.markInactive()
		return err
	}
	m.mu.Unlock()

	go m.loop(ctx)
	m.logger.Info("reviving loop started", "interval", m.interval, "revive_proxy", m.reviveProxy)
	return err
}

// Active reports whether the reviving loop is running
func (m *ServersManager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Passes returns how many revival passes completed
func (m *ServersManager) Passes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.passes
}

// StopAll stops the reviving loop, waits until it is idle, then asks every
// target to finish and waits for the outcome. A revival pass in flight is
// allowed to complete first, so no restart races the final sweep.
func (m *ServersManager) StopAll(ctx context.Context) (bool, error) {
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}

	m.mu.Lock()
	for m.active {
		m.cond.Wait()
	}
	m.mu.Unlock()

	m.logger.Info("reviving loop stopped, stopping every target")
	return command.WaitFor(ctx, m.fleet.StopAllRequest(ctx, false), m.fleet.PollInterval())
}

func (m *ServersManager) markInactive() {
	m.mu.Lock()
	m.active = false
	m.cond.Broadcast()
	m.mu.Unlock()
}

func (m *ServersManager) loop(ctx context.Context) {
	defer m.markInactive()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("reviving loop crashed, self-healing disabled", "panic", r)
		}
	}()

	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("reviving loop cancelled", "error", ctx.Err())
			return
		case <-m.wake:
		case <-timer.C:
		}

		m.mu.Lock()
		shutdown := m.shutdown
		m.mu.Unlock()
		if shutdown {
			return
		}

		m.revive(ctx)

		m.mu.Lock()
		m.passes++
		m.mu.Unlock()

		timer.Reset(m.interval)
	}
}

// revive runs one pass. Errors and panics are contained here so the loop
// keeps going.
func (m *ServersManager) revive(ctx context.Context) {
	revived := 0
	var passErr error

	defer func() {
		if r := recover(); r != nil {
			passErr = fmt.Errorf("revival pass panicked: %v", r)
			m.logger.Error("revival pass failed", "error", passErr)
		}
		m.metrics.RevivalPass(revived, passErr)
	}()

	var (
		children []command.Command
		ids      []string
	)
	add := func(id string, cmd command.Command, err error) {
		m.mu.Lock()
		skip := m.abandoned[id]
		m.mu.Unlock()
		if skip {
			return
		}
		if err != nil {
			m.logger.Warn("cannot revive target", "group", id, "error", err)
			passErr = err
			m.abandonIfFatal(id, err)
			return
		}
		if !cmd.Finished() {
			revived++
		}
		children = append(children, cmd)
		ids = append(ids, id)
	}

	for _, id := range m.fleet.Config().GroupIDs() {
		cmd, err := m.fleet.RestartGroupRequest(ctx, id, true)
		add(id, cmd, err)
	}
	if m.reviveProxy {
		cmd, err := m.fleet.RestartProxyRequest(ctx, true)
		add(config.ProxyKey, cmd, err)
	}

	if revived == 0 {
		m.logger.Debug("every target alive")
		return
	}

	m.logger.Info("reviving dead targets", "count", revived)
	if _, err := command.WaitFor(ctx, command.NewComposite(children...), m.fleet.PollInterval()); err != nil {
		passErr = err
		m.logger.Warn("revival pass finished with errors", "error", err)
	}

	for i, cmd := range children {
		if err := cmd.Err(); err != nil {
			m.abandonIfFatal(ids[i], err)
		}
	}
}

// abandonIfFatal stops reviving a target whose failure retrying cannot fix,
// such as a missing executable
func (m *ServersManager) abandonIfFatal(id string, err error) {
	if !fleeterr.GetErrorCode(err).Fatal() {
		return
	}
	m.mu.Lock()
	m.abandoned[id] = true
	m.mu.Unlock()
	m.logger.Error("target cannot be revived, giving up on it", "group", id, "error", err)
}

// Abandoned returns the targets the reviving loop gave up on
func (m *ServersManager) Abandoned() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.abandoned))
	for id := range m.abandoned {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
