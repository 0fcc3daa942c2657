package launcher

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jrepp/pyramid-fleet/pkg/command"
	"github.com/jrepp/pyramid-fleet/pkg/config"
	"github.com/jrepp/pyramid-fleet/pkg/controller"
	"github.com/jrepp/pyramid-fleet/pkg/fleeterr"
	"github.com/jrepp/pyramid-fleet/pkg/procmgr"
	"github.com/jrepp/pyramid-fleet/pkg/signal"
)

// Launcher orchestrates every process of the fleet: the worker groups in
// configuration order, then the proxy.
type Launcher struct {
	cfg       *config.Config
	groups    []*controller.Controller
	byID      map[string]*controller.Controller
	proxy     *controller.Controller
	transport signal.Transport
	events    EventPublisher
	logger    *slog.Logger
	tracer    trace.Tracer
	runID     string
}

const tracerName = "github.com/jrepp/pyramid-fleet/pkg/launcher"

func newLauncher(cfg *config.Config, deps controller.Deps, events EventPublisher, runID string) *Launcher {
	l := &Launcher{
		cfg:       cfg,
		byID:      make(map[string]*controller.Controller),
		transport: deps.Transport,
		events:    events,
		logger:    deps.Logger,
		tracer:    otel.Tracer(tracerName),
		runID:     runID,
	}

	for _, g := range cfg.Groups {
		c := controller.New(procmgr.ProcessID(g.ID), g.LaunchConfig, cfg.Timing, deps)
		l.groups = append(l.groups, c)
		l.byID[g.ID] = c
	}
	if cfg.Proxy != nil {
		l.proxy = controller.New(procmgr.ProcessID(config.ProxyKey), cfg.Proxy.LaunchConfig, cfg.Timing, deps)
	}

	return l
}

// Config returns the fleet configuration
func (l *Launcher) Config() *config.Config {
	return l.cfg
}

// RunID identifies this launcher instance in logs, events and traces
func (l *Launcher) RunID() string {
	return l.runID
}

// PollInterval is how often callers should poll the returned commands
func (l *Launcher) PollInterval() time.Duration {
	return l.cfg.Timing.PollInterval
}

// Ready checks that requests can reach workers. A missing commands folder is
// a configuration error.
func (l *Launcher) Ready() error {
	if err := l.transport.Ready(); err != nil {
		folder := l.cfg.SystemCommandsFolder
		return fleeterr.ErrCommandsFolderMissing(folder, err)
	}
	return nil
}

// Close releases the transport
func (l *Launcher) Close() error {
	if c, ok := l.transport.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (l *Launcher) targets() []*controller.Controller {
	targets := make([]*controller.Controller, 0, len(l.groups)+1)
	targets = append(targets, l.groups...)
	if l.proxy != nil {
		targets = append(targets, l.proxy)
	}
	return targets
}

func (l *Launcher) group(id string) (*controller.Controller, error) {
	c, ok := l.byID[id]
	if !ok {
		return nil, fleeterr.ErrUnknownGroup(id, l.knownTargets())
	}
	return c, nil
}

func (l *Launcher) proxyController() (*controller.Controller, error) {
	if l.proxy == nil {
		return nil, fleeterr.ErrUnknownGroup(config.ProxyKey, l.knownTargets()).
			WithSuggestion("Add a proxy section to the server configuration")
	}
	return l.proxy, nil
}

func (l *Launcher) knownTargets() []string {
	known := l.cfg.GroupIDs()
	if l.proxy != nil {
		known = append(known, config.ProxyKey)
	}
	return known
}

func (l *Launcher) publish(ctx context.Context, eventType, message string, id procmgr.ProcessID, extra ...string) {
	metadata := map[string]string{"group": string(id), "run_id": l.runID}
	for i := 0; i+1 < len(extra); i += 2 {
		metadata[extra[i]] = extra[i+1]
	}
	if err := l.events.ReportLifecycleEvent(ctx, eventType, message, metadata); err != nil {
		l.logger.Debug("failed to publish lifecycle event", "event", eventType, "error", err)
	}
}

// StartAll starts every group then the proxy, one at a time. A failed target
// does not stop the others; the first error is returned once all were tried.
func (l *Launcher) StartAll(ctx context.Context, skipAlreadyAlive bool) error {
	ctx, span := l.tracer.Start(ctx, "launcher.StartAll", trace.WithAttributes(
		attribute.String("run_id", l.runID),
		attribute.Bool("skip_already_alive", skipAlreadyAlive),
	))
	defer span.End()

	var firstErr error
	started, skipped, failed := 0, 0, 0

	for _, c := range l.targets() {
		ok, err := l.start(ctx, c, skipAlreadyAlive)
		switch {
		case err != nil:
			failed++
			if firstErr == nil {
				firstErr = err
			}
		case ok:
			started++
		default:
			skipped++
		}
	}

	span.SetAttributes(
		attribute.Int("started", started),
		attribute.Int("skipped", skipped),
		attribute.Int("failed", failed),
	)
	if firstErr != nil {
		span.RecordError(firstErr)
		span.SetStatus(codes.Error, "not every target started")
	}

	l.logger.Info("start finished", "started", started, "skipped", skipped, "failed", failed)
	return firstErr
}

// StartGroup starts one group
func (l *Launcher) StartGroup(ctx context.Context, id string, skipAlreadyAlive bool) error {
	c, err := l.group(id)
	if err != nil {
		return err
	}
	_, err = l.start(ctx, c, skipAlreadyAlive)
	return err
}

// StartProxy starts the proxy
func (l *Launcher) StartProxy(ctx context.Context, skipAlreadyAlive bool) error {
	c, err := l.proxyController()
	if err != nil {
		return err
	}
	_, err = l.start(ctx, c, skipAlreadyAlive)
	return err
}

// start reports whether the target was started rather than skipped
func (l *Launcher) start(ctx context.Context, c *controller.Controller, skipAlreadyAlive bool) (bool, error) {
	ctx, span := l.tracer.Start(ctx, "launcher.Start", trace.WithAttributes(attribute.String("group", string(c.ID()))))
	defer span.End()

	if skipAlreadyAlive && c.AllAlive(ctx) {
		span.SetAttributes(attribute.Bool("skipped", true))
		l.publish(ctx, EventSkipped, "already running", c.ID())
		return false, nil
	}

	l.publish(ctx, EventStarting, "starting", c.ID())
	if err := c.Start(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start failed")
		l.logger.Error("failed to start", "group", string(c.ID()), "error", err)
		l.publish(ctx, EventFailed, "start failed", c.ID(), "error", err.Error())
		return false, err
	}
	l.publish(ctx, EventReady, "started", c.ID())
	return true, nil
}

// StopAllRequest asks every group and the proxy to finish. It returns at
// once; drive the command to wait for the outcome.
func (l *Launcher) StopAllRequest(ctx context.Context, skipNotAlive bool) command.Command {
	targets := l.targets()
	children := make([]command.Command, 0, len(targets))
	for _, c := range targets {
		children = append(children, l.stopRequest(ctx, c, skipNotAlive))
	}
	return l.summarize(ctx, "stop", command.NewComposite(children...))
}

// StopGroupRequest asks one group to finish
func (l *Launcher) StopGroupRequest(ctx context.Context, id string, skipNotAlive bool) (command.Command, error) {
	c, err := l.group(id)
	if err != nil {
		return nil, err
	}
	return l.stopRequest(ctx, c, skipNotAlive), nil
}

// StopProxyRequest asks the proxy to finish
func (l *Launcher) StopProxyRequest(ctx context.Context, skipNotAlive bool) (command.Command, error) {
	c, err := l.proxyController()
	if err != nil {
		return nil, err
	}
	return l.stopRequest(ctx, c, skipNotAlive), nil
}

func (l *Launcher) stopRequest(ctx context.Context, c *controller.Controller, skipNotAlive bool) command.Command {
	l.publish(ctx, EventStopping, "stop requested", c.ID())
	cmd := c.StopRequest(ctx, skipNotAlive)
	return command.NewComposite(cmd).OnFinish(func(cmp *command.Composite) {
		l.publish(ctx, EventStopped, "stop finished", c.ID(), "accepted", strconv.FormatBool(cmp.Accepted()))
	})
}

// RestartAllRequest restarts every group and the proxy
func (l *Launcher) RestartAllRequest(ctx context.Context, skipAlreadyAlive bool) command.Command {
	targets := l.targets()
	children := make([]command.Command, 0, len(targets))
	for _, c := range targets {
		children = append(children, l.restartRequest(ctx, c, skipAlreadyAlive))
	}
	return l.summarize(ctx, "restart", command.NewComposite(children...))
}

// RestartGroupRequest restarts one group
func (l *Launcher) RestartGroupRequest(ctx context.Context, id string, skipAlreadyAlive bool) (command.Command, error) {
	c, err := l.group(id)
	if err != nil {
		return nil, err
	}
	return l.restartRequest(ctx, c, skipAlreadyAlive), nil
}

// RestartProxyRequest restarts the proxy
func (l *Launcher) RestartProxyRequest(ctx context.Context, skipAlreadyAlive bool) (command.Command, error) {
	c, err := l.proxyController()
	if err != nil {
		return nil, err
	}
	return l.restartRequest(ctx, c, skipAlreadyAlive), nil
}

func (l *Launcher) restartRequest(ctx context.Context, c *controller.Controller, skipAlreadyAlive bool) command.Command {
	cmd := c.RestartRequest(ctx, skipAlreadyAlive)
	if cmd.Finished() {
		return cmd
	}
	l.publish(ctx, EventRestarting, "restart requested", c.ID())
	return command.NewComposite(cmd).OnFinish(func(cmp *command.Composite) {
		if err := cmp.Err(); err != nil {
			l.publish(ctx, EventFailed, "restart failed", c.ID(), "error", err.Error())
			return
		}
		l.publish(ctx, EventReady, "restarted", c.ID(), "accepted", strconv.FormatBool(cmp.Accepted()))
	})
}

// SignalGroupRequest issues an arbitrary command marker, such as "reload",
// to one target. id may be a group id or the proxy key.
func (l *Launcher) SignalGroupRequest(ctx context.Context, id, name string) (command.Command, error) {
	var (
		c   *controller.Controller
		err error
	)
	if id == config.ProxyKey {
		c, err = l.proxyController()
	} else {
		c, err = l.group(id)
	}
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fleeterr.ErrInvalidConfiguration("command", name, "command name is required")
	}

	l.publish(ctx, EventSignaled, "command requested", c.ID(), "command", name)
	return c.SignalRequest(name), nil
}

// Status reports every target in launch order
func (l *Launcher) Status(ctx context.Context) []controller.Status {
	targets := l.targets()
	out := make([]controller.Status, 0, len(targets))
	for _, c := range targets {
		out = append(out, c.Status(ctx))
	}
	return out
}

// summarize logs the outcome of a fleet-wide request and traces it from
// creation to completion
func (l *Launcher) summarize(ctx context.Context, op string, cmp *command.Composite) command.Command {
	_, span := l.tracer.Start(ctx, "launcher."+op, trace.WithAttributes(
		attribute.String("run_id", l.runID),
		attribute.Int("targets", len(cmp.Children())),
	))

	return cmp.OnFinish(func(cmp *command.Composite) {
		defer span.End()

		accepted, rejected := cmp.Counts()
		span.SetAttributes(attribute.Int("accepted", accepted), attribute.Int("rejected", rejected))

		attrs := []any{"operation", op, "accepted", accepted, "rejected", rejected}
		if err := cmp.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, op+" finished with errors")
			l.logger.Warn("fleet request finished with errors", append(attrs, "error", err)...)
			return
		}
		l.logger.Info("fleet request finished", attrs...)
	})
}
