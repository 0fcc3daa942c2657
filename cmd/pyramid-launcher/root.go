package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/jrepp/pyramid-fleet/cmd/pyramid-launcher/internal/ui"
	"github.com/jrepp/pyramid-fleet/pkg/config"
	"github.com/jrepp/pyramid-fleet/pkg/fleeterr"
	"github.com/jrepp/pyramid-fleet/pkg/launcher"
	"github.com/jrepp/pyramid-fleet/pkg/procmgr"
	"github.com/jrepp/pyramid-fleet/pkg/telemetry"
)

const version = "0.1.0"

type options struct {
	checkAlive  bool
	serviceMode bool
	groupID     string
	debug       bool
	logDir      string
	traces      string
}

// app carries what every subcommand shares
type app struct {
	opts   options
	ui     *ui.UI
	logger *slog.Logger
	stdin  io.Reader
	stderr io.Writer

	shutdownTracing telemetry.ShutdownFunc
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "pyramid-launcher",
		Short: "Control plane for the image-pyramid worker fleet",
		Long: `pyramid-launcher starts, stops and restarts the worker groups and the
reverse proxy described by a server configuration file.

Workers are asked to shut down through marker files in the system commands
folder; a worker that ignores every request is killed.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.logger = a.newLogger()
			slog.SetDefault(a.logger)

			shutdown, err := telemetry.Setup(cmd.Context(), telemetry.Config{
				ServiceName:    "pyramid-launcher",
				ServiceVersion: version,
				Exporter:       a.opts.traces,
				Writer:         a.stderr,
			})
			if err != nil {
				return fleeterr.ErrInvalidConfiguration("trace-exporter", a.opts.traces, "cannot set up tracing").WithCause(err)
			}
			a.shutdownTracing = shutdown
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVar(&a.opts.checkAlive, "checkAlive", false, "skip targets that are already in the requested state")
	flags.BoolVar(&a.opts.serviceMode, "serviceMode", false, "run unattended: JSON logs, no prompt on failure")
	flags.StringVar(&a.opts.groupID, "groupId", "", "act on one group, or "+config.ProxyKey+" for the proxy")
	flags.BoolVar(&a.opts.debug, "debug", false, "enable debug logging")
	flags.StringVar(&a.opts.logDir, "process-log-dir", "", "write each spawned process's output to <dir>/<id>.log")
	flags.StringVar(&a.opts.traces, "trace-exporter", telemetry.ExporterNone, "trace exporter: none or stdout")

	root.AddCommand(
		newStartCmd(a),
		newStopCmd(a),
		newRestartCmd(a),
		newManageCmd(a),
		newStatusCmd(a),
		newSignalCmd(a),
	)
	return root
}

func (a *app) newLogger() *slog.Logger {
	level := slog.LevelInfo
	if a.opts.debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if a.opts.serviceMode {
		return slog.New(slog.NewJSONHandler(a.stderr, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(a.stderr, handlerOpts))
}

// launcher loads <projectRoot> <serverConfigFile> and builds a launcher on it
func (a *app) launcher(args []string, metrics procmgr.MetricsCollector) (*launcher.Launcher, error) {
	cfg, err := config.Load(args[0], args[1])
	if err != nil {
		return nil, err
	}

	b := launcher.NewBuilder(cfg).WithLogger(a.logger)
	if metrics != nil {
		b = b.WithMetrics(metrics)
	}
	if a.opts.logDir != "" {
		b = b.WithProcessLogDir(a.opts.logDir)
	}
	return b.Build()
}

// flushTraces stops the tracer provider installed for this invocation
func (a *app) flushTraces() {
	if a.shutdownTracing == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdownTracing(ctx); err != nil && a.logger != nil {
		a.logger.Warn("flush traces", "error", err)
	}
}

// target names what --groupId selects
func (a *app) target() string {
	if a.opts.groupID == "" {
		return "fleet"
	}
	return a.opts.groupID
}

// fail reports a failed invocation. Interactive runs wait for ENTER so a
// console window opened for the launcher stays readable.
func (a *app) fail(err error) {
	a.ui.Error(err.Error())
	if s := fleeterr.GetSuggestion(err); s != "" {
		a.ui.Subtle("suggestion: " + s)
	}

	if a.opts.serviceMode {
		for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
			fmt.Fprintf(a.stderr, "caused by: %v\n", cause)
		}
		if trace := fleeterr.GetStackTrace(err); trace != "" {
			fmt.Fprintf(a.stderr, "stack trace:\n%s", trace)
		}
		return
	}

	a.ui.Println("Press ENTER to exit")
	_, _ = bufio.NewReader(a.stdin).ReadString('\n')
}
