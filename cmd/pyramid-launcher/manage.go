package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jrepp/pyramid-fleet/pkg/manager"
	"github.com/jrepp/pyramid-fleet/pkg/procmgr"
)

const shutdownTimeout = 5 * time.Second

func newManageCmd(a *app) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "manage <projectRoot> <serverConfigFile>",
		Short: "Start the fleet and keep it alive until interrupted",
		Long: `manage starts every target, then revives dead groups in the background.
On SIGINT or SIGTERM it stops the reviving loop and shuts the fleet down.

The manager serves /metrics, /health and /status on --metrics-addr.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			collector := procmgr.NewPrometheusMetricsCollector("")

			l, err := a.launcher(args, collector)
			if err != nil {
				return err
			}
			defer l.Close()

			if err := l.Ready(); err != nil {
				return err
			}

			mgr := manager.New(l, manager.WithLogger(a.logger), manager.WithMetrics(collector))

			srv := &http.Server{
				Addr:              metricsAddr,
				Handler:           mgr.Handler(collector.Registry()),
				ReadHeaderTimeout: shutdownTimeout,
			}

			ctx := cmd.Context()
			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				a.logger.Info("manager http server listening", "addr", metricsAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("manager http server: %w", err)
				}
				return nil
			})

			g.Go(func() error {
				if err := mgr.StartAll(gctx); err != nil {
					a.ui.Warning("not every target started: " + err.Error())
				} else {
					a.ui.Success("fleet started, reviving every " + l.Config().Reviver.Interval.String())
				}

				<-gctx.Done()
				a.logger.Info("shutting down fleet")

				stopCtx := context.WithoutCancel(ctx)
				accepted, stopErr := mgr.StopAll(stopCtx)

				shutdownCtx, cancel := context.WithTimeout(stopCtx, shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.logger.Warn("manager http server shutdown", "error", err)
				}

				if stopErr != nil {
					return stopErr
				}
				a.ui.Outcome("stop", "fleet", accepted)
				return nil
			})

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9092", "address of the /metrics, /health and /status server")
	return cmd
}
