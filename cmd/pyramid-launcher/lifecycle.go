package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jrepp/pyramid-fleet/pkg/command"
	"github.com/jrepp/pyramid-fleet/pkg/config"
	"github.com/jrepp/pyramid-fleet/pkg/launcher"
)

func newStartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start <projectRoot> <serverConfigFile>",
		Short: "Start the worker groups and the proxy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.launcher(args, nil)
			if err != nil {
				return err
			}
			defer l.Close()

			ctx := cmd.Context()
			switch a.opts.groupID {
			case "":
				err = l.StartAll(ctx, a.opts.checkAlive)
			case config.ProxyKey:
				err = l.StartProxy(ctx, a.opts.checkAlive)
			default:
				err = l.StartGroup(ctx, a.opts.groupID, a.opts.checkAlive)
			}
			if err != nil {
				return err
			}

			a.ui.Success("started " + a.target())
			return nil
		},
	}
}

func newStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <projectRoot> <serverConfigFile>",
		Short: "Ask the worker groups and the proxy to shut down",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.launcher(args, nil)
			if err != nil {
				return err
			}
			defer l.Close()

			ctx := cmd.Context()
			return a.drive(ctx, l, "stop", func() (command.Command, error) {
				switch a.opts.groupID {
				case "":
					return l.StopAllRequest(ctx, a.opts.checkAlive), nil
				case config.ProxyKey:
					return l.StopProxyRequest(ctx, a.opts.checkAlive)
				default:
					return l.StopGroupRequest(ctx, a.opts.groupID, a.opts.checkAlive)
				}
			})
		},
	}
}

func newRestartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <projectRoot> <serverConfigFile>",
		Short: "Stop and start the worker groups and the proxy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.launcher(args, nil)
			if err != nil {
				return err
			}
			defer l.Close()

			ctx := cmd.Context()
			return a.drive(ctx, l, "restart", func() (command.Command, error) {
				switch a.opts.groupID {
				case "":
					return l.RestartAllRequest(ctx, a.opts.checkAlive), nil
				case config.ProxyKey:
					return l.RestartProxyRequest(ctx, a.opts.checkAlive)
				default:
					return l.RestartGroupRequest(ctx, a.opts.groupID, a.opts.checkAlive)
				}
			})
		},
	}
}

// drive checks the commands folder, builds the request and waits for it
func (a *app) drive(ctx context.Context, l *launcher.Launcher, op string, build func() (command.Command, error)) error {
	if err := l.Ready(); err != nil {
		return err
	}

	req, err := build()
	if err != nil {
		return err
	}

	accepted, err := command.WaitFor(ctx, req, l.PollInterval())
	if err != nil {
		return err
	}

	a.ui.Outcome(op, a.target(), accepted)
	return nil
}
