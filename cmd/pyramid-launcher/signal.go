package main

import (
	"github.com/spf13/cobra"

	"github.com/jrepp/pyramid-fleet/pkg/command"
	"github.com/jrepp/pyramid-fleet/pkg/fleeterr"
)

func newSignalCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "signal <command> <projectRoot> <serverConfigFile>",
		Short: "Send a worker command such as reload to one group",
		Long: `signal drops a .command.<port>.<command> marker for the group selected with
--groupId and waits until the worker consumes it or the signal times out.`,
		Example: "  pyramid-launcher signal reload /srv/pyramid servers.yaml --groupId=g1",
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.opts.groupID == "" {
				return fleeterr.ErrInvalidConfiguration("groupId", "", "signal needs a target").
					WithSuggestion("Pass --groupId=<id> or --groupId=PROXY")
			}

			l, err := a.launcher(args[1:], nil)
			if err != nil {
				return err
			}
			defer l.Close()

			ctx := cmd.Context()
			return a.drive(ctx, l, args[0], func() (command.Command, error) {
				return l.SignalGroupRequest(ctx, a.opts.groupID, args[0])
			})
		},
	}
}
