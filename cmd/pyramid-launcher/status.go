package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jrepp/pyramid-fleet/pkg/fleeterr"
)

func newStatusCmd(a *app) *cobra.Command {
	var (
		output     string
		showConfig bool
	)

	cmd := &cobra.Command{
		Use:   "status <projectRoot> <serverConfigFile>",
		Short: "Show which targets are running and healthy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.launcher(args, nil)
			if err != nil {
				return err
			}
			defer l.Close()

			if showConfig {
				return l.Config().Dump(a.ui.Out())
			}

			statuses := l.Status(cmd.Context())

			switch output {
			case "table":
				a.ui.KeyValue("project root", l.Config().ProjectRoot)
				a.ui.KeyValue("commands folder", l.Config().SystemCommandsFolder)
				a.ui.Println("")
				a.ui.FleetStatus(statuses)
			case "json":
				enc := json.NewEncoder(a.ui.Out())
				enc.SetIndent("", "  ")
				if err := enc.Encode(statuses); err != nil {
					return fmt.Errorf("encode status: %w", err)
				}
			case "yaml":
				enc := yaml.NewEncoder(a.ui.Out())
				if err := enc.Encode(statuses); err != nil {
					return fmt.Errorf("encode status: %w", err)
				}
				return enc.Close()
			default:
				return fleeterr.ErrInvalidConfiguration("output", output, "unknown output format").
					WithSuggestion("Use table, json or yaml")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
	cmd.Flags().BoolVar(&showConfig, "show-config", false, "print the effective configuration instead")
	return cmd
}
