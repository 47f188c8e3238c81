package main

import (
	"github.com/spf13/cobra"

	"github.com/jtienhaara/musaico-sub031/internal/config"
)

func init() {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `The config command prints the configuration vmctl runs with: the
built-in defaults overlaid with --config, if given.

Example:
  vmctl config
  vmctl config -c vm.yaml --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cfg)
		},
	}
	rootCmd.AddCommand(cmd)
}

func runConfig(c config.Config) error {
	if jsonOut {
		return printJSON(c)
	}
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	printInfo("%s", data)
	return nil
}
