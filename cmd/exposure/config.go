package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/exposure-tracker/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "sync",
	Short:   "Show the effective configuration",
	Long: `Show the effective configuration as YAML, after defaults, the config
file, EXPOSURE_* environment variables and flags are applied.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput {
			return printJSON(cfg)
		}
		if used := v.ConfigFileUsed(); used != "" {
			fmt.Fprintln(stdout, ui.RenderMuted("# "+used))
		}
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = stdout.Write(out)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
