// Command exposure tracks exposure-therapy practice: goals, logged
// exposures and weekly summaries, kept in a remote store and usable
// offline through a local cache proxy.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mschirtzinger/exposure-tracker/internal/config"
	"github.com/mschirtzinger/exposure-tracker/internal/logging"
	"github.com/mschirtzinger/exposure-tracker/internal/ui"
)

var (
	v       = viper.New()
	cfg     *config.Config
	logs    *logging.Factory
	stdout  io.Writer = os.Stdout
	nowFunc           = time.Now

	configPath string
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "exposure",
	Short: "Exposure therapy tracker",
	Long: `Track exposure therapy practice from the terminal.

Goals, exposures and weekly summaries live in a remote store. Every request
goes through a local cache proxy, so recent data stays readable offline.
Run 'exposure serve' to host the store, the proxy and the page hub.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		console := io.Discard
		if verbose || cmd == serveCmd {
			console = os.Stderr
		}
		logs, err = logging.New(logging.Options{
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Console:    console,
		})
		if err != nil {
			return fmt.Errorf("failed to set up logging: %w", err)
		}

		ui.ConfigureColor(stdout)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "data", Title: "Tracking:"},
		&cobra.Group{ID: "sync", Title: "Sync and cache:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/exposure/config.toml)")
	flags.String("user", "", "user id to act as (env EXPOSURE_USER)")
	flags.String("remote", "", "remote store URL (env EXPOSURE_REMOTE_URL)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log activity to stderr")
	flags.BoolVar(&jsonOutput, "json", false, "print JSON instead of tables")

	_ = v.BindPFlag("user", flags.Lookup("user"))
	_ = v.BindPFlag("remote.url", flags.Lookup("remote"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
