package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/exposure-tracker/internal/cache"
	"github.com/mschirtzinger/exposure-tracker/internal/hub"
	"github.com/mschirtzinger/exposure-tracker/internal/proxy"
	"github.com/mschirtzinger/exposure-tracker/internal/ui"
)

var cacheCmd = &cobra.Command{
	Use:     "cache",
	GroupID: "sync",
	Short:   "Inspect and manage the offline cache",
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active cache version and stored caches",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		storage, err := cache.Open(cfg.Cache.DB, logs.Logger("cache"))
		if err != nil {
			return err
		}
		defer storage.Close()

		p, err := newProxy(storage)
		if err != nil {
			return err
		}
		status, err := p.Status(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]any{
				"state":  status.State.String(),
				"active": status.Active,
				"caches": status.Caches,
			})
		}

		fmt.Fprintf(stdout, "State:   %s\n", status.State)
		fmt.Fprintf(stdout, "Active:  %s\n", ui.RenderAccent(orNone(status.Active)))
		fmt.Fprintf(stdout, "Caches:\n")
		if len(status.Caches) == 0 {
			fmt.Fprintln(stdout, ui.RenderMuted("  (none)"))
		}
		for _, name := range status.Caches {
			c, err := storage.Open(ctx, name)
			if err != nil {
				return err
			}
			keys, err := c.Keys(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "  %s  %s\n", name, ui.RenderMuted(fmt.Sprintf("%d entries", len(keys))))
		}
		return nil
	},
}

var cacheInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Fetch the app assets and install them as a cache version",
	Long: `Fetch every asset of the manifest from the origin and store it as one cache
version. Nothing is stored unless every asset is fetched. Without pages
connected, the new version is activated at once and older versions are
evicted.

Use this while no server is running; a running server installs on its own
and reinstalls whenever cache.manifest changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		manifest := proxy.DefaultManifest()
		manifest.Version = cfg.Cache.Version
		manifest.Shell = cfg.Cache.Shell
		path, _ := cmd.Flags().GetString("manifest")
		if path == "" {
			path = cfg.Cache.Manifest
		}
		if path != "" {
			m, err := proxy.LoadManifest(path)
			if err != nil {
				return err
			}
			manifest = m
		}

		storage, err := cache.Open(cfg.Cache.DB, logs.Logger("cache"))
		if err != nil {
			return err
		}
		defer storage.Close()

		p, err := newProxy(storage)
		if err != nil {
			return err
		}
		if err := p.Install(ctx, manifest); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s Installed %s (%d assets), active %s\n",
			ui.RenderPass("✓"), manifest.Version, len(manifest.Assets), orNone(p.ActiveVersion()))
		return nil
	},
}

var cacheActivateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Ask the running server to activate its waiting cache version",
	Long: `Send SKIP_WAITING to the running server's page hub. A waiting version is
activated at once; with nothing waiting, the next install activates as soon
as it completes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
		defer cancel()

		conn, _, err := websocket.Dial(ctx, "ws://"+cfg.Hub.Addr+"/ws", nil)
		if err != nil {
			return fmt.Errorf("failed to reach page hub at %s: %w", cfg.Hub.Addr, err)
		}
		defer conn.CloseNow()

		data, _ := json.Marshal(hub.Message{Type: hub.KindSkipWaiting, Timestamp: nowFunc()})
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return err
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")
		fmt.Fprintf(stdout, "%s Skip waiting sent\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	cacheInstallCmd.Flags().String("manifest", "", "asset manifest file, TOML or YAML (default cache.manifest)")

	cacheCmd.AddCommand(cacheStatusCmd, cacheInstallCmd, cacheActivateCmd)
	rootCmd.AddCommand(cacheCmd)
}
