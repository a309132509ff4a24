package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mschirtzinger/exposure-tracker/internal/bgsync"
	"github.com/mschirtzinger/exposure-tracker/internal/cache"
	"github.com/mschirtzinger/exposure-tracker/internal/hub"
	"github.com/mschirtzinger/exposure-tracker/internal/proxy"
	"github.com/mschirtzinger/exposure-tracker/internal/remote"
	"github.com/mschirtzinger/exposure-tracker/internal/session"
	"github.com/mschirtzinger/exposure-tracker/internal/state"
	"github.com/mschirtzinger/exposure-tracker/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run the remote store, cache proxy and page hub",
	Long: `Run every long-lived piece of the tracker in one process:

- the remote store over HTTP (remote.addr), backed by SQLite (remote.db)
- a static file server for the app shell, when static.dir is set
- the cache proxy, which installs the asset manifest and serves pages
  through the page hub even while the origin is down
- the page hub (hub.addr), a WebSocket endpoint at /ws that speaks the
  page protocol: SKIP_WAITING, SYNC_REQUEST, SYNC_REGISTERED,
  BACKGROUND_SYNC, CONTROLLER_CHANGE and SNAPSHOT
- a connectivity monitor that fires pending background syncs once the
  remote store is reachable again

With --user set, the user's data is mirrored and every change is pushed
to connected pages as a SNAPSHOT message.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return runServe(ctx)
	},
}

func init() {
	serveCmd.Flags().String("hub-addr", "", "page hub listen address (overrides hub.addr)")
	serveCmd.Flags().String("remote-addr", "", "remote store listen address (overrides remote.addr)")
	_ = v.BindPFlag("hub.addr", serveCmd.Flags().Lookup("hub-addr"))
	_ = v.BindPFlag("remote.addr", serveCmd.Flags().Lookup("remote-addr"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	// Remote store
	store, err := remote.OpenSQLite(cfg.Remote.DB, logs.Logger("store"))
	if err != nil {
		return err
	}
	defer store.Close()

	storeServer := remote.NewServer(store, &remote.ServerConfig{
		Addr:   cfg.Remote.Addr,
		Logger: logs.Logger("remote"),
	})
	if err := storeServer.Start(); err != nil {
		return fmt.Errorf("failed to start remote store: %w", err)
	}
	defer storeServer.Stop()

	// Static origin
	if cfg.Static.Dir != "" {
		stopStatic, err := startStatic(cfg.Static.Dir, cfg.Static.Addr, logs.Logger("static"))
		if err != nil {
			return err
		}
		defer stopStatic()
	}

	// Cache proxy
	storage, err := cache.Open(cfg.Cache.DB, logs.Logger("cache"))
	if err != nil {
		return err
	}
	defer storage.Close()

	p, err := newProxy(storage)
	if err != nil {
		return err
	}
	defer p.Wait()

	// Page hub
	pages := hub.NewServer(&hub.Config{
		Addr:     cfg.Hub.Addr,
		Fallback: p.Handler(),
		Logger:   logs.Logger("hub"),
	})
	p.SetClients(pages)

	coordinator := bgsync.NewCoordinator(pages, logs.Logger("bgsync"), cfg.Sync.Tag)

	pages.OnMessage(hub.KindSkipWaiting, func(ctx context.Context, msg hub.Message, reply hub.Reply) {
		if err := p.SkipWaiting(ctx); err != nil {
			logs.Logger("hub").Printf("Warning: skip waiting failed: %v", err)
		}
	})
	pages.OnMessage(hub.KindSyncRequest, coordinator.HandleSyncRequest)
	pages.OnConnect(func(page *hub.Page) {
		if version := p.ActiveVersion(); version != "" {
			msg, _ := hub.NewMessage(hub.KindControllerChange, version, nil)
			_ = pages.Send(page, msg)
		}
	})
	pages.OnDisconnect(p.HandleDisconnect)

	if err := pages.Start(); err != nil {
		return fmt.Errorf("failed to start page hub: %w", err)
	}
	defer pages.Stop()

	// Install the current manifest
	manifest := proxy.DefaultManifest()
	manifest.Version = cfg.Cache.Version
	manifest.Shell = cfg.Cache.Shell
	if cfg.Cache.Manifest != "" {
		if manifest, err = proxy.LoadManifest(cfg.Cache.Manifest); err != nil {
			return err
		}
		watcher, err := proxy.NewManifestWatcher(p, cfg.Cache.Manifest)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
	}
	if err := p.Install(ctx, manifest); err != nil {
		// The origin may simply be down; the previous version keeps serving.
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("⚠"), err)
	}

	// Mirror the user's data for pages
	if cfg.User != "" {
		stopMirror, err := startMirror(ctx, p, pages, coordinator)
		if err != nil {
			return err
		}
		defer stopMirror()
	}

	status, err := p.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s Remote store on http://%s\n", ui.RenderPass("✓"), storeServer.Addr())
	fmt.Fprintf(stdout, "%s Page hub on http://%s (WebSocket ws://%s/ws)\n", ui.RenderPass("✓"), pages.Addr(), pages.Addr())
	fmt.Fprintf(stdout, "%s Cache %s, active version %s\n", ui.RenderPass("✓"), status.State, orNone(status.Active))
	fmt.Fprintln(stdout, ui.RenderMuted("Press Ctrl+C to stop..."))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		monitor := bgsync.NewMonitor(coordinator, bgsync.HTTPProbe(&http.Client{Timeout: 5 * time.Second}, cfg.Remote.URL+"/health"), cfg.Sync.ProbeInterval)
		return monitor.Run(gctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	fmt.Fprintln(stdout, "\nShutting down...")
	return nil
}

// startMirror signs the configured user in through the proxy and pushes
// every local change to connected pages. Fired syncs re-read the user's
// data. The returned function signs out.
func startMirror(ctx context.Context, p *proxy.Proxy, pages *hub.Server, coordinator *bgsync.Coordinator) (func(), error) {
	client, err := remote.NewHTTPStore(cfg.Remote.URL, &http.Client{Transport: p}, logs.Logger("remote"))
	if err != nil {
		return nil, err
	}

	local := state.New(nowFunc)
	logger := logs.Logger("sync")
	snapshot := func(kind string, data any) {
		msg, err := hub.NewMessage(hub.KindSnapshot, kind, data)
		if err != nil {
			logger.Printf("Warning: %v", err)
			return
		}
		if err := pages.Broadcast(msg); err != nil && !errors.Is(err, hub.ErrStopped) {
			logger.Printf("Warning: snapshot broadcast failed: %v", err)
		}
	}
	local.OnGoals(func(e state.GoalsChanged) { snapshot("goals", e.Goals) })
	local.OnExposures(func(e state.ExposuresChanged) { snapshot("exposures", e.Exposures) })
	local.OnSummaries(func(e state.SummariesChanged) { snapshot("summaries", e.Summaries) })
	local.OnReminder(func(e state.ReminderChanged) { snapshot("reminder", e.Due) })

	mgr := session.NewManager(client, local, logger)
	if err := mgr.SignIn(ctx, cfg.User); err != nil {
		_ = client.Close()
		return nil, err
	}
	coordinator.OnSync(func(ctx context.Context, tag string) error {
		return mgr.Reattach(ctx)
	})
	return func() {
		mgr.SignOut()
		_ = client.Close()
	}, nil
}

// startStatic serves dir on addr and returns a stop function.
func startStatic(dir, addr string, logger *log.Logger) (func(), error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("failed to open static dir: %w", err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           http.FileServer(http.Dir(dir)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("Static server error: %v", err)
		}
	}()
	logger.Printf("Serving %s on http://%s", dir, ln.Addr())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
