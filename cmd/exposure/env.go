package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/mschirtzinger/exposure-tracker/internal/cache"
	"github.com/mschirtzinger/exposure-tracker/internal/hub"
	"github.com/mschirtzinger/exposure-tracker/internal/proxy"
	"github.com/mschirtzinger/exposure-tracker/internal/remote"
	"github.com/mschirtzinger/exposure-tracker/internal/session"
	"github.com/mschirtzinger/exposure-tracker/internal/state"
	syncer "github.com/mschirtzinger/exposure-tracker/internal/sync"
	"github.com/mschirtzinger/exposure-tracker/internal/ui"
)

// loadTimeout bounds the wait for the first snapshots.
const loadTimeout = 10 * time.Second

// clientEnv is a signed-in session whose traffic goes through the cache
// proxy.
type clientEnv struct {
	storage *cache.Storage
	proxy   *proxy.Proxy
	store   *remote.HTTPStore
	local   *state.Store
	session *session.Manager
}

func newProxy(storage *cache.Storage) (*proxy.Proxy, error) {
	return proxy.NewWithConfig(storage, &proxy.Config{
		Origin:               cfg.Cache.Origin,
		RemoteHosts:          cfg.Cache.RemoteHosts,
		Shell:                cfg.Cache.Shell,
		SkipWaitingOnInstall: cfg.Cache.SkipWaiting,
		Logger:               logs.Logger("proxy"),
	})
}

// openClient opens the cache, builds the proxied store client and signs in
// as the configured user.
func openClient(ctx context.Context) (*clientEnv, error) {
	if cfg.User == "" {
		return nil, fmt.Errorf("%w: pass --user or set EXPOSURE_USER", syncer.ErrAuthenticationRequired)
	}

	storage, err := cache.Open(cfg.Cache.DB, logs.Logger("cache"))
	if err != nil {
		return nil, err
	}
	p, err := newProxy(storage)
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	store, err := remote.NewHTTPStore(cfg.Remote.URL, &http.Client{Transport: p, Timeout: 15 * time.Second}, logs.Logger("remote"))
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	local := state.New(nowFunc)
	mgr := session.NewManager(store, local, logs.Logger("sync"))
	if err := mgr.SignIn(ctx, cfg.User); err != nil {
		_ = store.Close()
		_ = storage.Close()
		return nil, err
	}

	return &clientEnv{storage: storage, proxy: p, store: store, local: local, session: mgr}, nil
}

func (e *clientEnv) Close() {
	e.session.SignOut()
	_ = e.store.Close()
	e.proxy.Wait()
	_ = e.storage.Close()
}

// waitLoaded blocks until the first snapshot of every kind has arrived.
func (e *clientEnv) waitLoaded(ctx context.Context, kinds ...state.Kind) error {
	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		missing := ""
		for _, k := range kinds {
			if !e.local.Loaded(k) {
				missing = k.String()
				break
			}
		}
		if missing == "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s unavailable: remote store unreachable and nothing cached", missing)
		case <-ticker.C:
		}
	}
}

// writeFailed turns a sync client error into the command's error. When the
// network was down, a deferred sync is registered with the running server.
func writeFailed(ctx context.Context, err error) error {
	if errors.Is(err, syncer.ErrAuthenticationRequired) {
		return fmt.Errorf("not signed in: pass --user or set EXPOSURE_USER")
	}
	if !syncer.ShouldSurface(err) {
		return nil
	}
	if proxy.IsOffline(err) {
		if rerr := requestDeferredSync(ctx); rerr != nil {
			fmt.Fprintf(stdout, "%s Offline, and no server to register a background sync: %v\n", ui.RenderWarn("⚠"), rerr)
		} else {
			fmt.Fprintf(stdout, "%s Offline. Background sync registered; run the command again once you are back online.\n", ui.RenderWarn("⚠"))
		}
	}
	return err
}

// requestDeferredSync asks the page hub of a running server to register the
// sync tag, speaking the page protocol.
func requestDeferredSync(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+cfg.Hub.Addr+"/ws", nil)
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	req, _ := json.Marshal(hub.Message{Type: hub.KindSyncRequest, Tag: cfg.Sync.Tag, Timestamp: nowFunc()})
	if err := conn.Write(ctx, websocket.MessageText, req); err != nil {
		return err
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg hub.Message
		if json.Unmarshal(data, &msg) == nil && msg.Type == hub.KindSyncRegistered {
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return nil
		}
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
