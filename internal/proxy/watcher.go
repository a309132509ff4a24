package proxy

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ManifestWatcher installs a new cache version whenever the manifest file
// changes on disk.
//
// The directory holding the manifest is watched rather than the file, so
// editors that save by rename are seen too.
type ManifestWatcher struct {
	proxy    *Proxy
	path     string
	debounce time.Duration
	logger   *log.Logger

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// installed receives the result of every install attempt; tests use it.
	installed chan error
}

// NewManifestWatcher creates a watcher for the manifest at path. It must be
// started with Start().
func NewManifestWatcher(p *Proxy, path string) (*ManifestWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &ManifestWatcher{
		proxy:     p,
		path:      abs,
		debounce:  200 * time.Millisecond,
		logger:    p.logger,
		watcher:   w,
		installed: make(chan error, 16),
	}, nil
}

// Start begins watching.
func (mw *ManifestWatcher) Start(ctx context.Context) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	if mw.running {
		return fmt.Errorf("watcher already running")
	}
	if err := mw.watcher.Add(filepath.Dir(mw.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(mw.path), err)
	}

	ctx, mw.cancel = context.WithCancel(ctx)
	mw.running = true
	mw.wg.Add(1)
	go mw.run(ctx)

	mw.logger.Printf("Watching manifest %s", mw.path)
	return nil
}

// Stop stops watching and waits for a running install to finish.
func (mw *ManifestWatcher) Stop() error {
	mw.mu.Lock()
	if !mw.running {
		mw.mu.Unlock()
		return nil
	}
	mw.running = false
	mw.cancel()
	mw.mu.Unlock()

	err := mw.watcher.Close()
	mw.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (mw *ManifestWatcher) run(ctx context.Context) {
	defer mw.wg.Done()

	// Rapid successive writes collapse into one install.
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-mw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != mw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(mw.debounce)

		case err, ok := <-mw.watcher.Errors:
			if !ok {
				return
			}
			mw.logger.Printf("Watcher error: %v", err)

		case <-timer.C:
			mw.reinstall(ctx)
		}
	}
}

func (mw *ManifestWatcher) reinstall(ctx context.Context) {
	m, err := LoadManifest(mw.path)
	if err == nil {
		mw.logger.Printf("Manifest changed, installing %s", m.Version)
		err = mw.proxy.Install(ctx, m)
	}
	if err != nil {
		mw.logger.Printf("Warning: manifest reload failed: %v", err)
	}

	select {
	case mw.installed <- err:
	default:
	}
}
