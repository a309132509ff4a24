package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mschirtzinger/exposure-tracker/internal/cache"
	"github.com/mschirtzinger/exposure-tracker/internal/hub"
)

// State is the lifecycle state of the most recent cache version.
type State int

const (
	// StateIdle means nothing was ever installed.
	StateIdle State = iota
	// StateInstalling means manifest assets are being fetched.
	StateInstalling
	// StateInstalled means a version is cached and waiting to activate.
	StateInstalled
	// StateActivating means old caches are being deleted.
	StateActivating
	// StateActivated means the newest version controls requests.
	StateActivated
	// StateRedundant means the last install failed and was discarded.
	StateRedundant
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return "idle"
	}
}

// maxInstallFetches bounds concurrent asset fetches during install.
const maxInstallFetches = 8

// Status describes the proxy's cache versions.
type Status struct {
	State   State    `json:"state" yaml:"state"`
	Active  string   `json:"active" yaml:"active"`
	Waiting string   `json:"waiting,omitempty" yaml:"waiting,omitempty"`
	Caches  []string `json:"caches" yaml:"caches"`
}

// State returns the current lifecycle state.
func (p *Proxy) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// ActiveVersion returns the active cache version, or "" if none.
func (p *Proxy) ActiveVersion() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.active == nil {
		return ""
	}
	return p.active.Name()
}

// Status returns the lifecycle state and the stored caches.
func (p *Proxy) Status(ctx context.Context) (Status, error) {
	names, err := p.storage.Names(ctx)
	if err != nil {
		return Status{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	st := Status{State: p.state, Waiting: p.waiting, Caches: names}
	if p.active != nil {
		st.Active = p.active.Name()
	}
	return st, nil
}

func (p *Proxy) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Install fetches every asset of m from the network and stores them as
// cache version m.Version in one transaction. If any asset fails, nothing
// is stored, the state becomes redundant and the active version is left
// alone. Installing the active version is a no-op.
//
// After a successful install the version waits. It activates at once when
// nothing is active, no pages are connected, skip-waiting was requested,
// or SkipWaitingOnInstall is set.
func (p *Proxy) Install(ctx context.Context, m *Manifest) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	if m.Version == p.ActiveVersion() {
		p.logger.Printf("Cache version %s already active", m.Version)
		return nil
	}

	p.setState(StateInstalling)
	p.logger.Printf("Installing cache version %s (%d assets)", m.Version, len(m.Assets))

	entries, err := p.fetchAssets(ctx, m)
	if err == nil {
		err = p.storage.Populate(ctx, m.Version, entries)
	}
	if err != nil {
		p.setState(StateRedundant)
		p.logger.Printf("Install of %s failed: %v", m.Version, err)
		return fmt.Errorf("%w: %s: %w", ErrInstallFailed, m.Version, err)
	}

	p.mu.Lock()
	p.waiting = m.Version
	p.waitingShell = m.Shell
	p.state = StateInstalled
	activate := p.skipWaiting || p.config.SkipWaitingOnInstall || p.active == nil ||
		p.clients == nil || p.clients.ClientCount() == 0
	p.mu.Unlock()

	p.logger.Printf("Cached %d assets for %s", len(entries), m.Version)

	if !activate {
		p.logger.Printf("Cache version %s waiting for pages to close", m.Version)
		return nil
	}
	return p.activateLocked(ctx)
}

// fetchAssets downloads every manifest asset. The first failure cancels the
// rest.
func (p *Proxy) fetchAssets(ctx context.Context, m *Manifest) (map[string]*cache.Entry, error) {
	urls, err := m.URLs(p.origin)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	entries := make(map[string]*cache.Entry, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInstallFetches)
	for _, u := range urls {
		g.Go(func() error {
			entry, err := p.fetchAsset(gctx, u)
			if err != nil {
				return err
			}
			mu.Lock()
			entries[cache.KeyURL(u)] = entry
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (p *Proxy) fetchAsset(ctx context.Context, u *url.URL) (*cache.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.fetch(req)
	if err != nil {
		return nil, err
	}
	entry, err := cache.EntryFromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", u.Redacted(), err)
	}
	if !ok(resp) {
		return nil, fmt.Errorf("%s: unexpected status %d", u.Redacted(), resp.StatusCode)
	}
	return entry, nil
}

// Activate makes the waiting version active, deletes every other cache and
// tells connected pages about the new controller.
func (p *Proxy) Activate(ctx context.Context) error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	return p.activateLocked(ctx)
}

// SkipWaiting activates the waiting version now. With nothing waiting, the
// next install activates as soon as it completes.
func (p *Proxy) SkipWaiting(ctx context.Context) error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	p.mu.Lock()
	waiting := p.waiting
	if waiting == "" {
		p.skipWaiting = true
	}
	p.mu.Unlock()

	if waiting == "" {
		p.logger.Println("Skip waiting requested, next install activates immediately")
		return nil
	}
	return p.activateLocked(ctx)
}

// HandleDisconnect activates a waiting version once no pages remain.
func (p *Proxy) HandleDisconnect(remaining int) {
	if remaining > 0 {
		return
	}
	p.mu.RLock()
	waiting := p.waiting
	p.mu.RUnlock()
	if waiting == "" {
		return
	}
	if err := p.Activate(context.Background()); err != nil && !errors.Is(err, ErrNothingWaiting) {
		p.logger.Printf("Warning: activation of %s failed: %v", waiting, err)
	}
}

func (p *Proxy) activateLocked(ctx context.Context) error {
	p.mu.Lock()
	version, shell := p.waiting, p.waitingShell
	if version == "" {
		p.mu.Unlock()
		return ErrNothingWaiting
	}
	p.state = StateActivating
	p.mu.Unlock()

	c, err := p.storage.Open(ctx, version)
	if err != nil {
		p.setState(StateInstalled)
		return fmt.Errorf("failed to open cache %s: %w", version, err)
	}
	if err := p.storage.SetMeta(ctx, metaActiveVersion, version); err != nil {
		p.setState(StateInstalled)
		return err
	}
	if err := p.storage.SetMeta(ctx, metaActiveShell, shell); err != nil {
		p.logger.Printf("Warning: failed to store shell of %s: %v", version, err)
	}

	p.mu.Lock()
	p.active = c
	p.activeShell = shell
	p.waiting, p.waitingShell = "", ""
	p.skipWaiting = false
	p.state = StateActivated
	clients := p.clients
	p.mu.Unlock()

	evictErr := p.evict(ctx, version)
	p.logger.Printf("Activated cache version %s", version)

	if clients != nil {
		msg, _ := hub.NewMessage(hub.KindControllerChange, version, nil)
		if err := clients.Broadcast(msg); err != nil {
			p.logger.Printf("Warning: failed to announce %s: %v", version, err)
		}
	}
	return evictErr
}

// evict deletes every cache other than keep.
func (p *Proxy) evict(ctx context.Context, keep string) error {
	names, err := p.storage.Names(ctx)
	if err != nil {
		return fmt.Errorf("failed to list caches: %w", err)
	}

	var errs []error
	for _, name := range names {
		if name == keep {
			continue
		}
		p.logger.Printf("Deleting old cache %s", name)
		if _, err := p.storage.Delete(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
