// Package proxy implements the offline cache proxy.
//
// A Proxy is an http.RoundTripper that sits between the app and the
// network. Each request is classified and answered by the matching entry
// of the strategy table:
//
//   - static assets are served cache-first, falling back to the cached app
//     shell for page navigations when the network is down;
//   - remote store traffic is served network-first, falling back to the
//     last cached response;
//   - everything else goes straight to the network.
//
// Cached responses live in a versioned cache. Install fills a new version
// from a Manifest, all or nothing. Activate makes the waiting version the
// active one and deletes every other cache.
package proxy

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mschirtzinger/exposure-tracker/internal/cache"
	"github.com/mschirtzinger/exposure-tracker/internal/hub"
)

const (
	metaActiveVersion = "active_version"
	metaActiveShell   = "active_shell"
)

// Clients is the set of pages the proxy controls.
type Clients interface {
	ClientCount() int
	Broadcast(hub.Message) error
}

// Config holds proxy configuration.
type Config struct {
	// Origin is the app's base URL. Relative manifest entries and requests
	// served by Handler resolve against it.
	Origin string

	// RemoteHosts are the hosts of the remote store backend. Entries with a
	// port match that host:port only.
	RemoteHosts []string

	// Shell is the page served to offline navigations when the manifest
	// does not name one (default: /index.html).
	Shell string

	// SkipWaitingOnInstall activates a new version as soon as it installs,
	// even while pages are connected.
	SkipWaitingOnInstall bool

	// Transport performs network requests (default: http.DefaultTransport).
	Transport http.RoundTripper

	// PutTimeout bounds each background cache write.
	PutTimeout time.Duration

	// Logger for proxy activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Origin:               "http://127.0.0.1:8782",
		RemoteHosts:          []string{"127.0.0.1:8780"},
		Shell:                "/index.html",
		SkipWaitingOnInstall: true,
		Transport:            http.DefaultTransport,
		PutTimeout:           10 * time.Second,
		Logger:               log.New(os.Stderr, "[proxy] ", log.LstdFlags),
	}
}

// Proxy is the offline cache proxy.
type Proxy struct {
	config    *Config
	origin    *url.URL
	storage   *cache.Storage
	transport http.RoundTripper
	logger    *log.Logger

	mu           sync.RWMutex
	state        State
	active       *cache.Cache
	activeShell  string
	waiting      string
	waitingShell string
	skipWaiting  bool
	clients      Clients

	// lifeMu serializes Install, Activate and SkipWaiting.
	lifeMu sync.Mutex

	puts sync.WaitGroup
}

// New creates a Proxy over storage with the default configuration.
func New(storage *cache.Storage) (*Proxy, error) {
	return NewWithConfig(storage, DefaultConfig())
}

// NewWithConfig creates a Proxy with custom configuration. A version that
// was active when the storage was last used is active again.
func NewWithConfig(storage *cache.Storage, config *Config) (*Proxy, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Transport == nil {
		config.Transport = defaults.Transport
	}
	if config.Shell == "" {
		config.Shell = defaults.Shell
	}
	if config.PutTimeout <= 0 {
		config.PutTimeout = defaults.PutTimeout
	}

	origin, err := url.Parse(config.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("invalid origin %q", config.Origin)
	}

	p := &Proxy{
		config:    config,
		origin:    origin,
		storage:   storage,
		transport: config.Transport,
		logger:    config.Logger,
	}

	if err := p.restore(context.Background()); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Proxy) restore(ctx context.Context) error {
	version, err := p.storage.Meta(ctx, metaActiveVersion)
	if err != nil {
		return err
	}
	if version == "" {
		return nil
	}
	ok, err := p.storage.Has(ctx, version)
	if err != nil {
		return err
	}
	if !ok {
		p.logger.Printf("Warning: active cache %s is missing, starting uncontrolled", version)
		return nil
	}
	shell, err := p.storage.Meta(ctx, metaActiveShell)
	if err != nil {
		return err
	}
	c, err := p.storage.Open(ctx, version)
	if err != nil {
		return err
	}

	p.active = c
	p.activeShell = shell
	p.state = StateActivated
	p.logger.Printf("Resumed cache version %s", version)
	return nil
}

// SetClients attaches the pages the proxy controls. Activation is
// announced to them, and a waiting version activates once none remain.
func (p *Proxy) SetClients(c Clients) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients = c
}

// RoundTrip implements http.RoundTripper. Until a version is active the
// proxy controls nothing and every request goes to the network.
func (p *Proxy) RoundTrip(req *http.Request) (*http.Response, error) {
	if p.current() == nil {
		return p.fetch(req)
	}
	return strategies[p.Classify(req)](p, req)
}

// Wait blocks until background cache writes have finished.
func (p *Proxy) Wait() {
	p.puts.Wait()
}

func (p *Proxy) current() *cache.Cache {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

func (p *Proxy) shellKey() string {
	p.mu.RLock()
	shell := p.activeShell
	p.mu.RUnlock()
	if shell == "" {
		shell = p.config.Shell
	}
	ref, err := url.Parse(shell)
	if err != nil {
		return ""
	}
	return cache.KeyURL(p.origin.ResolveReference(ref))
}

// fetch sends req to the network.
func (p *Proxy) fetch(req *http.Request) (*http.Response, error) {
	resp, err := p.transport.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetwork, methodOf(req), req.URL.Redacted(), err)
	}
	return resp, nil
}

func (p *Proxy) passthrough(req *http.Request) (*http.Response, error) {
	return p.fetch(req)
}

func (p *Proxy) cacheFirst(req *http.Request) (*http.Response, error) {
	c := p.current()
	key := cache.Key(req)

	if entry := p.match(req.Context(), c, key); entry != nil {
		return entry.Response(req), nil
	}

	resp, err := p.fetch(req)
	if err == nil && ok(resp) {
		err = p.store(req.Context(), c, key, resp)
	}
	if err != nil {
		if acceptsHTML(req) {
			if shell := p.match(req.Context(), c, p.shellKey()); shell != nil {
				p.logger.Printf("Offline, serving app shell for %s", req.URL.Path)
				return shell.Response(req), nil
			}
		}
		return nil, err
	}
	return resp, nil
}

func (p *Proxy) networkFirst(req *http.Request) (*http.Response, error) {
	c := p.current()
	key := cache.Key(req)
	cacheable := methodOf(req) == http.MethodGet

	resp, err := p.fetch(req)
	if err == nil && cacheable && ok(resp) {
		err = p.storeAsync(c, key, resp)
	}
	if err != nil {
		if cacheable {
			if entry := p.match(req.Context(), c, key); entry != nil {
				return entry.Response(req), nil
			}
		}
		return nil, err
	}
	return resp, nil
}

// match looks key up in c. Lookup failures count as misses.
func (p *Proxy) match(ctx context.Context, c *cache.Cache, key string) *cache.Entry {
	if c == nil || key == "" {
		return nil
	}
	entry, err := c.Match(ctx, key)
	if err != nil {
		p.logger.Printf("Warning: cache lookup of %s failed: %v", key, err)
		return nil
	}
	return entry
}

// store buffers resp and writes it to c before returning. Only a failure
// to read the body is returned; write failures are logged.
func (p *Proxy) store(ctx context.Context, c *cache.Cache, key string, resp *http.Response) error {
	entry, err := cache.EntryFromResponse(resp)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNetwork, key, err)
	}
	if c == nil {
		return nil
	}
	if err := c.Put(ctx, key, entry); err != nil {
		p.logger.Printf("Warning: failed to cache %s: %v", key, err)
	}
	return nil
}

// storeAsync buffers resp and writes it to c in the background. Only a
// failure to read the body is returned; write failures are logged.
func (p *Proxy) storeAsync(c *cache.Cache, key string, resp *http.Response) error {
	entry, err := cache.EntryFromResponse(resp)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNetwork, key, err)
	}

	p.puts.Add(1)
	go func() {
		defer p.puts.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.config.PutTimeout)
		defer cancel()
		if err := c.Put(ctx, key, entry); err != nil {
			p.logger.Printf("Warning: failed to cache %s: %v", key, err)
		}
	}()
	return nil
}

func ok(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func methodOf(req *http.Request) string {
	if req.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(req.Method)
}
