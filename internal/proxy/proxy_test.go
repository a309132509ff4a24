package proxy

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mschirtzinger/exposure-tracker/internal/cache"
	"github.com/mschirtzinger/exposure-tracker/internal/hub"
)

// origin is a fake upstream that counts requests per path.
type origin struct {
	*httptest.Server
	mu     sync.Mutex
	files  map[string]string
	hits   map[string]int
	broken map[string]bool
}

func newOrigin(t *testing.T, files map[string]string) *origin {
	t.Helper()
	o := &origin{files: files, hits: map[string]int{}, broken: map[string]bool{}}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.hits[r.URL.Path]++
		body, found := o.files[r.URL.Path]
		broken := o.broken[r.URL.Path]
		o.mu.Unlock()

		if broken || !found {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(o.Close)
	return o
}

func (o *origin) count(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

func (o *origin) set(path, body string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.files[path] = body
}

func (o *origin) breakPath(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.broken[path] = true
}

// switchTransport fails every request while offline is set.
type switchTransport struct {
	offline atomic.Bool
}

func (s *switchTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if s.offline.Load() {
		return nil, &url.Error{Op: req.Method, URL: req.URL.String(), Err: errors.New("network is unreachable")}
	}
	return http.DefaultTransport.RoundTrip(req)
}

type fakeClients struct {
	mu    sync.Mutex
	count int
	msgs  []hub.Message
}

func (f *fakeClients) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func (f *fakeClients) Broadcast(msg hub.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeClients) last() hub.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		return hub.Message{}
	}
	return f.msgs[len(f.msgs)-1]
}

type fixture struct {
	static    *origin
	remote    *origin
	net       *switchTransport
	storage   *cache.Storage
	proxy     *Proxy
	dbPath    string
	configure func(*Config)
}

var quiet = log.New(io.Discard, "", 0)

func newFixture(t *testing.T, configure func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		static: newOrigin(t, map[string]string{
			"/":            "<html>root</html>",
			"/index.html":  "<html>shell</html>",
			"/style.css":   "body{}",
			"/script.js":   "main()",
			"/late.js":     "late()",
			"/teapot.html": "nope",
		}),
		remote: newOrigin(t, map[string]string{
			"/v1/users/u1/goals": `["a"]`,
		}),
		net:       &switchTransport{},
		dbPath:    filepath.Join(t.TempDir(), "cache.db"),
		configure: configure,
	}

	storage, err := cache.Open(f.dbPath, quiet)
	if err != nil {
		t.Fatalf("cache.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })
	f.storage = storage
	f.proxy = f.newProxy(t)
	return f
}

func (f *fixture) newProxy(t *testing.T) *Proxy {
	t.Helper()
	remoteURL, _ := url.Parse(f.remote.URL)
	config := &Config{
		Origin:               f.static.URL,
		RemoteHosts:          []string{remoteURL.Host},
		SkipWaitingOnInstall: true,
		Transport:            f.net,
		Logger:               quiet,
	}
	if f.configure != nil {
		f.configure(config)
	}
	p, err := NewWithConfig(f.storage, config)
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	return p
}

func manifest(version string) *Manifest {
	return &Manifest{
		Version: version,
		Shell:   "/index.html",
		Assets:  []string{"/", "/index.html", "/style.css", "/script.js"},
	}
}

func (f *fixture) get(t *testing.T, base, path string, accept string) (string, error) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, base+path, nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := f.proxy.RoundTrip(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body), nil
}

func TestInstallCachesManifest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.proxy.Install(ctx, manifest("v1")); err != nil {
		t.Fatalf("Install() failed: %v", err)
	}
	if f.proxy.ActiveVersion() != "v1" || f.proxy.State() != StateActivated {
		t.Fatalf("active = %q, state = %s", f.proxy.ActiveVersion(), f.proxy.State())
	}

	c, _ := f.storage.Open(ctx, "v1")
	keys, _ := c.Keys(ctx)
	if len(keys) != 4 {
		t.Errorf("cached keys = %v, want 4 assets", keys)
	}
}

func TestInstallFailureKeepsPreviousVersion(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.proxy.Install(ctx, manifest("v1")); err != nil {
		t.Fatalf("Install(v1) failed: %v", err)
	}

	f.static.breakPath("/script.js")
	f.static.set("/style.css", "body{color:red}")

	err := f.proxy.Install(ctx, manifest("v2"))
	if !errors.Is(err, ErrInstallFailed) {
		t.Fatalf("Install(v2) = %v, want ErrInstallFailed", err)
	}
	if f.proxy.State() != StateRedundant {
		t.Errorf("state = %s, want redundant", f.proxy.State())
	}
	if has, _ := f.storage.Has(ctx, "v2"); has {
		t.Error("failed install left cache v2 behind")
	}
	if f.proxy.ActiveVersion() != "v1" {
		t.Errorf("active = %q, want v1", f.proxy.ActiveVersion())
	}

	body, err := f.get(t, f.static.URL, "/style.css", "")
	if err != nil || body != "body{}" {
		t.Errorf("style.css = %q, %v; want v1 copy", body, err)
	}
}

func TestCacheFirstSkipsNetwork(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.proxy.Install(context.Background(), manifest("v1")); err != nil {
		t.Fatalf("Install() failed: %v", err)
	}
	before := f.static.count("/style.css")

	body, err := f.get(t, f.static.URL, "/style.css", "")
	if err != nil || body != "body{}" {
		t.Fatalf("style.css = %q, %v", body, err)
	}
	if f.static.count("/style.css") != before {
		t.Error("cached static asset hit the network")
	}

	// A miss is fetched once and stored before it is returned, so the
	// next request is served from cache even with the network gone.
	if body, _ := f.get(t, f.static.URL, "/late.js", ""); body != "late()" {
		t.Fatalf("late.js = %q", body)
	}
	f.net.offline.Store(true)
	if body, err := f.get(t, f.static.URL, "/late.js", ""); err != nil || body != "late()" {
		t.Fatalf("late.js (cached) = %q, %v", body, err)
	}
	f.net.offline.Store(false)
	if n := f.static.count("/late.js"); n != 1 {
		t.Errorf("late.js fetched %d times, want 1", n)
	}
}

func TestCacheFirstDoesNotStoreErrors(t *testing.T) {
	f := newFixture(t, nil)
	_ = f.proxy.Install(context.Background(), manifest("v1"))

	f.static.breakPath("/late.js")
	req, _ := http.NewRequest(http.MethodGet, f.static.URL+"/late.js", nil)
	resp, err := f.proxy.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip() failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 passed through", resp.StatusCode)
	}
	f.proxy.Wait()

	c, _ := f.storage.Open(context.Background(), "v1")
	if e, _ := c.Match(context.Background(), f.static.URL+"/late.js"); e != nil {
		t.Error("404 response was cached")
	}
}

func TestOfflineNavigationServesShell(t *testing.T) {
	f := newFixture(t, nil)
	_ = f.proxy.Install(context.Background(), manifest("v1"))
	f.net.offline.Store(true)

	body, err := f.get(t, f.static.URL, "/exposures", "text/html,application/xhtml+xml")
	if err != nil || body != "<html>shell</html>" {
		t.Errorf("navigation = %q, %v; want shell", body, err)
	}

	_, err = f.get(t, f.static.URL, "/missing.png", "image/png")
	if !errors.Is(err, ErrNetwork) || !IsOffline(err) {
		t.Errorf("non-HTML miss = %v, want ErrNetwork", err)
	}
}

func TestNetworkFirstForRemote(t *testing.T) {
	f := newFixture(t, nil)
	_ = f.proxy.Install(context.Background(), manifest("v1"))
	const path = "/v1/users/u1/goals"

	if body, err := f.get(t, f.remote.URL, path, ""); err != nil || body != `["a"]` {
		t.Fatalf("first read = %q, %v", body, err)
	}
	f.proxy.Wait()

	f.remote.set(path, `["b"]`)
	if body, _ := f.get(t, f.remote.URL, path, ""); body != `["b"]` {
		t.Errorf("second read = %q, want fresh value", body)
	}
	if n := f.remote.count(path); n != 2 {
		t.Errorf("remote hit %d times, want 2", n)
	}
	f.proxy.Wait()

	f.net.offline.Store(true)
	if body, err := f.get(t, f.remote.URL, path, ""); err != nil || body != `["b"]` {
		t.Errorf("offline read = %q, %v; want last cached", body, err)
	}

	_, err := f.get(t, f.remote.URL, "/v1/users/u1/exposures", "")
	if !IsOffline(err) {
		t.Errorf("offline uncached read = %v, want offline error", err)
	}
}

func TestRemoteWritesAreNotCached(t *testing.T) {
	f := newFixture(t, nil)
	_ = f.proxy.Install(context.Background(), manifest("v1"))

	req, _ := http.NewRequest(http.MethodPut, f.remote.URL+"/v1/users/u1/goals", strings.NewReader(`[]`))
	resp, err := f.proxy.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip() failed: %v", err)
	}
	resp.Body.Close()
	f.proxy.Wait()

	c, _ := f.storage.Open(context.Background(), "v1")
	keys, _ := c.Keys(context.Background())
	for _, k := range keys {
		if strings.HasPrefix(k, f.remote.URL) {
			t.Errorf("PUT cached under %s", k)
		}
	}
}

func TestActivateEvictsOldCaches(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, old := range []string{"exposure-tracker-v0.9", "scratch"} {
		_ = f.storage.Populate(ctx, old, map[string]*cache.Entry{"k": {Status: 200, Body: []byte(old)}})
	}

	if err := f.proxy.Install(ctx, manifest("v1")); err != nil {
		t.Fatalf("Install() failed: %v", err)
	}

	names, _ := f.storage.Names(ctx)
	if len(names) != 1 || names[0] != "v1" {
		t.Errorf("caches = %v, want [v1]", names)
	}
	c, _ := f.storage.Open(ctx, "v1")
	if keys, _ := c.Keys(ctx); len(keys) != 4 {
		t.Errorf("v1 keys = %v, want all 4 assets", keys)
	}
}

func TestWaitingVersion(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.SkipWaitingOnInstall = false })
	pages := &fakeClients{count: 1}
	f.proxy.SetClients(pages)
	ctx := context.Background()

	// Nothing active yet, so the first version takes over at once.
	if err := f.proxy.Install(ctx, manifest("v1")); err != nil {
		t.Fatalf("Install(v1) failed: %v", err)
	}
	if f.proxy.ActiveVersion() != "v1" {
		t.Fatalf("active = %q, want v1", f.proxy.ActiveVersion())
	}
	if msg := pages.last(); msg.Type != hub.KindControllerChange || msg.Message != "v1" {
		t.Errorf("announcement = %+v", msg)
	}

	if err := f.proxy.Install(ctx, manifest("v2")); err != nil {
		t.Fatalf("Install(v2) failed: %v", err)
	}
	st, _ := f.proxy.Status(ctx)
	if st.State != StateInstalled || st.Active != "v1" || st.Waiting != "v2" {
		t.Fatalf("status = %+v, want v2 waiting behind v1", st)
	}

	if err := f.proxy.SkipWaiting(ctx); err != nil {
		t.Fatalf("SkipWaiting() failed: %v", err)
	}
	if f.proxy.ActiveVersion() != "v2" {
		t.Errorf("active = %q after skip waiting, want v2", f.proxy.ActiveVersion())
	}

	_ = f.proxy.Install(ctx, manifest("v3"))
	if f.proxy.ActiveVersion() != "v2" {
		t.Fatalf("v3 activated with a page connected")
	}
	f.proxy.HandleDisconnect(0)
	if f.proxy.ActiveVersion() != "v3" {
		t.Errorf("active = %q after last page left, want v3", f.proxy.ActiveVersion())
	}

	if err := f.proxy.Activate(ctx); !errors.Is(err, ErrNothingWaiting) {
		t.Errorf("Activate() = %v, want ErrNothingWaiting", err)
	}
}

func TestSkipWaitingBeforeInstall(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.SkipWaitingOnInstall = false })
	f.proxy.SetClients(&fakeClients{count: 2})
	ctx := context.Background()

	_ = f.proxy.Install(ctx, manifest("v1"))
	if err := f.proxy.SkipWaiting(ctx); err != nil {
		t.Fatalf("SkipWaiting() failed: %v", err)
	}
	_ = f.proxy.Install(ctx, manifest("v2"))
	if f.proxy.ActiveVersion() != "v2" {
		t.Errorf("active = %q, want v2", f.proxy.ActiveVersion())
	}
}

func TestUncontrolledPassesThrough(t *testing.T) {
	f := newFixture(t, nil)

	_, _ = f.get(t, f.static.URL, "/style.css", "")
	_, _ = f.get(t, f.static.URL, "/style.css", "")
	f.proxy.Wait()
	if n := f.static.count("/style.css"); n != 2 {
		t.Errorf("style.css fetched %d times, want 2", n)
	}
	if names, _ := f.storage.Names(context.Background()); len(names) != 0 {
		t.Errorf("caches = %v before install", names)
	}
}

func TestResumeActiveVersion(t *testing.T) {
	f := newFixture(t, nil)
	_ = f.proxy.Install(context.Background(), manifest("v1"))

	again := f.newProxy(t)
	if again.ActiveVersion() != "v1" || again.State() != StateActivated {
		t.Errorf("resumed active = %q, state = %s", again.ActiveVersion(), again.State())
	}
}

func TestHandler(t *testing.T) {
	f := newFixture(t, nil)
	_ = f.proxy.Install(context.Background(), manifest("v1"))
	f.net.offline.Store(true)

	srv := httptest.NewServer(f.proxy.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/style.css", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "body{}" {
		t.Errorf("style.css = %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(srv.URL + "/nothing.bin")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("offline miss status = %d, want 502", resp.StatusCode)
	}
}

func TestClassify(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.RemoteHosts = append(c.RemoteHosts, "firebaseio.com", "gstatic.com")
	})

	tests := []struct {
		method string
		url    string
		want   Class
	}{
		{"GET", f.static.URL + "/style.css", ClassStatic},
		{"POST", f.static.URL + "/form", ClassPassthrough},
		{"GET", f.remote.URL + "/v1/users/u1", ClassRemote},
		{"DELETE", f.remote.URL + "/v1/users/u1/exposures/k", ClassRemote},
		{"GET", "https://demo.firebaseio.com/users.json", ClassRemote},
		{"GET", "https://www.gstatic.com/firebasejs/app.js", ClassRemote},
		{"GET", "https://notgstatic.com/app.js", ClassStatic},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(tt.method, tt.url, nil)
		if got := f.proxy.Classify(req); got != tt.want {
			t.Errorf("Classify(%s %s) = %s, want %s", tt.method, tt.url, got, tt.want)
		}
	}
}
