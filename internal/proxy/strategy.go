package proxy

import (
	"net/http"
	"net/url"
	"strings"
)

// Class is the classification of an intercepted request.
type Class int

const (
	// ClassPassthrough requests go straight to the network.
	ClassPassthrough Class = iota
	// ClassStatic requests are served cache-first.
	ClassStatic
	// ClassRemote requests go to the remote store backend, network-first.
	ClassRemote
)

// String returns a human-readable class name.
func (c Class) String() string {
	switch c {
	case ClassStatic:
		return "static"
	case ClassRemote:
		return "remote"
	default:
		return "passthrough"
	}
}

// Strategy answers one request class.
type Strategy func(p *Proxy, req *http.Request) (*http.Response, error)

// strategies is the strategy table, keyed by class.
var strategies = map[Class]Strategy{
	ClassPassthrough: (*Proxy).passthrough,
	ClassStatic:      (*Proxy).cacheFirst,
	ClassRemote:      (*Proxy).networkFirst,
}

// Classify decides how req is handled. Any request to a remote host is
// remote; other GET requests are static; everything else passes through.
func (p *Proxy) Classify(req *http.Request) Class {
	if matchHost(req.URL, p.config.RemoteHosts) {
		return ClassRemote
	}
	if req.Method == http.MethodGet || req.Method == "" {
		return ClassStatic
	}
	return ClassPassthrough
}

// matchHost reports whether u points at one of hosts. An entry with a port
// must match host and port exactly; an entry without one also matches its
// subdomains on any port.
func matchHost(u *url.URL, hosts []string) bool {
	hostport := strings.ToLower(u.Host)
	host := strings.ToLower(u.Hostname())
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "."))
		switch {
		case h == "":
			continue
		case strings.Contains(h, ":"):
			if hostport == h {
				return true
			}
		case host == h || strings.HasSuffix(host, "."+h):
			return true
		}
	}
	return false
}

// acceptsHTML reports whether req is a page navigation.
func acceptsHTML(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
