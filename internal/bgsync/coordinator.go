// Package bgsync implements deferred-write sync.
//
// When a write fails because the network is down, the caller registers a
// sync tag with the Coordinator. When connectivity returns (reported by the
// Monitor) or a sync is requested explicitly, every pending tag fires: the
// connected pages are told a sync is starting and the registered hooks
// run. The Coordinator does no data reconciliation of its own; writes are
// replayed through the normal sync client by whoever owns them, and remote
// subscriptions re-deliver current values when they reconnect.
package bgsync

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/mschirtzinger/exposure-tracker/internal/hub"
	"github.com/mschirtzinger/exposure-tracker/internal/proxy"
)

// DefaultTag is the sync tag for the user's data.
const DefaultTag = "exposure-data-sync"

// Broadcaster delivers a message to every connected page.
type Broadcaster interface {
	Broadcast(hub.Message) error
}

// Hook runs when a tag fires.
type Hook func(ctx context.Context, tag string) error

// Coordinator tracks pending sync registrations.
type Coordinator struct {
	pages   Broadcaster
	primary string
	known   map[string]bool
	logger  *log.Logger

	mu      sync.Mutex
	pending map[string]time.Time
	hooks   []Hook
}

// NewCoordinator creates a coordinator that accepts only the given tags.
// With no tags, DefaultTag is used. The first tag is the one registered
// for failed writes and for requests that name no tag. pages may be nil.
func NewCoordinator(pages Broadcaster, logger *log.Logger, tags ...string) *Coordinator {
	if logger == nil {
		logger = log.New(os.Stderr, "[bgsync] ", log.LstdFlags)
	}
	if len(tags) == 0 {
		tags = []string{DefaultTag}
	}
	known := make(map[string]bool, len(tags))
	for _, t := range tags {
		known[t] = true
	}
	return &Coordinator{
		pages:   pages,
		primary: tags[0],
		known:   known,
		logger:  logger,
		pending: make(map[string]time.Time),
	}
}

// OnSync registers a hook run every time a tag fires.
func (c *Coordinator) OnSync(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, h)
}

// Register records tag as pending and reports whether it is a known tag.
// Unknown tags are refused. Registering a pending tag again keeps the
// first registration time.
func (c *Coordinator) Register(tag string) bool {
	if !c.known[tag] {
		c.logger.Printf("Warning: refusing sync for unknown tag %q", tag)
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[tag]; ok {
		return true
	}
	c.pending[tag] = time.Now()
	c.logger.Printf("Registered sync %q", tag)
	return true
}

// RegisterIfOffline registers the primary tag when err means the network
// was unreachable, and reports whether it did.
func (c *Coordinator) RegisterIfOffline(err error) bool {
	if !proxy.IsOffline(err) {
		return false
	}
	return c.Register(c.primary)
}

// Pending lists pending tags in registration order.
func (c *Coordinator) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	tags := make([]string, 0, len(c.pending))
	for t := range c.pending {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool {
		ti, tj := c.pending[tags[i]], c.pending[tags[j]]
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return tags[i] < tags[j]
	})
	return tags
}

// Fire runs a sync for tag: it clears the registration, tells connected
// pages and runs the hooks. It reports whether the tag fired; unknown tags
// are ignored. Failures are logged and never retried here; the next
// connectivity change is the retry.
func (c *Coordinator) Fire(ctx context.Context, tag string) bool {
	if !c.known[tag] {
		c.logger.Printf("Ignoring sync for unknown tag %q", tag)
		return false
	}

	c.mu.Lock()
	delete(c.pending, tag)
	hooks := append([]Hook(nil), c.hooks...)
	c.mu.Unlock()

	c.logger.Printf("Performing background sync %q", tag)

	if c.pages != nil {
		msg := hub.Message{Type: hub.KindBackgroundSync, Message: "Syncing offline data...", Tag: tag}
		if err := c.pages.Broadcast(msg); err != nil {
			c.logger.Printf("Background sync %q failed: %v", tag, err)
		}
	}

	for _, h := range hooks {
		if err := h(ctx, tag); err != nil {
			c.logger.Printf("Background sync %q failed: %v", tag, err)
		}
	}
	return true
}

// FireAll fires every pending tag and returns how many fired.
func (c *Coordinator) FireAll(ctx context.Context) int {
	n := 0
	for _, t := range c.Pending() {
		if c.Fire(ctx, t) {
			n++
		}
	}
	return n
}

// HandleSyncRequest is the hub handler for SYNC_REQUEST. It registers the
// requested tag (the primary tag when empty) and answers SYNC_REGISTERED.
// Requests for unknown tags get no answer.
func (c *Coordinator) HandleSyncRequest(ctx context.Context, msg hub.Message, reply hub.Reply) {
	tag := msg.Tag
	if tag == "" {
		tag = c.primary
	}
	if !c.Register(tag) {
		return
	}

	err := reply(hub.Message{
		Type:    hub.KindSyncRegistered,
		Message: "Background sync registered",
		Tag:     tag,
	})
	if err != nil {
		c.logger.Printf("Warning: failed to confirm sync %q: %v", tag, fmt.Errorf("reply: %w", err))
	}
}
