// Package session scopes the signed-in user and the data mirrored for them.
//
// A Manager holds the current user and the in-memory snapshots. SignIn attaches the remote subscriptions for
// a user; SignOut detaches them and clears the mirror so nothing leaks to
// the next user.
package session

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/mschirtzinger/exposure-tracker/internal/remote"
	"github.com/mschirtzinger/exposure-tracker/internal/state"
	syncer "github.com/mschirtzinger/exposure-tracker/internal/sync"
)

// Manager owns the current session.
type Manager struct {
	store  remote.Store
	local  *state.Store
	logger *log.Logger

	mu     sync.RWMutex
	uid    string
	detach func()
}

// NewManager creates a signed-out manager. If logger is nil, a default
// logger writing to stderr is used.
func NewManager(store remote.Store, local *state.Store, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[session] ", log.LstdFlags)
	}
	return &Manager{
		store:  store,
		local:  local,
		logger: logger,
	}
}

// UserID implements sync.UserSource.
func (m *Manager) UserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uid
}

// State returns the local mirror of the session.
func (m *Manager) State() *state.Store {
	return m.local
}

// Client returns a sync client bound to this session's user.
func (m *Manager) Client() syncer.Client {
	return syncer.New(m.store, m, m.local, m.logger)
}

// SignIn makes uid the current user and attaches its subscriptions. Any
// previous session is signed out first.
func (m *Manager) SignIn(ctx context.Context, uid string) error {
	if uid == "" {
		return fmt.Errorf("sign in: %w", syncer.ErrAuthenticationRequired)
	}
	if p, err := remote.CleanPath(uid); err != nil || p != uid || strings.Contains(uid, "/") {
		return fmt.Errorf("sign in: invalid user id %q: %w", uid, remote.ErrInvalidPath)
	}

	m.SignOut()

	detach, err := syncer.Attach(ctx, m.store, m.local, uid, m.logger)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}

	m.mu.Lock()
	m.uid = uid
	m.detach = detach
	m.mu.Unlock()

	m.logger.Printf("Signed in as %s", uid)
	return nil
}

// SignOut detaches subscriptions and clears the mirror. Signing out while
// signed out is a no-op.
func (m *Manager) SignOut() {
	m.mu.Lock()
	uid, detach := m.uid, m.detach
	m.uid, m.detach = "", nil
	m.mu.Unlock()

	if detach == nil {
		return
	}
	detach()
	m.local.Reset()
	m.logger.Printf("Signed out %s", uid)
}

// Reattach replaces the current subscriptions with fresh ones, so every
// collection is re-delivered from the remote store. The mirror is not
// cleared in between. It is a no-op while signed out.
func (m *Manager) Reattach(ctx context.Context) error {
	uid := m.UserID()
	if uid == "" {
		return nil
	}

	detach, err := syncer.Attach(ctx, m.store, m.local, uid, m.logger)
	if err != nil {
		return fmt.Errorf("reattach: %w", err)
	}

	m.mu.Lock()
	if m.uid != uid {
		m.mu.Unlock()
		detach()
		return nil
	}
	old := m.detach
	m.detach = detach
	m.mu.Unlock()

	if old != nil {
		old()
	}
	return nil
}
