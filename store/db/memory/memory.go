// Package memory implements the session store driver on an in-process map.
// Intended for development and tests; it honors the same version
// compare-and-swap contract as the database drivers.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/duetcast/duetcast/store"
)

// DB is the in-memory driver.
type DB struct {
	mu       sync.RWMutex
	sessions map[string]*store.SessionState
}

// NewDB creates an in-memory driver.
func NewDB() *DB {
	return &DB{
		sessions: make(map[string]*store.SessionState),
	}
}

func (d *DB) IsInitialized(_ context.Context) (bool, error) {
	return true, nil
}

func (d *DB) Migrate(_ context.Context) error {
	return nil
}

func (d *DB) CreateSession(_ context.Context, create *store.SessionState) (*store.SessionState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	state := create.Clone()
	state.Version = 1
	d.sessions[state.SessionID] = state
	return state.Clone(), nil
}

func (d *DB) GetSession(_ context.Context, sessionID string) (*store.SessionState, error) {
	d.mu.RLock()
	state, ok := d.sessions[sessionID]
	d.mu.RUnlock()

	if !ok || state.Expired(time.Now()) {
		return nil, store.ErrNotFound
	}
	return state.Clone(), nil
}

func (d *DB) UpdateSession(_ context.Context, update *store.SessionState, expectedVersion int64) (*store.SessionState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current, ok := d.sessions[update.SessionID]
	if !ok || current.Expired(time.Now()) {
		return nil, store.ErrNotFound
	}
	if current.Version != expectedVersion {
		return nil, store.ErrConflict
	}

	state := update.Clone()
	state.Version = expectedVersion + 1
	d.sessions[state.SessionID] = state
	return state.Clone(), nil
}

func (d *DB) DeleteSession(_ context.Context, sessionID string) error {
	d.mu.Lock()
	delete(d.sessions, sessionID)
	d.mu.Unlock()
	return nil
}

func (d *DB) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var deleted int64
	for id, state := range d.sessions {
		if state.Expired(now) {
			delete(d.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

func (d *DB) Close() error {
	return nil
}
