package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when a session does not exist in the store.
	ErrNotFound = errors.New("session not found")
	// ErrConflict is returned when an update's expected version does not
	// match the stored version.
	ErrConflict = errors.New("session version conflict")
)

// Driver is an interface for the session store driver.
// It contains all methods a session database driver should implement.
type Driver interface {
	// IsInitialized reports whether the schema exists.
	IsInitialized(ctx context.Context) (bool, error)
	// Migrate creates the schema if needed.
	Migrate(ctx context.Context) error

	// CreateSession persists a fresh session at version 1.
	CreateSession(ctx context.Context, create *SessionState) (*SessionState, error)
	// GetSession loads a session. Returns ErrNotFound if absent or expired.
	GetSession(ctx context.Context, sessionID string) (*SessionState, error)
	// UpdateSession writes the session only if the stored version equals
	// expectedVersion, then bumps the version. Returns ErrConflict on
	// mismatch and ErrNotFound if the session is absent.
	UpdateSession(ctx context.Context, update *SessionState, expectedVersion int64) (*SessionState, error)
	// DeleteSession removes a session. Idempotent: deleting an absent
	// session is not an error.
	DeleteSession(ctx context.Context, sessionID string) error
	// DeleteExpiredSessions removes sessions whose expiry passed before now.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	Close() error
}
