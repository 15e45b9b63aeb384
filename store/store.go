package store

import (
	"context"
	"time"

	"github.com/duetcast/duetcast/internal/profile"
	"github.com/duetcast/duetcast/store/cache"
)

// Store provides access to persisted session state. Reads for status/history
// polling are served from an in-process cache; the driver remains the source
// of truth for the compare-and-swap on writes.
type Store struct {
	profile *profile.Profile
	driver  Driver

	sessionCache *cache.Cache
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
		sessionCache: cache.New(cache.Config{
			DefaultTTL:      10 * time.Minute,
			CleanupInterval: 5 * time.Minute,
			MaxItems:        1000,
		}),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	s.sessionCache.Close()
	return s.driver.Close()
}

// Migrate ensures the schema exists.
func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

// CreateSession persists a fresh session.
func (s *Store) CreateSession(ctx context.Context, create *SessionState) (*SessionState, error) {
	created, err := s.driver.CreateSession(ctx, create)
	if err != nil {
		return nil, err
	}
	s.sessionCache.Set(ctx, created.SessionID, created.Clone())
	return created, nil
}

// GetSession loads a session, preferring the cache.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*SessionState, error) {
	if v, ok := s.sessionCache.Get(ctx, sessionID); ok {
		if state, ok := v.(*SessionState); ok {
			if state.Expired(time.Now()) {
				s.sessionCache.Delete(ctx, sessionID)
				return nil, ErrNotFound
			}
			return state.Clone(), nil
		}
	}
	return s.ReloadSession(ctx, sessionID)
}

// ReloadSession bypasses the cache, used after a version conflict.
func (s *Store) ReloadSession(ctx context.Context, sessionID string) (*SessionState, error) {
	state, err := s.driver.GetSession(ctx, sessionID)
	if err != nil {
		if err == ErrNotFound {
			s.sessionCache.Delete(ctx, sessionID)
		}
		return nil, err
	}
	s.sessionCache.Set(ctx, sessionID, state.Clone())
	return state, nil
}

// UpdateSession writes a session guarded by expectedVersion. On conflict the
// cache entry is dropped so the next read observes the winning write.
func (s *Store) UpdateSession(ctx context.Context, update *SessionState, expectedVersion int64) (*SessionState, error) {
	updated, err := s.driver.UpdateSession(ctx, update, expectedVersion)
	if err != nil {
		if err == ErrConflict || err == ErrNotFound {
			s.sessionCache.Delete(ctx, update.SessionID)
		}
		return nil, err
	}
	s.sessionCache.Set(ctx, updated.SessionID, updated.Clone())
	return updated, nil
}

// DeleteSession removes a session. Idempotent.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	s.sessionCache.Delete(ctx, sessionID)
	return s.driver.DeleteSession(ctx, sessionID)
}

// DeleteExpiredSessions removes sessions past their expiry.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return s.driver.DeleteExpiredSessions(ctx, now)
}
