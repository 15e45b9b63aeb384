package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// errLockTimeout is returned when a session lock could not be acquired
// within the configured bound.
var errLockTimeout = errors.New("timed out waiting for session lock")

// sessionLocks serializes turn processing per session. Entries are reference
// counted so the map does not grow with every session ever seen.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	ch   chan struct{}
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// Acquire takes the lock for a session, waiting at most timeout. It returns
// a release function on success.
func (l *sessionLocks) Acquire(ctx context.Context, sessionID string, timeout time.Duration) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[sessionID]
	if !ok {
		entry = &sessionLock{ch: make(chan struct{}, 1)}
		l.locks[sessionID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case entry.ch <- struct{}{}:
		return func() {
			<-entry.ch
			l.unref(sessionID, entry)
		}, nil
	case <-timer.C:
		l.unref(sessionID, entry)
		return nil, errLockTimeout
	case <-ctx.Done():
		l.unref(sessionID, entry)
		return nil, ctx.Err()
	}
}

func (l *sessionLocks) unref(sessionID string, entry *sessionLock) {
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, sessionID)
	}
	l.mu.Unlock()
}
