package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duetcast/duetcast/internal/profile"
	"github.com/duetcast/duetcast/store"
	"github.com/duetcast/duetcast/store/db/memory"
)

func newTestStore() *store.Store {
	return store.New(memory.NewDB(), &profile.Profile{Mode: "dev", Driver: "memory"})
}

func newState(id string) *store.SessionState {
	now := time.Now()
	return &store.SessionState{
		SessionID: id,
		Mode:      store.ModeAgentVsAgent,
		Personas: map[store.Speaker]string{
			store.SpeakerAgent1: "P1",
			store.SpeakerAgent2: "P2",
		},
		MaxTurns:  4,
		History:   []store.TurnRecord{},
		Status:    store.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("CreateThenGetServesCachedCopy", func(t *testing.T) {
		s := newTestStore()
		defer s.Close()

		created, err := s.CreateSession(ctx, newState("s1"))
		require.NoError(t, err)

		loaded, err := s.GetSession(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, created.Version, loaded.Version)

		// Mutating the returned value must not poison the cache.
		loaded.TurnCount = 99
		again, err := s.GetSession(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, 0, again.TurnCount)
	})

	t.Run("UpdateRefreshesCache", func(t *testing.T) {
		s := newTestStore()
		defer s.Close()

		created, err := s.CreateSession(ctx, newState("s1"))
		require.NoError(t, err)

		created.TurnCount = 1
		updated, err := s.UpdateSession(ctx, created, created.Version)
		require.NoError(t, err)

		loaded, err := s.GetSession(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, updated.Version, loaded.Version)
		require.Equal(t, 1, loaded.TurnCount)
	})

	t.Run("ConflictInvalidatesCache", func(t *testing.T) {
		s := newTestStore()
		defer s.Close()

		created, err := s.CreateSession(ctx, newState("s1"))
		require.NoError(t, err)

		// Writer A wins.
		winner := created.Clone()
		winner.TurnCount = 1
		_, err = s.UpdateSession(ctx, winner, created.Version)
		require.NoError(t, err)

		// Writer B loses and must observe the winning write on reload.
		loser := created.Clone()
		loser.TurnCount = 1
		_, err = s.UpdateSession(ctx, loser, created.Version)
		require.ErrorIs(t, err, store.ErrConflict)

		reloaded, err := s.ReloadSession(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, 1, reloaded.TurnCount)
	})

	t.Run("DeleteRemovesFromCacheAndDriver", func(t *testing.T) {
		s := newTestStore()
		defer s.Close()

		_, err := s.CreateSession(ctx, newState("s1"))
		require.NoError(t, err)

		require.NoError(t, s.DeleteSession(ctx, "s1"))
		_, err = s.GetSession(ctx, "s1")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("ExpiredCachedSessionIsNotFound", func(t *testing.T) {
		s := newTestStore()
		defer s.Close()

		state := newState("s1")
		state.ExpiresAt = time.Now().Add(20 * time.Millisecond)
		_, err := s.CreateSession(ctx, state)
		require.NoError(t, err)

		time.Sleep(30 * time.Millisecond)
		_, err = s.GetSession(ctx, "s1")
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestSessionCleanupJob(t *testing.T) {
	ctx := context.Background()

	t.Run("RunOnceDeletesExpired", func(t *testing.T) {
		s := newTestStore()
		defer s.Close()

		stale := newState("stale")
		stale.ExpiresAt = time.Now().Add(-time.Minute)
		_, err := s.CreateSession(ctx, stale)
		require.NoError(t, err)
		_, err = s.CreateSession(ctx, newState("fresh"))
		require.NoError(t, err)

		job := store.NewSessionCleanupJob(s, store.CleanupConfig{})
		deleted, err := job.RunOnce(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 1, deleted)
	})

	t.Run("StartAndStop", func(t *testing.T) {
		s := newTestStore()
		defer s.Close()

		job := store.NewSessionCleanupJob(s, store.CleanupConfig{CleanupInterval: time.Minute})
		require.NoError(t, job.Start(ctx))
		require.True(t, job.IsRunning())
		job.Stop()
		require.False(t, job.IsRunning())
	})
}
