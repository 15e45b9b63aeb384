package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duetcast/duetcast/internal/profile"
	"github.com/duetcast/duetcast/internal/retry"
	"github.com/duetcast/duetcast/plugin/generation"
	"github.com/duetcast/duetcast/plugin/speech"
	apperrors "github.com/duetcast/duetcast/server/internal/errors"
	"github.com/duetcast/duetcast/store"
	"github.com/duetcast/duetcast/store/db/memory"
)

func newTestService(t *testing.T, generator generation.Service, synthesizer speech.Service, mutate func(*Config)) *Service {
	t.Helper()

	st := store.New(memory.NewDB(), &profile.Profile{})
	t.Cleanup(func() { _ = st.Close() })

	config := Config{
		HistoryWindow: 10,
		GenMaxTokens:  200,
		SessionTTL:    24 * time.Hour,
		Retry:         retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond},
	}
	if mutate != nil {
		mutate(&config)
	}
	return NewService(st, generator, synthesizer, config)
}

func initAgentSession(t *testing.T, svc *Service, maxTurns int) *store.SessionState {
	t.Helper()
	state, err := svc.InitSession(context.Background(), InitRequest{
		Mode: store.ModeAgentVsAgent,
		Personas: map[store.Speaker]string{
			store.SpeakerAgent1: "a cheerful barista",
			store.SpeakerAgent2: "a grumpy food critic",
		},
		Scenario: "meeting at a coffee shop",
		MaxTurns: maxTurns,
	})
	require.NoError(t, err)
	return state
}

func TestInitSession(t *testing.T) {
	ctx := context.Background()

	t.Run("CreatesActiveSession", func(t *testing.T) {
		svc := newTestService(t, generation.NewMockService(), nil, nil)
		state := initAgentSession(t, svc, 6)

		require.NotEmpty(t, state.SessionID)
		require.Equal(t, store.StatusActive, state.Status)
		require.Zero(t, state.TurnCount)
		require.Empty(t, state.History)
		require.Equal(t, int64(1), state.Version)
		require.True(t, state.ExpiresAt.After(time.Now()))
	})

	t.Run("DefaultsModeAndMaxTurns", func(t *testing.T) {
		svc := newTestService(t, generation.NewMockService(), nil, nil)
		state, err := svc.InitSession(ctx, InitRequest{
			Personas: map[store.Speaker]string{
				store.SpeakerAgent1: "p1",
				store.SpeakerAgent2: "p2",
			},
		})
		require.NoError(t, err)
		require.Equal(t, store.ModeAgentVsAgent, state.Mode)
		require.Equal(t, defaultMaxTurns, state.MaxTurns)
	})

	t.Run("RejectsUnknownMode", func(t *testing.T) {
		svc := newTestService(t, generation.NewMockService(), nil, nil)
		_, err := svc.InitSession(ctx, InitRequest{Mode: store.Mode("TRIO")})
		require.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidRequest))
	})

	t.Run("RejectsNegativeMaxTurns", func(t *testing.T) {
		svc := newTestService(t, generation.NewMockService(), nil, nil)
		_, err := svc.InitSession(ctx, InitRequest{
			Mode:     store.ModeAgentVsAgent,
			MaxTurns: -1,
			Personas: map[store.Speaker]string{
				store.SpeakerAgent1: "p1",
				store.SpeakerAgent2: "p2",
			},
		})
		require.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidRequest))
	})

	t.Run("RequiresAgentPersonas", func(t *testing.T) {
		svc := newTestService(t, generation.NewMockService(), nil, nil)
		_, err := svc.InitSession(ctx, InitRequest{
			Mode:     store.ModeAgentVsAgent,
			Personas: map[store.Speaker]string{store.SpeakerAgent1: "p1"},
		})
		require.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidRequest))
	})

	t.Run("HumanModeNeedsNoHumanPersona", func(t *testing.T) {
		svc := newTestService(t, generation.NewMockService(), nil, nil)
		state, err := svc.InitSession(ctx, InitRequest{
			Mode:     store.ModeHumanVsAgent,
			Personas: map[store.Speaker]string{store.SpeakerAgent1: "p1"},
			MaxTurns: 4,
		})
		require.NoError(t, err)
		require.Equal(t, store.ModeHumanVsAgent, state.Mode)
	})
}

func TestAdvanceTurnAlternation(t *testing.T) {
	ctx := context.Background()
	gen := generation.NewMockService()
	svc := newTestService(t, gen, nil, nil)
	state := initAgentSession(t, svc, 6)

	want := []store.Speaker{store.SpeakerAgent1, store.SpeakerAgent2, store.SpeakerAgent1, store.SpeakerAgent2}
	for i, expected := range want {
		result, err := svc.AdvanceTurn(ctx, AdvanceRequest{SessionID: state.SessionID})
		require.NoError(t, err)
		require.Equal(t, expected, result.Record.Speaker)
		require.Equal(t, i+1, result.Record.TurnNumber)
		require.Equal(t, i+1, result.TurnCount)
		require.False(t, result.IsComplete)
	}

	loaded, err := svc.GetSession(ctx, state.SessionID)
	require.NoError(t, err)
	require.Len(t, loaded.History, 4)
}

func TestAdvanceTurnPhaseProgression(t *testing.T) {
	// A six-turn session walks introduction into flirt but never reaches
	// roast: the last turn is produced at ratio 5/6.
	ctx := context.Background()
	svc := newTestService(t, generation.NewMockService(), nil, nil)
	state := initAgentSession(t, svc, 6)

	want := []store.Phase{
		store.PhaseIntroduction,
		store.PhaseIntroduction,
		store.PhaseConversation,
		store.PhaseConversation,
		store.PhaseConversation,
		store.PhaseFlirt,
	}
	for i, expected := range want {
		result, err := svc.AdvanceTurn(ctx, AdvanceRequest{SessionID: state.SessionID})
		require.NoError(t, err)
		require.Equal(t, expected, result.Phase, "turn %d", i+1)
		require.Equal(t, expected, result.Record.Phase)
	}
}

func TestAdvanceTurnCompletion(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, generation.NewMockService(), nil, nil)
	state := initAgentSession(t, svc, 2)

	result, err := svc.AdvanceTurn(ctx, AdvanceRequest{SessionID: state.SessionID})
	require.NoError(t, err)
	require.False(t, result.IsComplete)

	result, err = svc.AdvanceTurn(ctx, AdvanceRequest{SessionID: state.SessionID})
	require.NoError(t, err)
	require.True(t, result.IsComplete)

	loaded, err := svc.GetSession(ctx, state.SessionID)
	require.NoError(t, err)
	require.Equal(t, store.StatusComplete, loaded.Status)

	// Advancing a complete session is rejected and leaves history intact.
	_, err = svc.AdvanceTurn(ctx, AdvanceRequest{SessionID: state.SessionID})
	require.True(t, apperrors.IsCode(err, apperrors.ErrCodeConversationComplete))

	after, err := svc.GetSession(ctx, state.SessionID)
	require.NoError(t, err)
	require.Equal(t, loaded.TurnCount, after.TurnCount)
	require.Len(t, after.History, 2)
}

func TestAdvanceTurnHumanMode(t *testing.T) {
	ctx := context.Background()
	gen := generation.NewMockService()
	svc := newTestService(t, gen, nil, nil)

	state, err := svc.InitSession(ctx, InitRequest{
		Mode:     store.ModeHumanVsAgent,
		Personas: map[store.Speaker]string{store.SpeakerAgent1: "a tour guide"},
		MaxTurns: 4,
	})
	require.NoError(t, err)

	// Turn 1 is the agent's.
	result, err := svc.AdvanceTurn(ctx, AdvanceRequest{SessionID: state.SessionID})
	require.NoError(t, err)
	require.Equal(t, store.SpeakerAgent1, result.Record.Speaker)
	require.Equal(t, store.SpeakerHuman, result.NextSpeaker)

	// Turn 2 is the human's and requires text.
	_, err = svc.AdvanceTurn(ctx, AdvanceRequest{SessionID: state.SessionID})
	require.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidRequest))

	result, err = svc.AdvanceTurn(ctx, AdvanceRequest{SessionID: state.SessionID, HumanText: "  Where are we headed?  "})
	require.NoError(t, err)
	require.Equal(t, store.SpeakerHuman, result.Record.Speaker)
	require.Equal(t, "Where are we headed?", result.Record.Text)
	require.Empty(t, result.Record.AudioRef)

	// The human turn never hit the generator.
	require.Equal(t, 1, gen.Calls())
}

func TestAdvanceTurnHumanTextIgnoredOnAgentTurn(t *testing.T) {
	ctx := context.Background()
	gen := generation.NewMockService()
	gen.Lines = []string{"generated line"}
	svc := newTestService(t, gen, nil, nil)
	state := initAgentSession(t, svc, 4)

	result, err := svc.AdvanceTurn(ctx, AdvanceRequest{SessionID: state.SessionID, HumanText: "should be ignored"})
	require.NoError(t, err)
	require.Equal(t, "generated line", result.Record.Text)
}

func TestAdvanceTurnForceSpeaker(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, generation.NewMockService(), nil, nil)
	state := initAgentSession(t, svc, 4)

	result, err := svc.AdvanceTurn(ctx, AdvanceRequest{SessionID: state.SessionID, ForceSpeaker: store.SpeakerAgent2})
	require.NoError(t, err)
	require.Equal(t, store.SpeakerAgent2, result.Record.Speaker)

	_, err = svc.AdvanceTurn(ctx, AdvanceRequest{SessionID: state.SessionID, ForceSpeaker: store.SpeakerHuman})
	require.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidRequest))
}

func TestAdvanceTurnGenerationFailureIsAtomic(t *testing.T) {
	ctx := context.Background()
	gen := generation.NewMockService()
	gen.FailTimes = 1
	svc := newTestService(t, gen, nil, nil)
	state := initAgentSession(t, svc, 4)

	_, err := svc.AdvanceTurn(ctx, AdvanceRequest{SessionID: state.SessionID})
	require.True(t, apperrors.IsCode(err, apperrors.ErrCodeUpstreamGeneration))

	// Nothing was persisted.
	loaded, err := svc.GetSession(ctx, state.SessionID)
	require.NoError(t, err)
	require.Zero(t, loaded.TurnCount)
	require.Empty(t, loaded.History)
	require.Equal(t, store.StatusActive, loaded.Status)
}

func TestAdvanceTurnGenerationRetries(t *testing.T) {
	ctx := context.Background()
	gen := generation.NewMockService()
	gen.FailTimes = 1
	svc := newTestService(t, gen, nil, func(c *Config) {
		c.Retry = retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}
	})
	state := initAgentSession(t, svc, 4)

	result, err := svc.AdvanceTurn(ctx, AdvanceRequest{SessionID: state.SessionID})
	require.NoError(t, err)
	require.Equal(t, 1, result.TurnCount)
}

func TestAdvanceTurnSynthesisDegradesGracefully(t *testing.T) {
	ctx := context.Background()

	t.Run("FailureCommitsTextOnly", func(t *testing.T) {
		synth := speech.NewMockService()
		synth.Err = fmt.Errorf("synthesis backend down")
		svc := newTestService(t, generation.NewMockService(), synth, nil)
		state := initAgentSession(t, svc, 4)

		result, err := svc.AdvanceTurn(ctx, AdvanceRequest{SessionID: state.SessionID})
		require.NoError(t, err)
		require.NotEmpty(t, result.Record.Text)
		require.Empty(t, result.Record.AudioRef)
		require.Equal(t, 1, result.TurnCount)
	})

	t.Run("SuccessAttachesAudioRef", func(t *testing.T) {
		synth := speech.NewMockService()
		svc := newTestService(t, generation.NewMockService(), synth, nil)
		state := initAgentSession(t, svc, 4)

		result, err := svc.AdvanceTurn(ctx, AdvanceRequest{SessionID: state.SessionID})
		require.NoError(t, err)
		require.Equal(t, "turn-1.mp3", result.Record.AudioRef)
		require.Equal(t, []string{"alloy"}, synth.Voices())
	})

	t.Run("NilSynthesizerCommitsTextOnly", func(t *testing.T) {
		svc := newTestService(t, generation.NewMockService(), nil, nil)
		state := initAgentSession(t, svc, 4)

		result, err := svc.AdvanceTurn(ctx, AdvanceRequest{SessionID: state.SessionID})
		require.NoError(t, err)
		require.Empty(t, result.Record.AudioRef)
	})
}

func TestAdvanceTurnTimestampsAndExpiry(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, generation.NewMockService(), nil, nil)
	state := initAgentSession(t, svc, 4)
	initialExpiry := state.ExpiresAt

	for i := 0; i < 3; i++ {
		_, err := svc.AdvanceTurn(ctx, AdvanceRequest{SessionID: state.SessionID})
		require.NoError(t, err)
	}

	loaded, err := svc.GetSession(ctx, state.SessionID)
	require.NoError(t, err)
	for i := 1; i < len(loaded.History); i++ {
		require.False(t, loaded.History[i].Timestamp.Before(loaded.History[i-1].Timestamp))
	}
	// Activity pushes expiry forward.
	require.False(t, loaded.ExpiresAt.Before(initialExpiry))
}

func TestAdvanceTurnPromptContext(t *testing.T) {
	ctx := context.Background()
	gen := generation.NewMockService()
	svc := newTestService(t, gen, nil, func(c *Config) {
		c.HistoryWindow = 2
	})
	state := initAgentSession(t, svc, 10)

	for i := 0; i < 4; i++ {
		_, err := svc.AdvanceTurn(ctx, AdvanceRequest{SessionID: state.SessionID})
		require.NoError(t, err)
	}

	last := gen.LastRequest()
	require.Equal(t, "a cheerful barista", last.OtherPersona)
	require.Equal(t, "a grumpy food critic", last.Persona)
	require.Equal(t, "meeting at a coffee shop", last.Scenario)
	require.Len(t, last.History, 2)
	require.Equal(t, "Agent 2", last.History[0].Speaker)
	require.Equal(t, "Agent 1", last.History[1].Speaker)
	require.Equal(t, InstructionFor(store.PhaseConversation), last.PhaseInstruction)
}

func TestAdvanceTurnConcurrentCallsSerialize(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, generation.NewMockService(), nil, func(c *Config) {
		c.LockWait = 5 * time.Second
	})
	state := initAgentSession(t, svc, 8)

	const callers = 6
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.AdvanceTurn(ctx, AdvanceRequest{SessionID: state.SessionID})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	loaded, err := svc.GetSession(ctx, state.SessionID)
	require.NoError(t, err)
	require.Equal(t, callers, loaded.TurnCount)
	require.Len(t, loaded.History, callers)
	for i, record := range loaded.History {
		require.Equal(t, i+1, record.TurnNumber)
		require.Equal(t, speakerForTurn(store.ModeAgentVsAgent, i), record.Speaker)
	}
}

type blockingGenerator struct {
	started chan struct{}
	unblock chan struct{}
}

func (g *blockingGenerator) Generate(ctx context.Context, _ generation.Request) (string, error) {
	close(g.started)
	select {
	case <-g.unblock:
		return "finally", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestAdvanceTurnLockWaitIsBounded(t *testing.T) {
	ctx := context.Background()
	gen := &blockingGenerator{started: make(chan struct{}), unblock: make(chan struct{})}
	svc := newTestService(t, gen, nil, func(c *Config) {
		c.LockWait = 30 * time.Millisecond
	})
	state := initAgentSession(t, svc, 4)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.AdvanceTurn(ctx, AdvanceRequest{SessionID: state.SessionID})
	}()

	<-gen.started
	_, err := svc.AdvanceTurn(ctx, AdvanceRequest{SessionID: state.SessionID})
	require.True(t, apperrors.IsCode(err, apperrors.ErrCodeConflict))

	close(gen.unblock)
	<-done
}

func TestAdvanceTurnStoreConflictRecomputes(t *testing.T) {
	ctx := context.Background()
	gen := generation.NewMockService()
	svc := newTestService(t, gen, nil, nil)
	state := initAgentSession(t, svc, 4)

	// Hold a stale copy, then let another writer win the version race.
	stale, err := svc.store.GetSession(ctx, state.SessionID)
	require.NoError(t, err)
	winner, err := svc.store.GetSession(ctx, state.SessionID)
	require.NoError(t, err)
	_, err = svc.store.UpdateSession(ctx, winner, winner.Version)
	require.NoError(t, err)

	// Committing against the stale version surfaces the sentinel the
	// AdvanceTurn loop retries on.
	_, err = svc.executeTurn(ctx, stale, AdvanceRequest{SessionID: state.SessionID})
	require.ErrorIs(t, err, store.ErrConflict)

	// The public path reloads and commits cleanly.
	result, err := svc.AdvanceTurn(ctx, AdvanceRequest{SessionID: state.SessionID})
	require.NoError(t, err)
	require.Equal(t, 1, result.TurnCount)
	// Generation ran once for the conflicted attempt and once for the
	// committed one.
	require.Equal(t, 2, gen.Calls())
}

func TestGetAndDeleteSession(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, generation.NewMockService(), nil, nil)

	t.Run("MissingSessionIsNotFound", func(t *testing.T) {
		_, err := svc.GetSession(ctx, "ghost")
		require.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
	})

	t.Run("EmptyIDIsInvalid", func(t *testing.T) {
		_, err := svc.GetSession(ctx, "  ")
		require.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidRequest))
		err = svc.DeleteSession(ctx, "")
		require.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidRequest))
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		state := initAgentSession(t, svc, 4)
		require.NoError(t, svc.DeleteSession(ctx, state.SessionID))
		require.NoError(t, svc.DeleteSession(ctx, state.SessionID))

		_, err := svc.GetSession(ctx, state.SessionID)
		require.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
	})
}

func TestConfigFromProfile(t *testing.T) {
	p := &profile.Profile{
		HistoryWindow:    7,
		GenMaxTokens:     150,
		SessionTTL:       time.Hour,
		PhaseIntroEnd:    20,
		PhaseTalkEnd:     60,
		PhaseFlirtEnd:    90,
		RetryMaxAttempts: 2,
		RetryBaseDelay:   time.Millisecond,
		GenTimeout:       10 * time.Second,
		SynthTimeout:     10 * time.Second,
		MaxInflightTurns: 4,
	}
	config := ConfigFromProfile(p)
	require.Equal(t, 7, config.HistoryWindow)
	require.Equal(t, PhasePolicy{IntroEnd: 20, TalkEnd: 60, FlirtEnd: 90}, config.Phases)
	require.Equal(t, 25*time.Second, config.LockWait)
	require.Equal(t, int64(4), config.MaxInflightTurns)
}
