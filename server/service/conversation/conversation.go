// Package conversation orchestrates scripted multi-turn conversations:
// speaker alternation, phase progression, text generation, speech synthesis
// and atomic persistence of each produced turn.
package conversation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/duetcast/duetcast/internal/profile"
	"github.com/duetcast/duetcast/internal/retry"
	"github.com/duetcast/duetcast/plugin/generation"
	"github.com/duetcast/duetcast/plugin/speech"
	apperrors "github.com/duetcast/duetcast/server/internal/errors"
	"github.com/duetcast/duetcast/server/internal/observability"
	"github.com/duetcast/duetcast/store"
)

const defaultMaxTurns = 20

// Config carries the orchestrator knobs. Zero values are replaced with
// defaults by NewService.
type Config struct {
	HistoryWindow int
	GenMaxTokens  int
	SessionTTL    time.Duration

	Phases PhasePolicy
	// Voices maps speaker slots to provider voice selectors.
	Voices map[store.Speaker]string
	// SynthesizeHumanTurns enables audio for human-supplied turns.
	SynthesizeHumanTurns bool

	// Retry governs upstream generation and synthesis attempts.
	Retry retry.Policy
	// ConflictRetries bounds internal re-attempts after a store version
	// conflict. The whole turn is recomputed on each attempt.
	ConflictRetries int
	// LockWait bounds how long a turn waits for its session lock.
	LockWait time.Duration
	// MaxInflightTurns bounds concurrent upstream calls across all sessions.
	MaxInflightTurns int64
}

// DefaultVoices is the stock slot-to-voice assignment.
func DefaultVoices() map[store.Speaker]string {
	return map[store.Speaker]string{
		store.SpeakerAgent1: "alloy",
		store.SpeakerAgent2: "echo",
		store.SpeakerHuman:  "nova",
	}
}

// ConfigFromProfile derives orchestrator configuration from the server
// profile.
func ConfigFromProfile(p *profile.Profile) Config {
	return Config{
		HistoryWindow:        p.HistoryWindow,
		GenMaxTokens:         p.GenMaxTokens,
		SessionTTL:           p.SessionTTL,
		Phases:               PhasePolicy{IntroEnd: p.PhaseIntroEnd, TalkEnd: p.PhaseTalkEnd, FlirtEnd: p.PhaseFlirtEnd},
		Voices:               DefaultVoices(),
		SynthesizeHumanTurns: p.SynthesizeHumanTurns,
		Retry:                retry.Policy{MaxAttempts: p.RetryMaxAttempts, BaseDelay: p.RetryBaseDelay},
		ConflictRetries:      3,
		LockWait:             p.GenTimeout + p.SynthTimeout + 5*time.Second,
		MaxInflightTurns:     int64(p.MaxInflightTurns),
	}
}

// Service runs conversations. Speech synthesis is optional: a nil
// synthesizer commits turns without audio.
type Service struct {
	store       *store.Store
	generator   generation.Service
	synthesizer speech.Service
	config      Config
	locks       *sessionLocks
	inflight    *semaphore.Weighted
	metrics     *observability.Metrics
}

// NewService creates a conversation orchestrator.
func NewService(st *store.Store, generator generation.Service, synthesizer speech.Service, config Config) *Service {
	if config.HistoryWindow < 1 {
		config.HistoryWindow = 10
	}
	if config.GenMaxTokens <= 0 {
		config.GenMaxTokens = 200
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = 24 * time.Hour
	}
	if config.Phases == (PhasePolicy{}) {
		config.Phases = DefaultPhasePolicy()
	}
	if config.Voices == nil {
		config.Voices = DefaultVoices()
	}
	if config.Retry.MaxAttempts < 1 {
		config.Retry = retry.DefaultPolicy()
	}
	if config.ConflictRetries < 1 {
		config.ConflictRetries = 3
	}
	if config.LockWait <= 0 {
		config.LockWait = 65 * time.Second
	}
	if config.MaxInflightTurns < 1 {
		config.MaxInflightTurns = 8
	}

	return &Service{
		store:       st,
		generator:   generator,
		synthesizer: synthesizer,
		config:      config,
		locks:       newSessionLocks(),
		inflight:    semaphore.NewWeighted(config.MaxInflightTurns),
		metrics:     observability.GlobalMetrics(),
	}
}

// InitRequest describes a new session.
type InitRequest struct {
	Mode     store.Mode
	Personas map[store.Speaker]string
	Scenario string
	MaxTurns int
}

// InitSession validates the request, assigns a session ID and persists the
// initial state.
func (s *Service) InitSession(ctx context.Context, req InitRequest) (*store.SessionState, error) {
	if req.Mode == "" {
		req.Mode = store.ModeAgentVsAgent
	}
	if !req.Mode.Valid() {
		return nil, apperrors.InvalidRequest("unknown conversation mode: " + string(req.Mode))
	}
	if req.MaxTurns == 0 {
		req.MaxTurns = defaultMaxTurns
	}
	if req.MaxTurns < 1 {
		return nil, apperrors.InvalidRequest("max turns must be at least 1")
	}

	personas := make(map[store.Speaker]string, len(req.Personas))
	for slot, persona := range req.Personas {
		if !slot.Valid() {
			return nil, apperrors.InvalidRequest("unknown persona slot: " + string(slot))
		}
		personas[slot] = strings.TrimSpace(persona)
	}
	first, second := speakerSlots(req.Mode)
	for _, slot := range []store.Speaker{first, second} {
		if slot == store.SpeakerHuman {
			// Human participants speak for themselves.
			continue
		}
		if personas[slot] == "" {
			return nil, apperrors.InvalidRequest("persona is required for " + string(slot))
		}
	}

	now := time.Now().UTC()
	state := &store.SessionState{
		SessionID: uuid.New().String(),
		Mode:      req.Mode,
		Personas:  personas,
		Scenario:  strings.TrimSpace(req.Scenario),
		MaxTurns:  req.MaxTurns,
		TurnCount: 0,
		History:   []store.TurnRecord{},
		Status:    store.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.config.SessionTTL),
	}

	created, err := s.store.CreateSession(ctx, state)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}

	s.metrics.RecordSessionOpened()
	if rc, ok := observability.FromContext(ctx); ok {
		rc.Info("session initialized",
			slog.String(observability.LogFieldSessionID, created.SessionID),
			slog.String("mode", string(created.Mode)),
			slog.Int("max_turns", created.MaxTurns))
	}
	return created, nil
}

// AdvanceRequest asks for the next turn of a session.
type AdvanceRequest struct {
	SessionID string
	// HumanText supplies the utterance when the derived speaker is HUMAN.
	// Ignored on agent turns.
	HumanText string
	// ForceSpeaker overrides the derived speaker. Must name a slot that
	// participates in the session's mode.
	ForceSpeaker store.Speaker
}

// TurnResult is the outcome of one committed turn.
type TurnResult struct {
	SessionID   string           `json:"session_id"`
	Record      store.TurnRecord `json:"message"`
	NextSpeaker store.Speaker    `json:"next_speaker"`
	Phase       store.Phase      `json:"conversation_phase"`
	TurnCount   int              `json:"turn_count"`
	IsComplete  bool             `json:"is_conversation_complete"`
}

// AdvanceTurn produces and commits exactly one turn. The turn is atomic: on
// generation failure nothing is persisted; on synthesis failure the turn
// commits without audio. Concurrent calls against the same session are
// serialized, and store version conflicts trigger a bounded internal
// recompute.
func (s *Service) AdvanceTurn(ctx context.Context, req AdvanceRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, apperrors.InvalidRequest("session id is required")
	}

	release, err := s.locks.Acquire(ctx, req.SessionID, s.config.LockWait)
	if err != nil {
		if err == errLockTimeout {
			return nil, apperrors.Conflict(req.SessionID)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidRequest, "request cancelled")
	}
	defer release()

	started := time.Now()
	for attempt := 0; attempt < s.config.ConflictRetries; attempt++ {
		var state *store.SessionState
		if attempt == 0 {
			state, err = s.store.GetSession(ctx, req.SessionID)
		} else {
			state, err = s.store.ReloadSession(ctx, req.SessionID)
		}
		if err != nil {
			return nil, mapStoreError(err, req.SessionID)
		}

		result, err := s.executeTurn(ctx, state, req)
		if err != nil {
			if err == store.ErrConflict {
				s.metrics.RecordConflictRetry()
				continue
			}
			s.metrics.RecordTurnFailure()
			return nil, err
		}

		s.metrics.RecordTurn()
		s.metrics.RecordTurnDuration(time.Since(started))
		if rc, ok := observability.FromContext(ctx); ok {
			rc.Info("turn committed",
				slog.String(observability.LogFieldSpeaker, string(result.Record.Speaker)),
				slog.String(observability.LogFieldPhase, string(result.Phase)),
				slog.Int(observability.LogFieldTurn, result.Record.TurnNumber),
				slog.Int64(observability.LogFieldDuration, time.Since(started).Milliseconds()))
		}
		return result, nil
	}

	s.metrics.RecordTurnFailure()
	return nil, apperrors.Conflict(req.SessionID)
}

// executeTurn runs one full attempt: derive phase and speaker, produce text
// and audio, then commit guarded by the loaded version. A store.ErrConflict
// return means the caller should reload and re-attempt.
func (s *Service) executeTurn(ctx context.Context, state *store.SessionState, req AdvanceRequest) (*TurnResult, error) {
	if state.Status == store.StatusComplete || state.TurnCount >= state.MaxTurns {
		return nil, apperrors.ConversationComplete(state.SessionID)
	}

	phase := s.config.Phases.PhaseFor(state.TurnCount, state.MaxTurns)
	speaker, err := resolveSpeaker(state.Mode, state.TurnCount, req.ForceSpeaker)
	if err != nil {
		return nil, err
	}

	text, audioRef, err := s.produceUtterance(ctx, state, speaker, phase, req.HumanText)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().UTC()
	if n := len(state.History); n > 0 && timestamp.Before(state.History[n-1].Timestamp) {
		timestamp = state.History[n-1].Timestamp
	}

	record := store.TurnRecord{
		Speaker:    speaker,
		Text:       text,
		AudioRef:   audioRef,
		TurnNumber: state.TurnCount + 1,
		Phase:      phase,
		Timestamp:  timestamp,
	}

	expectedVersion := state.Version
	state.History = append(state.History, record)
	state.TurnCount++
	if state.TurnCount >= state.MaxTurns {
		state.Status = store.StatusComplete
	}
	state.UpdatedAt = timestamp
	state.ExpiresAt = timestamp.Add(s.config.SessionTTL)

	updated, err := s.store.UpdateSession(ctx, state, expectedVersion)
	if err != nil {
		if err == store.ErrConflict {
			return nil, store.ErrConflict
		}
		return nil, mapStoreError(err, state.SessionID)
	}

	return &TurnResult{
		SessionID:   updated.SessionID,
		Record:      record,
		NextSpeaker: speakerForTurn(updated.Mode, updated.TurnCount),
		Phase:       phase,
		TurnCount:   updated.TurnCount,
		IsComplete:  updated.Status == store.StatusComplete,
	}, nil
}

// produceUtterance yields the turn's text and optional audio reference.
// Generation failures abort the turn; synthesis failures degrade to
// text-only.
func (s *Service) produceUtterance(ctx context.Context, state *store.SessionState, speaker store.Speaker, phase store.Phase, humanText string) (string, string, error) {
	var text string
	if speaker == store.SpeakerHuman {
		text = strings.TrimSpace(humanText)
		if text == "" {
			return "", "", apperrors.InvalidRequest("human text is required for a human turn")
		}
	} else {
		if err := s.inflight.Acquire(ctx, 1); err != nil {
			return "", "", apperrors.Wrap(err, apperrors.ErrCodeInvalidRequest, "request cancelled")
		}
		genErr := s.config.Retry.Do(ctx, "generation", func() error {
			generated, err := s.generator.Generate(ctx, s.buildGenerationRequest(state, speaker, phase))
			if err != nil {
				return err
			}
			text = generated
			return nil
		})
		s.inflight.Release(1)
		if genErr != nil {
			return "", "", apperrors.UpstreamGeneration(genErr)
		}
	}

	audioRef := s.synthesize(ctx, state.SessionID, speaker, text)
	return text, audioRef, nil
}

// synthesize returns an audio artifact reference, or "" when synthesis is
// disabled, skipped for the speaker, or has failed past its retry budget.
func (s *Service) synthesize(ctx context.Context, sessionID string, speaker store.Speaker, text string) string {
	if s.synthesizer == nil {
		return ""
	}
	if speaker == store.SpeakerHuman && !s.config.SynthesizeHumanTurns {
		return ""
	}

	if err := s.inflight.Acquire(ctx, 1); err != nil {
		return ""
	}
	defer s.inflight.Release(1)

	var audioRef string
	err := s.config.Retry.Do(ctx, "synthesis", func() error {
		ref, err := s.synthesizer.Synthesize(ctx, text, s.voiceFor(speaker))
		if err != nil {
			return err
		}
		audioRef = ref
		return nil
	})
	if err != nil {
		s.metrics.RecordSynthesisSkipped()
		if rc, ok := observability.FromContext(ctx); ok {
			rc.Warn("synthesis failed, committing turn without audio",
				slog.String(observability.LogFieldSessionID, sessionID),
				slog.String(observability.LogFieldSpeaker, string(speaker)),
				slog.String("error", err.Error()))
		}
		return ""
	}
	return audioRef
}

// GetSession returns the current session state.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*store.SessionState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, apperrors.InvalidRequest("session id is required")
	}
	state, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, mapStoreError(err, sessionID)
	}
	return state, nil
}

// DeleteSession removes a session. Deleting an absent session succeeds.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return apperrors.InvalidRequest("session id is required")
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return apperrors.StoreUnavailable(err)
	}
	return nil
}

func (s *Service) voiceFor(speaker store.Speaker) string {
	if voice, ok := s.config.Voices[speaker]; ok {
		return voice
	}
	return "alloy"
}

func mapStoreError(err error, sessionID string) error {
	switch err {
	case store.ErrNotFound:
		return apperrors.NotFound(sessionID)
	case store.ErrConflict:
		return apperrors.Conflict(sessionID)
	default:
		return apperrors.StoreUnavailable(err)
	}
}
