package conversation

import (
	apperrors "github.com/duetcast/duetcast/server/internal/errors"
	"github.com/duetcast/duetcast/store"
)

// speakerSlots returns the two alternating slots for a mode, in turn order.
// The first slot produces even pre-turn counts (0, 2, 4, ...).
func speakerSlots(mode store.Mode) (store.Speaker, store.Speaker) {
	if mode == store.ModeHumanVsAgent {
		return store.SpeakerAgent1, store.SpeakerHuman
	}
	return store.SpeakerAgent1, store.SpeakerAgent2
}

// speakerForTurn returns who produces the turn at the given pre-turn count.
// Alternation is strict, derived purely from the count so concurrent callers
// cannot skew it.
func speakerForTurn(mode store.Mode, turnCount int) store.Speaker {
	first, second := speakerSlots(mode)
	if turnCount%2 == 0 {
		return first
	}
	return second
}

// resolveSpeaker applies an optional override on top of the derived speaker.
// Overrides must name a slot that participates in the session's mode.
func resolveSpeaker(mode store.Mode, turnCount int, override store.Speaker) (store.Speaker, error) {
	derived := speakerForTurn(mode, turnCount)
	if override == "" {
		return derived, nil
	}
	if !override.Valid() {
		return "", apperrors.InvalidRequest("unknown speaker: " + string(override))
	}
	first, second := speakerSlots(mode)
	if override != first && override != second {
		return "", apperrors.InvalidRequest("speaker " + string(override) + " does not participate in mode " + string(mode))
	}
	return override, nil
}

// displayName renders a speaker slot the way it appears in prompts.
func displayName(s store.Speaker) string {
	switch s {
	case store.SpeakerAgent1:
		return "Agent 1"
	case store.SpeakerAgent2:
		return "Agent 2"
	case store.SpeakerHuman:
		return "Human"
	}
	return string(s)
}

// otherSpeaker returns the opposite slot in the mode's alternation.
func otherSpeaker(mode store.Mode, s store.Speaker) store.Speaker {
	first, second := speakerSlots(mode)
	if s == first {
		return second
	}
	return first
}
