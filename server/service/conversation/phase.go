package conversation

import (
	"github.com/duetcast/duetcast/store"
)

// PhasePolicy maps conversation progress to a behavioral phase. The
// boundaries are percentages of maxTurns; a turn produced at progress ratio
// r = turnCount/maxTurns (computed before the turn commits) falls in the
// phase whose band contains r.
type PhasePolicy struct {
	IntroEnd int
	TalkEnd  int
	FlirtEnd int
}

// DefaultPhasePolicy returns the stock 30/70/85 boundaries.
func DefaultPhasePolicy() PhasePolicy {
	return PhasePolicy{IntroEnd: 30, TalkEnd: 70, FlirtEnd: 85}
}

// PhaseFor derives the phase for the turn about to be produced. turnCount is
// the pre-turn count, so the first turn of any session is always produced in
// the introduction phase.
func (p PhasePolicy) PhaseFor(turnCount, maxTurns int) store.Phase {
	if turnCount <= 0 {
		return store.PhaseIntroduction
	}

	ratio := 1.0
	if maxTurns > 0 {
		ratio = float64(turnCount) / float64(maxTurns)
	}
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}

	percent := ratio * 100
	switch {
	case percent < float64(p.IntroEnd):
		return store.PhaseIntroduction
	case percent < float64(p.TalkEnd):
		return store.PhaseConversation
	case percent < float64(p.FlirtEnd):
		return store.PhaseFlirt
	default:
		return store.PhaseRoast
	}
}

var phaseInstructions = map[store.Phase]string{
	store.PhaseIntroduction: "This is the introduction phase. Be friendly, curious, and try to get to know the other agent. Ask questions about their interests, background, or opinions. Keep the tone light and engaging.",
	store.PhaseConversation: "This is the main conversation phase. Engage in meaningful dialogue based on your persona. Share opinions, experiences, and react to what the other agent says. Be authentic to your character.",
	store.PhaseFlirt:        "This is the flirting phase. Be playful, charming, and slightly flirtatious in your responses. Use humor, compliments, and subtle romantic undertones while staying respectful.",
	store.PhaseRoast:        "This is the roasting phase. Be witty, sarcastic, and playfully mock the other agent. Use clever insults and humorous jabs, but keep it fun and not genuinely mean-spirited.",
}

// InstructionFor returns the behavioral instruction injected into the system
// prompt for a phase.
func InstructionFor(phase store.Phase) string {
	if instruction, ok := phaseInstructions[phase]; ok {
		return instruction
	}
	return "Engage in natural conversation."
}
