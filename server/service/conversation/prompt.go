package conversation

import (
	"github.com/duetcast/duetcast/plugin/generation"
	"github.com/duetcast/duetcast/store"
)

// historyWindow converts the tail of a session's history into generation
// exchanges. Only the last window turns are sent upstream to keep the prompt
// bounded on long conversations.
func historyWindow(history []store.TurnRecord, window int) []generation.Exchange {
	if window < 1 {
		window = 1
	}
	start := 0
	if len(history) > window {
		start = len(history) - window
	}

	exchanges := make([]generation.Exchange, 0, len(history)-start)
	for _, record := range history[start:] {
		exchanges = append(exchanges, generation.Exchange{
			Speaker: displayName(record.Speaker),
			Text:    record.Text,
		})
	}
	return exchanges
}

// buildGenerationRequest assembles everything the generation service needs
// for one agent turn.
func (s *Service) buildGenerationRequest(state *store.SessionState, speaker store.Speaker, phase store.Phase) generation.Request {
	return generation.Request{
		Persona:          state.Personas[speaker],
		OtherPersona:     state.Personas[otherSpeaker(state.Mode, speaker)],
		PhaseInstruction: InstructionFor(phase),
		Scenario:         state.Scenario,
		History:          historyWindow(state.History, s.config.HistoryWindow),
		MaxTokens:        s.config.GenMaxTokens,
	}
}
