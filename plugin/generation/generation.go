// Package generation provides the text generation service consumed by the
// conversation orchestrator. Providers are black boxes: given a persona, a
// phase instruction and a bounded history window, they return a single
// continuation for one speaker.
package generation

import (
	"context"
)

// Exchange is one prior utterance passed as prompt context.
type Exchange struct {
	Speaker string
	Text    string
}

// Request is the assembled prompt context for one continuation.
type Request struct {
	// Persona describes the speaking agent.
	Persona string
	// OtherPersona describes the agent being spoken to.
	OtherPersona string
	// PhaseInstruction is the behavioral instruction for the active phase.
	PhaseInstruction string
	// Scenario is optional framing for the whole conversation.
	Scenario string
	// History is the most recent window of prior turns, oldest first.
	// Truncation happens upstream; providers must not re-window it.
	History []Exchange
	// MaxTokens bounds the continuation length.
	MaxTokens int
}

// Service is the generation service interface.
type Service interface {
	// Generate returns a single text continuation for the speaking agent.
	Generate(ctx context.Context, req Request) (string, error)
}
