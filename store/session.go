package store

import (
	"time"
)

// Mode determines who the two speaker slots belong to.
type Mode string

const (
	// ModeAgentVsAgent alternates two generated agents.
	ModeAgentVsAgent Mode = "AGENT_VS_AGENT"
	// ModeHumanVsAgent substitutes a human for the first slot.
	ModeHumanVsAgent Mode = "HUMAN_VS_AGENT"
)

// Valid reports whether the mode is a known value.
func (m Mode) Valid() bool {
	switch m {
	case ModeAgentVsAgent, ModeHumanVsAgent:
		return true
	}
	return false
}

// Speaker identifies whose utterance a turn represents.
type Speaker string

const (
	SpeakerAgent1 Speaker = "AGENT_1"
	SpeakerAgent2 Speaker = "AGENT_2"
	SpeakerHuman  Speaker = "HUMAN"
)

// Valid reports whether the speaker is a known slot.
func (s Speaker) Valid() bool {
	switch s {
	case SpeakerAgent1, SpeakerAgent2, SpeakerHuman:
		return true
	}
	return false
}

// Phase is the behavioral bucket a turn was generated in, derived from
// conversation progress.
type Phase string

const (
	PhaseIntroduction Phase = "INTRODUCTION"
	PhaseConversation Phase = "CONVERSATION"
	PhaseFlirt        Phase = "FLIRT"
	PhaseRoast        Phase = "ROAST"
)

// Status is the session lifecycle state. Monotonic: once complete, a session
// never reverts to active.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusComplete Status = "COMPLETE"
)

// TurnRecord is one produced utterance.
type TurnRecord struct {
	Speaker    Speaker   `json:"speaker"`
	Text       string    `json:"text"`
	AudioRef   string    `json:"audio_ref,omitempty"`
	TurnNumber int       `json:"turn_number"`
	Phase      Phase     `json:"phase"`
	Timestamp  time.Time `json:"timestamp"`
}

// SessionState is the unit of conversation identity. SessionID, Mode,
// Personas, Scenario and MaxTurns are immutable after creation; TurnCount,
// History and Status are the mutable progress. Version backs the store-level
// compare-and-swap.
type SessionState struct {
	SessionID string             `json:"session_id"`
	Mode      Mode               `json:"mode"`
	Personas  map[Speaker]string `json:"personas"`
	Scenario  string             `json:"scenario,omitempty"`
	MaxTurns  int                `json:"max_turns"`

	TurnCount int          `json:"turn_count"`
	History   []TurnRecord `json:"history"`
	Status    Status       `json:"status"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session has passed its expiry timestamp.
func (s *SessionState) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Clone returns a deep copy so callers can mutate freely.
func (s *SessionState) Clone() *SessionState {
	clone := *s
	clone.Personas = make(map[Speaker]string, len(s.Personas))
	for k, v := range s.Personas {
		clone.Personas[k] = v
	}
	clone.History = make([]TurnRecord, len(s.History))
	copy(clone.History, s.History)
	return &clone
}
