package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/duetcast/duetcast/server/internal/observability"
	"github.com/duetcast/duetcast/store"
)

// SessionResponse is the full session view returned by GET /session/:id.
type SessionResponse struct {
	SessionID string            `json:"session_id"`
	Mode      store.Mode        `json:"mode"`
	Personas  map[string]string `json:"personas"`
	Scenario  string            `json:"scenario,omitempty"`
	MaxTurns  int               `json:"max_turns"`
	TurnCount int               `json:"turn_count"`
	Status    store.Status      `json:"status"`
	History   []ChatMessage     `json:"history"`
	CreatedAt string            `json:"created_at"`
	UpdatedAt string            `json:"updated_at"`
	ExpiresAt string            `json:"expires_at"`
}

func toSessionResponse(state *store.SessionState) SessionResponse {
	personas := make(map[string]string, len(state.Personas))
	for slot, persona := range state.Personas {
		if persona != "" {
			personas[string(slot)] = persona
		}
	}
	history := make([]ChatMessage, 0, len(state.History))
	for _, record := range state.History {
		history = append(history, toChatMessage(record))
	}
	return SessionResponse{
		SessionID: state.SessionID,
		Mode:      state.Mode,
		Personas:  personas,
		Scenario:  state.Scenario,
		MaxTurns:  state.MaxTurns,
		TurnCount: state.TurnCount,
		Status:    state.Status,
		History:   history,
		CreatedAt: state.CreatedAt.Format(timeLayout),
		UpdatedAt: state.UpdatedAt.Format(timeLayout),
		ExpiresAt: state.ExpiresAt.Format(timeLayout),
	}
}

// GetSession returns the current state of a session.
func (s *APIV1Service) GetSession(c echo.Context) error {
	sessionID := c.Param("id")
	ctx := observability.WithRequestContext(c.Request().Context(),
		observability.NewRequestContext(s.logger, sessionID))

	state, err := s.Conversation.GetSession(ctx, sessionID)
	if err != nil {
		return replyError(c, err)
	}
	return c.JSON(http.StatusOK, toSessionResponse(state))
}

// DeleteSession removes a session. Deleting an absent session succeeds.
func (s *APIV1Service) DeleteSession(c echo.Context) error {
	sessionID := c.Param("id")
	ctx := observability.WithRequestContext(c.Request().Context(),
		observability.NewRequestContext(s.logger, sessionID))

	if err := s.Conversation.DeleteSession(ctx, sessionID); err != nil {
		return replyError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id": sessionID,
		"deleted":    true,
	})
}
