package v1

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/duetcast/duetcast/server/internal/observability"
	"github.com/duetcast/duetcast/server/service/conversation"
	"github.com/duetcast/duetcast/store"
)

// InitRequest is the POST /api/v1/init payload.
type InitRequest struct {
	Agent1Persona string `json:"agent_1_persona"`
	Agent2Persona string `json:"agent_2_persona"`
	Mode          string `json:"mode"`
	Scenario      string `json:"scenario"`
	MaxTurns      int    `json:"max_turns"`
}

// InitResponse echoes the created session and its effective configuration.
type InitResponse struct {
	SessionID string            `json:"session_id"`
	Config    map[string]string `json:"config"`
}

// ChatRequest is the POST /api/v1/chat payload.
type ChatRequest struct {
	SessionID    string `json:"session_id"`
	HumanMessage string `json:"human_message,omitempty"`
	ForceAgent   string `json:"force_agent,omitempty"`
}

// ChatMessage is one produced utterance as exposed over HTTP.
type ChatMessage struct {
	Speaker    store.Speaker `json:"speaker"`
	Text       string        `json:"text"`
	AudioURL   string        `json:"audio_url,omitempty"`
	TurnNumber int           `json:"turn_number"`
	Phase      store.Phase   `json:"phase"`
	Timestamp  time.Time     `json:"timestamp"`
}

// ChatResponse is the outcome of one committed turn.
type ChatResponse struct {
	Message     ChatMessage   `json:"message"`
	NextSpeaker store.Speaker `json:"next_speaker"`
	Phase       store.Phase   `json:"conversation_phase"`
	TurnCount   int           `json:"turn_count"`
	IsComplete  bool          `json:"is_conversation_complete"`
}

func toChatMessage(record store.TurnRecord) ChatMessage {
	message := ChatMessage{
		Speaker:    record.Speaker,
		Text:       record.Text,
		TurnNumber: record.TurnNumber,
		Phase:      record.Phase,
		Timestamp:  record.Timestamp,
	}
	if record.AudioRef != "" {
		message.AudioURL = "/api/v1/audio/" + record.AudioRef
	}
	return message
}

func toChatResponse(result *conversation.TurnResult) ChatResponse {
	return ChatResponse{
		Message:     toChatMessage(result.Record),
		NextSpeaker: result.NextSpeaker,
		Phase:       result.Phase,
		TurnCount:   result.TurnCount,
		IsComplete:  result.IsComplete,
	}
}

// truncateForEcho shortens persona strings echoed back in the init config.
func truncateForEcho(s string) string {
	if len(s) > 100 {
		return s[:100] + "..."
	}
	return s
}

// InitializeSession creates a new conversation session.
func (s *APIV1Service) InitializeSession(c echo.Context) error {
	var req InitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
	}

	ctx := observability.WithRequestContext(c.Request().Context(),
		observability.NewRequestContext(s.logger, ""))

	state, err := s.Conversation.InitSession(ctx, conversation.InitRequest{
		Mode: store.Mode(req.Mode),
		Personas: map[store.Speaker]string{
			store.SpeakerAgent1: req.Agent1Persona,
			store.SpeakerAgent2: req.Agent2Persona,
		},
		Scenario: req.Scenario,
		MaxTurns: req.MaxTurns,
	})
	if err != nil {
		return replyError(c, err)
	}

	return c.JSON(http.StatusOK, InitResponse{
		SessionID: state.SessionID,
		Config: map[string]string{
			"mode":            string(state.Mode),
			"max_turns":       strconv.Itoa(state.MaxTurns),
			"agent_1_persona": truncateForEcho(state.Personas[store.SpeakerAgent1]),
			"agent_2_persona": truncateForEcho(state.Personas[store.SpeakerAgent2]),
		},
	})
}

// Chat advances the conversation by exactly one turn.
func (s *APIV1Service) Chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
	}

	reqCtx := observability.NewRequestContext(s.logger, req.SessionID)
	ctx := observability.WithRequestContext(c.Request().Context(), reqCtx)

	result, err := s.Conversation.AdvanceTurn(ctx, conversation.AdvanceRequest{
		SessionID:    req.SessionID,
		HumanText:    req.HumanMessage,
		ForceSpeaker: store.Speaker(req.ForceAgent),
	})
	if err != nil {
		reqCtx.Warn("turn rejected", slog.String("error", err.Error()))
		return replyError(c, err)
	}

	return c.JSON(http.StatusOK, toChatResponse(result))
}
