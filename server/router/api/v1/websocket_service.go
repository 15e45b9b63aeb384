package v1

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	apperrors "github.com/duetcast/duetcast/server/internal/errors"
	"github.com/duetcast/duetcast/server/internal/observability"
	"github.com/duetcast/duetcast/server/service/conversation"
	"github.com/duetcast/duetcast/store"
)

const (
	wsWriteTimeout = 10 * time.Second
	// wsTurnPause spaces out pushed turns so clients can render them.
	wsTurnPause = 500 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is same-origin agnostic; deployments front this with their
	// own origin policy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamEvent is one websocket frame pushed to the client.
type streamEvent struct {
	Type    string        `json:"type"`
	Session string        `json:"session_id,omitempty"`
	Turn    *ChatResponse `json:"turn,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// StreamConversation runs a full agent-vs-agent conversation over a
// websocket, pushing each turn as it commits.
func (s *APIV1Service) StreamConversation(c echo.Context) error {
	maxTurns := 10
	if raw := c.QueryParam("max_turns"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "max_turns must be an integer")
		}
		maxTurns = parsed
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !s.streamSemaphore.TryAcquire(1) {
		_ = writeEvent(conn, streamEvent{Type: "error", Error: "too many concurrent streams"})
		return nil
	}
	defer s.streamSemaphore.Release(1)

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	// Drain the read side so client close frames cancel the stream.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	reqCtx := observability.NewRequestContext(s.logger, "")
	ctx = observability.WithRequestContext(ctx, reqCtx)

	state, err := s.Conversation.InitSession(ctx, conversation.InitRequest{
		Mode: store.ModeAgentVsAgent,
		Personas: map[store.Speaker]string{
			store.SpeakerAgent1: c.QueryParam("agent_1_persona"),
			store.SpeakerAgent2: c.QueryParam("agent_2_persona"),
		},
		Scenario: c.QueryParam("scenario"),
		MaxTurns: maxTurns,
	})
	if err != nil {
		_ = writeEvent(conn, streamEvent{Type: "error", Error: err.Error()})
		return nil
	}
	reqCtx.SessionID = state.SessionID

	if err := writeEvent(conn, streamEvent{Type: "session", Session: state.SessionID}); err != nil {
		return nil
	}

	for {
		result, err := s.Conversation.AdvanceTurn(ctx, conversation.AdvanceRequest{SessionID: state.SessionID})
		if err != nil {
			if apperrors.IsCode(err, apperrors.ErrCodeConversationComplete) {
				break
			}
			reqCtx.Warn("stream turn failed", slog.String("error", err.Error()))
			_ = writeEvent(conn, streamEvent{Type: "error", Session: state.SessionID, Error: err.Error()})
			return nil
		}

		response := toChatResponse(result)
		if err := writeEvent(conn, streamEvent{Type: "turn", Session: state.SessionID, Turn: &response}); err != nil {
			reqCtx.Info("stream client went away")
			return nil
		}
		if result.IsComplete {
			break
		}

		select {
		case <-time.After(wsTurnPause):
		case <-ctx.Done():
			return nil
		}
	}

	_ = writeEvent(conn, streamEvent{Type: "complete", Session: state.SessionID})
	return nil
}

func writeEvent(conn *websocket.Conn, event streamEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(event)
}
