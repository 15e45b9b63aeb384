package v1

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/duetcast/duetcast/internal/profile"
	"github.com/duetcast/duetcast/internal/retry"
	"github.com/duetcast/duetcast/plugin/generation"
	"github.com/duetcast/duetcast/plugin/speech"
	apperrors "github.com/duetcast/duetcast/server/internal/errors"
	"github.com/duetcast/duetcast/server/service/conversation"
	"github.com/duetcast/duetcast/store"
	"github.com/duetcast/duetcast/store/db/memory"
)

type testEnv struct {
	echo      *echo.Echo
	service   *APIV1Service
	generator *generation.MockService
}

func newTestEnv(t *testing.T, synthesizer speech.Service, audioStorage *speech.Storage) *testEnv {
	t.Helper()

	testProfile := &profile.Profile{Mode: "demo", Version: "test"}
	st := store.New(memory.NewDB(), testProfile)
	t.Cleanup(func() { _ = st.Close() })

	generator := generation.NewMockService()
	conv := conversation.NewService(st, generator, synthesizer, conversation.Config{
		Retry: retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond},
	})

	service := NewAPIV1Service(testProfile, st, conv, audioStorage, slog.Default())
	e := echo.New()
	service.Register(e)

	return &testEnv{echo: e, service: service, generator: generator}
}

func (env *testEnv) request(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) initSession(t *testing.T, maxTurns int) string {
	t.Helper()

	rec := env.request(t, http.MethodPost, "/api/v1/init", InitRequest{
		Agent1Persona: "a patient librarian",
		Agent2Persona: "an impatient tourist",
		Mode:          string(store.ModeAgentVsAgent),
		Scenario:      "asking for directions",
		MaxTurns:      maxTurns,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp InitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID
}

func TestInitializeSessionEndpoint(t *testing.T) {
	t.Run("CreatesSession", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		rec := env.request(t, http.MethodPost, "/api/v1/init", InitRequest{
			Agent1Persona: "p1",
			Agent2Persona: "p2",
			MaxTurns:      4,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp InitResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, string(store.ModeAgentVsAgent), resp.Config["mode"])
		require.Equal(t, "4", resp.Config["max_turns"])
	})

	t.Run("LongPersonaIsTruncatedInEcho", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		rec := env.request(t, http.MethodPost, "/api/v1/init", InitRequest{
			Agent1Persona: strings.Repeat("x", 150),
			Agent2Persona: "p2",
			MaxTurns:      4,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp InitResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Config["agent_1_persona"], 103)
		require.True(t, strings.HasSuffix(resp.Config["agent_1_persona"], "..."))
	})

	t.Run("MissingPersonaIs400", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		rec := env.request(t, http.MethodPost, "/api/v1/init", InitRequest{MaxTurns: 4})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var body errorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, apperrors.ErrCodeInvalidRequest, body.Code)
	})
}

func TestChatEndpoint(t *testing.T) {
	t.Run("AdvancesOneTurn", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		sessionID := env.initSession(t, 4)

		rec := env.request(t, http.MethodPost, "/api/v1/chat", ChatRequest{SessionID: sessionID})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp ChatResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, store.SpeakerAgent1, resp.Message.Speaker)
		require.Equal(t, store.SpeakerAgent2, resp.NextSpeaker)
		require.Equal(t, store.PhaseIntroduction, resp.Phase)
		require.Equal(t, 1, resp.TurnCount)
		require.False(t, resp.IsComplete)
		require.Empty(t, resp.Message.AudioURL)
	})

	t.Run("AudioRefBecomesURL", func(t *testing.T) {
		env := newTestEnv(t, speech.NewMockService(), nil)
		sessionID := env.initSession(t, 4)

		rec := env.request(t, http.MethodPost, "/api/v1/chat", ChatRequest{SessionID: sessionID})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp ChatResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "/api/v1/audio/turn-1.mp3", resp.Message.AudioURL)
	})

	t.Run("UnknownSessionIs404", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		rec := env.request(t, http.MethodPost, "/api/v1/chat", ChatRequest{SessionID: "ghost"})
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("CompleteSessionIs409", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		sessionID := env.initSession(t, 1)

		rec := env.request(t, http.MethodPost, "/api/v1/chat", ChatRequest{SessionID: sessionID})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = env.request(t, http.MethodPost, "/api/v1/chat", ChatRequest{SessionID: sessionID})
		require.Equal(t, http.StatusConflict, rec.Code)

		var body errorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, apperrors.ErrCodeConversationComplete, body.Code)
	})

	t.Run("GenerationFailureIs502", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		sessionID := env.initSession(t, 4)

		env.generator.FailTimes = 1
		rec := env.request(t, http.MethodPost, "/api/v1/chat", ChatRequest{SessionID: sessionID})
		require.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("ForceAgentOverride", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		sessionID := env.initSession(t, 4)

		rec := env.request(t, http.MethodPost, "/api/v1/chat", ChatRequest{
			SessionID:  sessionID,
			ForceAgent: string(store.SpeakerAgent2),
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp ChatResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, store.SpeakerAgent2, resp.Message.Speaker)
	})
}

func TestSessionEndpoints(t *testing.T) {
	t.Run("GetReturnsHistory", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		sessionID := env.initSession(t, 4)
		env.request(t, http.MethodPost, "/api/v1/chat", ChatRequest{SessionID: sessionID})

		rec := env.request(t, http.MethodGet, "/api/v1/session/"+sessionID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp SessionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, sessionID, resp.SessionID)
		require.Equal(t, 1, resp.TurnCount)
		require.Len(t, resp.History, 1)
		require.Equal(t, store.StatusActive, resp.Status)
	})

	t.Run("GetMissingIs404", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		rec := env.request(t, http.MethodGet, "/api/v1/session/ghost", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		sessionID := env.initSession(t, 4)

		rec := env.request(t, http.MethodDelete, "/api/v1/session/"+sessionID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		rec = env.request(t, http.MethodDelete, "/api/v1/session/"+sessionID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = env.request(t, http.MethodGet, "/api/v1/session/"+sessionID, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAudioEndpoint(t *testing.T) {
	t.Run("ServesStoredArtifact", func(t *testing.T) {
		storage, err := speech.NewStorage(t.TempDir(), time.Hour)
		require.NoError(t, err)
		env := newTestEnv(t, nil, storage)

		name, err := storage.Save([]byte("mp3-bytes"))
		require.NoError(t, err)

		rec := env.request(t, http.MethodGet, "/api/v1/audio/"+name, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "audio/mpeg", rec.Header().Get(echo.HeaderContentType))
		require.Equal(t, "mp3-bytes", rec.Body.String())
	})

	t.Run("MissingArtifactIs404", func(t *testing.T) {
		storage, err := speech.NewStorage(t.TempDir(), time.Hour)
		require.NoError(t, err)
		env := newTestEnv(t, nil, storage)

		rec := env.request(t, http.MethodGet, "/api/v1/audio/ghost.mp3", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("DisabledSynthesisIs404", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		rec := env.request(t, http.MethodGet, "/api/v1/audio/anything.mp3", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHealthzEndpoint(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rec := env.request(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "healthy", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rec := env.request(t, http.MethodGet, "/api/v1/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "turn_total")
}

func TestStreamConversation(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	server := httptest.NewServer(env.echo)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") +
		"/api/v1/ws?agent_1_persona=p1&agent_2_persona=p2&max_turns=2"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	var sessionEvent streamEvent
	require.NoError(t, conn.ReadJSON(&sessionEvent))
	require.Equal(t, "session", sessionEvent.Type)
	require.NotEmpty(t, sessionEvent.Session)

	var turns []streamEvent
	for {
		var event streamEvent
		require.NoError(t, conn.ReadJSON(&event))
		if event.Type == "complete" {
			break
		}
		require.Equal(t, "turn", event.Type)
		turns = append(turns, event)
	}

	require.Len(t, turns, 2)
	require.Equal(t, store.SpeakerAgent1, turns[0].Turn.Message.Speaker)
	require.Equal(t, store.SpeakerAgent2, turns[1].Turn.Message.Speaker)
	require.True(t, turns[1].Turn.IsComplete)

	// The streamed session remains queryable afterwards.
	rec := env.request(t, http.MethodGet, "/api/v1/session/"+sessionEvent.Session, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReplyErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{apperrors.NotFound("x"), http.StatusNotFound},
		{apperrors.InvalidRequest("bad"), http.StatusBadRequest},
		{apperrors.ConversationComplete("x"), http.StatusConflict},
		{apperrors.Conflict("x"), http.StatusConflict},
		{apperrors.UpstreamGeneration(fmt.Errorf("boom")), http.StatusBadGateway},
		{apperrors.UpstreamSynthesis(fmt.Errorf("boom")), http.StatusBadGateway},
		{apperrors.StoreUnavailable(fmt.Errorf("boom")), http.StatusServiceUnavailable},
	}

	e := echo.New()
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		require.NoError(t, replyError(c, tt.err))
		require.Equal(t, tt.status, rec.Code)
	}
}
