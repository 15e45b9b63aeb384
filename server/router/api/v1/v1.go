// Package v1 exposes the conversation HTTP API.
package v1

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/semaphore"

	"github.com/duetcast/duetcast/internal/profile"
	"github.com/duetcast/duetcast/plugin/speech"
	apperrors "github.com/duetcast/duetcast/server/internal/errors"
	"github.com/duetcast/duetcast/server/service/conversation"
	"github.com/duetcast/duetcast/store"
)

// APIV1Service wires the conversation orchestrator to HTTP routes.
type APIV1Service struct {
	Profile      *profile.Profile
	Store        *store.Store
	Conversation *conversation.Service
	AudioStorage *speech.Storage

	logger *slog.Logger
	// streamSemaphore limits concurrent websocket conversation streams.
	streamSemaphore *semaphore.Weighted
}

// NewAPIV1Service creates the API service. audioStorage may be nil when
// synthesis is disabled.
func NewAPIV1Service(profile *profile.Profile, st *store.Store, conv *conversation.Service, audioStorage *speech.Storage, logger *slog.Logger) *APIV1Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIV1Service{
		Profile:         profile,
		Store:           st,
		Conversation:    conv,
		AudioStorage:    audioStorage,
		logger:          logger,
		streamSemaphore: semaphore.NewWeighted(16),
	}
}

// Register mounts all v1 routes on the echo server.
func (s *APIV1Service) Register(echoServer *echo.Echo) {
	echoServer.GET("/healthz", s.Healthz)

	apiV1 := echoServer.Group("/api/v1")
	apiV1.POST("/init", s.InitializeSession)
	apiV1.POST("/chat", s.Chat)
	apiV1.GET("/session/:id", s.GetSession)
	apiV1.DELETE("/session/:id", s.DeleteSession)
	apiV1.GET("/audio/:filename", s.ServeAudio)
	apiV1.GET("/metrics", s.GetMetrics)
	apiV1.GET("/ws", s.StreamConversation)
}

type errorBody struct {
	Error string              `json:"error"`
	Code  apperrors.ErrorCode `json:"code"`
}

// replyError maps a conversation error to its HTTP status.
func replyError(c echo.Context, err error) error {
	code := apperrors.GetCodeFromError(err, apperrors.ErrCodeStoreUnavailable)

	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeInvalidRequest:
		status = http.StatusBadRequest
	case apperrors.ErrCodeConversationComplete, apperrors.ErrCodeConflict:
		status = http.StatusConflict
	case apperrors.ErrCodeUpstreamGeneration, apperrors.ErrCodeUpstreamSynthesis:
		status = http.StatusBadGateway
	case apperrors.ErrCodeStoreUnavailable:
		status = http.StatusServiceUnavailable
	}

	return c.JSON(status, errorBody{Error: err.Error(), Code: code})
}
