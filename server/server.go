// Package server assembles the HTTP surface and the background jobs that
// keep session and audio storage bounded.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/duetcast/duetcast/internal/profile"
	"github.com/duetcast/duetcast/plugin/generation"
	"github.com/duetcast/duetcast/plugin/speech"
	"github.com/duetcast/duetcast/server/middleware"
	apiv1 "github.com/duetcast/duetcast/server/router/api/v1"
	"github.com/duetcast/duetcast/server/service/conversation"
	"github.com/duetcast/duetcast/store"
)

// Server is the assembled application.
type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer   *echo.Echo
	logger       *slog.Logger
	audioStorage *speech.Storage

	sessionCleanup *store.SessionCleanupJob
	audioCleanup   *speech.CleanupJob
	rateLimiter    *middleware.RateLimiter
	limiterTicker  *time.Ticker
	limiterDone    chan struct{}
}

// NewServer wires providers, orchestrator and routes from the profile.
func NewServer(ctx context.Context, serverProfile *profile.Profile, st *store.Store, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	generator, err := newGenerator(serverProfile)
	if err != nil {
		return nil, err
	}
	synthesizer, audioStorage, err := newSynthesizer(serverProfile)
	if err != nil {
		return nil, err
	}

	conv := conversation.NewService(st, generator, synthesizer, conversation.ConfigFromProfile(serverProfile))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			logger.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status))
			return nil
		},
	}))

	rateLimiter := middleware.NewRateLimiter(10, 20)
	e.Use(rateLimiter.Middleware())

	apiV1Service := apiv1.NewAPIV1Service(serverProfile, st, conv, audioStorage, logger)
	apiV1Service.Register(e)

	server := &Server{
		Profile:      serverProfile,
		Store:        st,
		echoServer:   e,
		logger:       logger,
		audioStorage: audioStorage,
		rateLimiter:  rateLimiter,
		sessionCleanup: store.NewSessionCleanupJob(st, store.CleanupConfig{
			CleanupInterval: store.DefaultCleanupInterval,
		}),
	}
	if audioStorage != nil {
		server.audioCleanup = speech.NewCleanupJob(audioStorage, serverProfile.AudioTTL)
	}
	return server, nil
}

func newGenerator(serverProfile *profile.Profile) (generation.Service, error) {
	if serverProfile.OpenAIAPIKey == "" {
		if serverProfile.Mode == "prod" {
			return nil, errors.New("an OpenAI API key is required in prod mode")
		}
		// Demo and dev fall back to canned lines so the server runs without
		// upstream credentials.
		return generation.NewMockService(), nil
	}
	return generation.NewOpenAIProvider(&generation.Config{
		BaseURL: serverProfile.OpenAIBaseURL,
		APIKey:  serverProfile.OpenAIAPIKey,
		Model:   serverProfile.ChatModel,
		Timeout: serverProfile.GenTimeout,
	})
}

func newSynthesizer(serverProfile *profile.Profile) (speech.Service, *speech.Storage, error) {
	if !serverProfile.IsSynthesisEnabled() {
		return nil, nil, nil
	}

	storage, err := speech.NewStorage(serverProfile.Data, serverProfile.AudioTTL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to prepare audio storage")
	}

	switch serverProfile.TTSProvider {
	case "openai":
		synthesizer, err := speech.NewOpenAIProvider(&speech.OpenAIConfig{
			BaseURL: serverProfile.OpenAIBaseURL,
			APIKey:  serverProfile.OpenAIAPIKey,
			Model:   serverProfile.TTSModel,
			Timeout: serverProfile.SynthTimeout,
		}, storage)
		return synthesizer, storage, err
	case "elevenlabs":
		synthesizer, err := speech.NewElevenLabsProvider(&speech.ElevenLabsConfig{
			APIKey:  serverProfile.ElevenLabsAPIKey,
			Timeout: serverProfile.SynthTimeout,
		}, storage)
		return synthesizer, storage, err
	default:
		return nil, nil, errors.Errorf("unknown tts provider %q", serverProfile.TTSProvider)
	}
}

// Start launches background jobs and begins serving. Blocks until the
// listener fails or is shut down.
func (s *Server) Start(ctx context.Context) error {
	if err := s.sessionCleanup.Start(ctx); err != nil {
		return err
	}
	if s.audioCleanup != nil {
		s.audioCleanup.Start(ctx)
	}

	s.limiterTicker = time.NewTicker(10 * time.Minute)
	s.limiterDone = make(chan struct{})
	go func() {
		for {
			select {
			case <-s.limiterTicker.C:
				s.rateLimiter.CleanupStale()
			case <-s.limiterDone:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	s.logger.Info("server started", "address", address, "version", s.Profile.Version, "mode", s.Profile.Mode)
	return s.echoServer.Start(address)
}

// Shutdown stops the listener, background jobs and the store.
func (s *Server) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("failed to shut down server gracefully", "error", err)
	}

	s.sessionCleanup.Stop()
	if s.audioCleanup != nil {
		s.audioCleanup.Stop()
	}
	if s.limiterTicker != nil {
		s.limiterTicker.Stop()
		close(s.limiterDone)
	}

	if err := s.Store.Close(); err != nil {
		s.logger.Error("failed to close store", "error", err)
	}
	s.logger.Info("server stopped")
}
