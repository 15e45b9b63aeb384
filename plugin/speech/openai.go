package speech

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig holds the OpenAI synthesis provider configuration.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// OpenAIProvider implements Service using the OpenAI speech endpoint.
type OpenAIProvider struct {
	client  *openai.Client
	config  *OpenAIConfig
	storage *Storage
}

// NewOpenAIProvider creates a new provider.
func NewOpenAIProvider(cfg *OpenAIConfig, storage *Storage) (*OpenAIProvider, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.TTSModel1)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:  openai.NewClientWithConfig(clientConfig),
		config:  cfg,
		storage: storage,
	}, nil
}

// Synthesize converts text to an mp3 artifact.
func (p *OpenAIProvider) Synthesize(ctx context.Context, text string, voice string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	callCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	resp, err := p.client.CreateSpeech(callCtx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(p.config.Model),
		Input:          truncateInput(text),
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return "", fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return "", fmt.Errorf("failed to read speech response: %w", err)
	}

	return p.storage.Save(data)
}
