package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const elevenLabsBaseURL = "https://api.elevenlabs.io/v1"

// ElevenLabsConfig holds the ElevenLabs synthesis provider configuration.
type ElevenLabsConfig struct {
	APIKey  string
	ModelID string
	Timeout time.Duration
}

// ElevenLabsProvider implements Service against the ElevenLabs REST API.
type ElevenLabsProvider struct {
	config     *ElevenLabsConfig
	httpClient *http.Client
	storage    *Storage
}

// NewElevenLabsProvider creates a new provider.
func NewElevenLabsProvider(cfg *ElevenLabsConfig, storage *Storage) (*ElevenLabsProvider, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_turbo_v2_5"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &ElevenLabsProvider{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		storage:    storage,
	}, nil
}

type elevenLabsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize converts text to an mp3 artifact. The voice selector is an
// ElevenLabs voice ID.
func (p *ElevenLabsProvider) Synthesize(ctx context.Context, text string, voice string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	body, err := json.Marshal(elevenLabsRequest{
		Text:    truncateInput(text),
		ModelID: p.config.ModelID,
	})
	if err != nil {
		return "", fmt.Errorf("error marshalling JSON: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s", elevenLabsBaseURL, voice)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", p.config.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("speech request failed with status %d: %s", resp.StatusCode, detail)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read speech response: %w", err)
	}

	return p.storage.Save(data)
}
