package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Config holds the OpenAI generation provider configuration.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		Temperature: 0.8,
		Timeout:     30 * time.Second,
	}
}

// OpenAIProvider implements Service using OpenAI-compatible chat completions.
type OpenAIProvider struct {
	client *openai.Client
	config *Config
}

// NewOpenAIProvider creates a new provider.
func NewOpenAIProvider(cfg *Config) (*OpenAIProvider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.8
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}, nil
}

// Generate performs a single chat completion. Retry is the caller's
// responsibility so the policy stays uniform across providers.
func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: p.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildSystemPrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(req)},
		},
		MaxTokens:       req.MaxTokens,
		Temperature:     p.config.Temperature,
		PresencePenalty: 0.1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to complete chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty chat response")
	}
	result := strings.TrimSpace(resp.Choices[0].Message.Content)
	if result == "" {
		return "", fmt.Errorf("blank chat response")
	}
	return result, nil
}

func buildSystemPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an AI agent in a conversation. Your persona is: %s\n\n", req.Persona)
	if req.OtherPersona != "" {
		fmt.Fprintf(&b, "You are talking to another agent with this persona: %s\n\n", req.OtherPersona)
	}
	if req.Scenario != "" {
		fmt.Fprintf(&b, "Scenario context: %s\n\n", req.Scenario)
	}
	b.WriteString(req.PhaseInstruction)
	b.WriteString("\n\nKeep responses under 100 words. Stay in character, respond naturally to the conversation flow, and never mention that you are an AI or in a simulation.")
	return b.String()
}

func buildUserPrompt(req Request) string {
	if len(req.History) == 0 {
		return "Start the conversation. Make your first statement."
	}

	var b strings.Builder
	b.WriteString("Here's the conversation so far:\n\n")
	for _, exchange := range req.History {
		fmt.Fprintf(&b, "%s: %s\n", exchange.Speaker, exchange.Text)
	}
	b.WriteString("\nRespond as your character. Keep your response natural and engaging.")
	return b.String()
}
