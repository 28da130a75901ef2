package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider calls the chat completions API through go-openai. A client
// is built per request because the API key belongs to the workflow node.
type OpenAIProvider struct {
	baseURL    string
	httpClient *http.Client
}

func NewOpenAIProvider(baseURL string, httpClient *http.Client) *OpenAIProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAIProvider{baseURL: baseURL, httpClient: httpClient}
}

func (p *OpenAIProvider) Name() string         { return "OpenAI" }
func (p *OpenAIProvider) DefaultModel() string { return "gpt-4o" }

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	if req.APIKey == "" {
		return "", ErrMissingAPIKey
	}
	if !strings.HasPrefix(req.APIKey, "sk-") {
		return "", fmt.Errorf("%w: OpenAI keys start with sk-", ErrInvalidAPIKey)
	}

	cfg := openai.DefaultConfig(req.APIKey)
	if p.baseURL != "" {
		cfg.BaseURL = p.baseURL
	}
	cfg.HTTPClient = p.httpClient
	client := openai.NewClientWithConfig(cfg)

	// Temperature is omitempty in go-openai; a zero would fall back to the
	// API default of 1.
	temperature := float32(req.Temperature)
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusUnauthorized {
			return "", fmt.Errorf("%w: OpenAI authentication failed", ErrInvalidAPIKey)
		}
		return "", fmt.Errorf("%w: OpenAI: %v", ErrProviderFailure, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: OpenAI returned no choices", ErrProviderFailure)
	}
	return resp.Choices[0].Message.Content, nil
}
