package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRawResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

type ollamaApiCall struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options"`
}

// OllamaProvider targets a self-hosted Ollama server. No API key is needed.
type OllamaProvider struct {
	host       string
	httpClient *http.Client
}

func NewOllamaProvider(host string, httpClient *http.Client) *OllamaProvider {
	if host == "" {
		host = "http://localhost:11434"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OllamaProvider{host: strings.TrimRight(host, "/"), httpClient: httpClient}
}

func (p *OllamaProvider) Name() string         { return "Ollama" }
func (p *OllamaProvider) DefaultModel() string { return "qwen3-coder:30b" }

func (p *OllamaProvider) Complete(ctx context.Context, req Request) (string, error) {
	call := ollamaApiCall{
		Model: req.Model,
		Messages: []ollamaMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.Prompt},
		},
		Stream: false,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}

	data, err := json.Marshal(call)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/api/chat", p.host), bytes.NewBuffer(data))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: Ollama: %v", ErrProviderFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var raw ollamaRawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		if resp.StatusCode >= 300 {
			return "", statusError(p.Name(), resp, body, "")
		}
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", statusError(p.Name(), resp, body, raw.Error)
	}
	if !raw.Done {
		return "", fmt.Errorf("%w: llama call not done", ErrProviderFailure)
	}
	return raw.Message.Content, nil
}
