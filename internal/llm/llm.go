// Package llm exposes several model providers behind a single Complete call.
// Provider selection, model defaulting, temperature and output-token limits
// are all request-level parameters.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

const (
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 2000
)

var (
	ErrMissingAPIKey       = errors.New("API key is missing")
	ErrMissingSystemPrompt = errors.New("system prompt is missing")
	ErrInvalidAPIKey       = errors.New("invalid API key")
	ErrProviderFailure     = errors.New("provider request failed")
)

// Request is one completion call. Prompt carries the already formatted user
// content; SystemPrompt the node instructions.
type Request struct {
	Provider     string
	Model        string
	SystemPrompt string
	Prompt       string
	APIKey       string
	Temperature  float64
	MaxTokens    int
}

// Provider is implemented by every backing model API.
type Provider interface {
	Name() string
	DefaultModel() string
	Complete(ctx context.Context, req Request) (string, error)
}

// Client dispatches requests to the provider named in the request.
type Client struct {
	providers map[string]Provider
	maxTokens int
	logger    zerolog.Logger
}

// NewClient registers the given providers under their case-insensitive names.
func NewClient(logger zerolog.Logger, maxTokens int, providers ...Provider) *Client {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	c := &Client{
		providers: make(map[string]Provider, len(providers)),
		maxTokens: maxTokens,
		logger:    logger,
	}
	for _, p := range providers {
		c.providers[strings.ToLower(p.Name())] = p
	}
	return c
}

// Providers returns the registered provider names, sorted.
func (c *Client) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	sort.Strings(names)
	return names
}

// Complete runs a completion. An unknown provider is not an error: the
// returned text describes the problem so downstream nodes still get a value.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.SystemPrompt) == "" {
		return "", ErrMissingSystemPrompt
	}

	provider, ok := c.providers[strings.ToLower(req.Provider)]
	if !ok {
		c.logger.Warn().Str("provider", req.Provider).Msg("Unsupported LLM provider requested")
		return fmt.Sprintf("Unsupported LLM provider: %s", req.Provider), nil
	}

	req.APIKey = strings.TrimSpace(req.APIKey)
	if req.Model == "" {
		req.Model = provider.DefaultModel()
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.maxTokens
	}

	c.logger.Info().
		Str("provider", provider.Name()).
		Str("model", req.Model).
		Int("promptLength", len(req.Prompt)).
		Msg("Calling LLM provider")

	text, err := provider.Complete(ctx, req)
	if err != nil {
		c.logger.Error().Err(err).Str("provider", provider.Name()).Msg("LLM request failed")
		return "", err
	}
	return text, nil
}

// statusError turns a non-2xx provider response into an error carrying the
// provider message when one is present.
func statusError(provider string, resp *http.Response, body []byte, message string) error {
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	return fmt.Errorf("%w: %s returned HTTP %d: %s", ErrProviderFailure, provider, resp.StatusCode, message)
}
