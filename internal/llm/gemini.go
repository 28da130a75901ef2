package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// GeminiProvider talks to the generateContent REST endpoint.
type GeminiProvider struct {
	baseURL    string
	httpClient *http.Client
}

func NewGeminiProvider(baseURL string, httpClient *http.Client) *GeminiProvider {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &GeminiProvider{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

func (p *GeminiProvider) Name() string         { return "Google" }
func (p *GeminiProvider) DefaultModel() string { return "gemini-1.5-flash" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent        `json:"systemInstruction,omitempty"`
	Contents          []geminiContent       `json:"contents"`
	GenerationConfig  map[string]any        `json:"generationConfig"`
	SafetySettings    []geminiSafetySetting `json:"safetySettings"`
}

type geminiResponse struct {
	Candidates []struct {
		Content       geminiContent `json:"content"`
		FinishReason  string        `json:"finishReason"`
		SafetyRatings []struct {
			Category    string `json:"category"`
			Probability string `json:"probability"`
		} `json:"safetyRatings"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

var geminiSafety = []geminiSafetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
}

func (p *GeminiProvider) Complete(ctx context.Context, req Request) (string, error) {
	if req.APIKey == "" {
		return "", ErrMissingAPIKey
	}

	payload := geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}},
		Contents:          []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
		GenerationConfig: map[string]any{
			"temperature":     req.Temperature,
			"maxOutputTokens": req.MaxTokens,
		},
		SafetySettings: geminiSafety,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, url.PathEscape(req.Model), url.QueryEscape(req.APIKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: Google: %v", ErrProviderFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var raw geminiResponse
	_ = json.Unmarshal(body, &raw)
	if resp.StatusCode >= 300 {
		message := ""
		if raw.Error != nil {
			message = raw.Error.Message
		}
		return "", statusError(p.Name(), resp, body, message)
	}

	if raw.PromptFeedback.BlockReason != "" {
		return fmt.Sprintf("Response blocked by safety filters: %s", raw.PromptFeedback.BlockReason), nil
	}
	if len(raw.Candidates) == 0 {
		return "", fmt.Errorf("%w: Google returned no candidates", ErrProviderFailure)
	}

	candidate := raw.Candidates[0]
	if candidate.FinishReason == "SAFETY" {
		blocked := make([]string, 0, len(candidate.SafetyRatings))
		for _, r := range candidate.SafetyRatings {
			if r.Probability != "NEGLIGIBLE" && r.Probability != "LOW" {
				blocked = append(blocked, r.Category)
			}
		}
		return fmt.Sprintf("Response blocked by safety filters: %s", strings.Join(blocked, ", ")), nil
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}
	return text.String(), nil
}
