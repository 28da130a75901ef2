package service

import (
	"net/http"

	"github.com/rs/zerolog"

	"flowstudio"
	"flowstudio/internal/capability"
	"flowstudio/internal/capability/gmail"
	"flowstudio/internal/capability/mailbox"
	"flowstudio/internal/llm"
)

// NewCapabilityRegistry registers every tool adapter the server offers.
func NewCapabilityRegistry(cfg flowstudio.AppConfig, logger zerolog.Logger) *capability.Registry {
	mail := mailbox.New(logger)
	if cfg.SmtpConfig.Host != "" {
		mail.WithRelay(mailbox.Connection{
			SmtpHost: cfg.SmtpConfig.Host,
			SmtpPort: cfg.SmtpConfig.Port,
			Username: cfg.SmtpConfig.Username,
			Password: cfg.SmtpConfig.Password,
			UseTLS:   cfg.SmtpConfig.UseTLS,
			From:     cfg.SmtpConfig.From,
		})
	}

	return capability.NewRegistry(logger,
		gmail.New(gmail.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			TokenURL:     cfg.Google.TokenURL,
			BaseURL:      cfg.Google.GmailBaseURL,
		}, logger),
		mail,
	)
}

// NewLLMClient registers every model provider with a shared HTTP client.
func NewLLMClient(cfg flowstudio.AppConfig, logger zerolog.Logger) *llm.Client {
	httpClient := &http.Client{Timeout: cfg.LLM.RequestTimeout}
	return llm.NewClient(logger, cfg.LLM.MaxTokens,
		llm.NewOpenAIProvider(cfg.LLM.OpenAIBaseURL, httpClient),
		llm.NewGeminiProvider(cfg.LLM.GeminiBaseURL, httpClient),
		llm.NewAnthropicProvider(cfg.LLM.AnthropicBaseURL, httpClient),
		llm.NewOllamaProvider(cfg.LLM.OllamaHost, httpClient),
	)
}
