package llm

import (
	"net/http"

	"github.com/hyperjump/kotae/internal/apperr"
	"github.com/hyperjump/kotae/internal/config"
)

// New builds the configured completion provider. The HTTP client has no overall timeout
// since streams may run long; per-request deadlines come from the caller's context.
func New(cfg config.CompletionConfig) (Completer, error) {
	switch cfg.Provider {
	case "azure", "openai":
		c, err := NewOpenAIClient(OpenAIConfig{
			BaseURL:     cfg.Endpoint,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			APIVersion:  cfg.APIVersion,
			Azure:       cfg.Provider == "azure",
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}, &http.Client{})
		if err != nil {
			return nil, apperr.Configuration("completion provider", err)
		}
		return c, nil
	case "ollama":
		return NewOllamaClient(cfg.Endpoint, cfg.Model, &http.Client{}), nil
	case "fake":
		return NewFakeCompleter(), nil
	default:
		return nil, apperr.Configuration("unknown completion provider "+cfg.Provider, nil)
	}
}
