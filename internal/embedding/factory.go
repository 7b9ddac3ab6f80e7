package embedding

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/apperr"
	"github.com/hyperjump/kotae/internal/config"
)

// New builds the configured backend wrapped in a Gateway.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (*Gateway, error) {
	var backend Embedder
	switch cfg.Provider {
	case "azure", "openai":
		e, err := NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    cfg.Endpoint,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			APIVersion: cfg.APIVersion,
			Azure:      cfg.Provider == "azure",
			Dimensions: cfg.Dimensions,
		}, &http.Client{})
		if err != nil {
			return nil, apperr.Configuration("embedding provider", err)
		}
		backend = e
	case "ollama":
		backend = NewOllamaEmbedder(cfg.Endpoint, cfg.Model, cfg.Dimensions, &http.Client{})
	case "mock":
		backend = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, apperr.Configuration("unknown embedding provider "+cfg.Provider, nil)
	}
	return NewGateway(backend,
		WithBatchSize(cfg.BatchSize),
		WithMaxRetries(cfg.MaxRetries),
		WithTimeout(cfg.Timeout),
		WithCache(cfg.CacheSize),
		WithLogger(logger),
	), nil
}
