package embedding

import (
	"fmt"
	"time"

	"localrag/config"
	"localrag/internal/domain"
	"localrag/internal/port"
)

// New builds the embedder selected by cfg.Provider.
func New(cfg config.EmbeddingConfig) (port.Embedder, error) {
	opts := []Option{
		WithBaseURL(cfg.BaseURL),
		WithDimension(cfg.Dimension),
		WithBatchSize(cfg.BatchSize),
		WithTimeout(time.Duration(cfg.TimeoutSecs) * time.Second),
	}

	var (
		e   port.Embedder
		err error
	)
	switch cfg.Provider {
	case config.ProviderHash:
		e, err = NewHashEmbedder(cfg.Model, cfg.Dimension)
	case config.ProviderOpenAI:
		e, err = NewOpenAIEmbedder(cfg.APIKeyEnv, cfg.Model, opts...)
	case config.ProviderDeepSeek:
		e, err = NewDeepSeekEmbedder(cfg.APIKeyEnv, cfg.Model, opts...)
	case config.ProviderJina:
		e, err = NewJinaEmbedder(cfg.APIKeyEnv, cfg.Model, opts...)
	case config.ProviderOllama:
		e, err = NewOllamaEmbedder(cfg.Model, opts...)
	default:
		return nil, fmt.Errorf("%w: unsupported embedding provider %q", domain.ErrValidation, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s embedder: %w", domain.ErrValidation, cfg.Provider, err)
	}
	return e, nil
}
