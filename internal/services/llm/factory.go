package llm

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/distill/internal/common"
	"github.com/ternarybob/distill/internal/interfaces"
)

// NewEmbeddingService creates the embedding provider from
// configuration. Provider "mock" needs no endpoint and is intended for
// tests and offline development.
func NewEmbeddingService(cfg *common.Config, logger arbor.ILogger) (interfaces.EmbeddingService, error) {
	switch cfg.Embedding.Provider {
	case "openai", "":
		return NewOpenAIEmbeddingService(&cfg.Embedding, logger)

	case "mock":
		logger.Warn().Int("dimension", cfg.Embedding.Dimension).Msg("Using mock embedding service")
		return NewMockEmbeddingService(cfg.Embedding.Dimension), nil

	default:
		return nil, fmt.Errorf("unsupported embedding provider '%s': must be 'openai' or 'mock'", cfg.Embedding.Provider)
	}
}

// NewGenerationService creates the answer generation provider from
// configuration. Provider "none" returns nil; callers fall back to
// extractive answers.
func NewGenerationService(cfg *common.Config, logger arbor.ILogger) (interfaces.GenerationService, error) {
	switch cfg.LLM.Provider {
	case common.LLMProviderClaude:
		return NewClaudeService(&cfg.Claude, logger)

	case common.LLMProviderOpenAI:
		return NewOpenAIGenerationService(&cfg.Embedding, cfg.LLM.Model, cfg.LLM.Temperature, logger)

	case common.LLMProviderNone, "":
		logger.Info().Msg("Answer generation disabled; queries return extractive answers")
		return nil, nil

	default:
		return nil, fmt.Errorf("unsupported LLM provider '%s': must be 'claude', 'openai', or 'none'", cfg.LLM.Provider)
	}
}
