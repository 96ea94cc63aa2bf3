package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/ternarybob/distill/internal/common"
)

// OpenAIEmbeddingService computes vectors against an OpenAI-compatible
// embedding endpoint. Works with the hosted API or local services such
// as Ollama and LM Studio.
type OpenAIEmbeddingService struct {
	embedder  embeddings.Embedder
	dimension int
	timeout   time.Duration
	logger    arbor.ILogger
}

// NewOpenAIEmbeddingService creates the embedding client from
// configuration. A missing API key falls back to "none" for local
// endpoints that skip authentication.
func NewOpenAIEmbeddingService(config *common.EmbeddingConfig, logger arbor.ILogger) (*OpenAIEmbeddingService, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}

	token := config.APIKey
	if token == "" {
		token = "none"
	}

	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithEmbeddingModel(config.Model),
	}
	if config.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(config.BaseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}

	embedderOpts := []embeddings.Option{embeddings.WithStripNewLines(true)}
	if config.BatchSize > 0 {
		embedderOpts = append(embedderOpts, embeddings.WithBatchSize(config.BatchSize))
	}
	embedder, err := embeddings.NewEmbedder(client, embedderOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	timeout := 30 * time.Second
	if config.Timeout != "" {
		parsed, err := time.ParseDuration(config.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout duration '%s': %w", config.Timeout, err)
		}
		timeout = parsed
	}

	service := &OpenAIEmbeddingService{
		embedder:  embedder,
		dimension: config.Dimension,
		timeout:   timeout,
		logger:    logger,
	}

	logger.Debug().
		Str("model", config.Model).
		Str("base_url", config.BaseURL).
		Int("dimension", config.Dimension).
		Int("batch_size", config.BatchSize).
		Msg("Embedding service initialized")

	return service, nil
}

// EmbedDocuments computes vectors for a batch of chunk texts
func (s *OpenAIEmbeddingService) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vectors, err := s.embedder.EmbedDocuments(timeoutCtx, texts)
	if err != nil {
		s.logger.Error().Err(err).Int("count", len(texts)).Msg("Failed to embed documents")
		return nil, fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding endpoint returned %d vectors for %d texts", len(vectors), len(texts))
	}
	if err := s.checkDimension(vectors); err != nil {
		return nil, err
	}

	return vectors, nil
}

// EmbedQuery computes the vector for a search query
func (s *OpenAIEmbeddingService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("query text cannot be empty")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vector, err := s.embedder.EmbedQuery(timeoutCtx, text)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to embed query")
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if err := s.checkDimension([][]float32{vector}); err != nil {
		return nil, err
	}

	return vector, nil
}

// checkDimension validates vectors against the configured dimension
func (s *OpenAIEmbeddingService) checkDimension(vectors [][]float32) error {
	if s.dimension <= 0 {
		return nil
	}
	for _, v := range vectors {
		if len(v) != s.dimension {
			return fmt.Errorf("embedding dimension mismatch: got %d, expected %d", len(v), s.dimension)
		}
	}
	return nil
}

// OpenAIGenerationService generates answers through an
// OpenAI-compatible chat endpoint
type OpenAIGenerationService struct {
	client      llms.Model
	temperature float64
	timeout     time.Duration
	logger      arbor.ILogger
}

// NewOpenAIGenerationService creates the chat client from the shared
// embedding endpoint configuration and the answer model name
func NewOpenAIGenerationService(config *common.EmbeddingConfig, model string, temperature float64, logger arbor.ILogger) (*OpenAIGenerationService, error) {
	if model == "" {
		return nil, fmt.Errorf("generation model is required")
	}

	token := config.APIKey
	if token == "" {
		token = "none"
	}

	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(model),
	}
	if config.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(config.BaseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat client: %w", err)
	}

	timeout := 60 * time.Second
	if config.Timeout != "" {
		if parsed, parseErr := time.ParseDuration(config.Timeout); parseErr == nil {
			timeout = parsed
		}
	}

	logger.Debug().
		Str("model", model).
		Str("base_url", config.BaseURL).
		Msg("OpenAI generation service initialized")

	return &OpenAIGenerationService{
		client:      client,
		temperature: temperature,
		timeout:     timeout,
		logger:      logger,
	}, nil
}

// Generate produces an answer for a retrieval-augmented prompt
func (s *OpenAIGenerationService) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemPrompt)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(prompt)},
		},
	}

	response, err := s.client.GenerateContent(timeoutCtx, content, llms.WithTemperature(s.temperature))
	if err != nil {
		s.logger.Error().Err(err).Msg("Chat completion failed")
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from chat endpoint")
	}

	answer := strings.TrimSpace(response.Choices[0].Content)
	if answer == "" {
		return "", fmt.Errorf("chat endpoint returned empty answer")
	}
	return answer, nil
}
