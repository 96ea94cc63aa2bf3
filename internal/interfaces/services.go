package interfaces

import (
	"context"

	"github.com/ternarybob/distill/internal/models"
)

// Parser decodes raw uploaded bytes into plain text
type Parser interface {
	Parse(ctx context.Context, data []byte, filename string) (string, error)
	SupportedExtensions() []string
}

// EmbeddingService computes dense vectors for chunk and query text
type EmbeddingService interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// GenerationService produces an answer from a retrieval-augmented prompt
type GenerationService interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// SearchService serves retrieval queries over the indexed collection
type SearchService interface {
	DenseSearch(ctx context.Context, query string, k int) ([]models.SearchResult, error)
	SparseSearch(ctx context.Context, query string, k int) ([]models.SearchResult, error)
	HybridSearch(ctx context.Context, query string, k int, denseWeight, sparseWeight float64) ([]models.SearchResult, error)
}
