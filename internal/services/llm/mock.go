package llm

import (
	"context"
	"hash/fnv"
	"math"
)

// MockEmbeddingService produces deterministic pseudo-random unit
// vectors seeded from the text content. The same text always maps to
// the same vector, which keeps tests and offline development
// reproducible without an embedding endpoint.
type MockEmbeddingService struct {
	dimension int
}

// NewMockEmbeddingService creates a mock embedder with the given
// vector dimension
func NewMockEmbeddingService(dimension int) *MockEmbeddingService {
	if dimension <= 0 {
		dimension = 384
	}
	return &MockEmbeddingService{dimension: dimension}
}

// EmbedDocuments returns one deterministic vector per text
func (s *MockEmbeddingService) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = s.vectorFor(text)
	}
	return vectors, nil
}

// EmbedQuery returns the deterministic vector for a query
func (s *MockEmbeddingService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return s.vectorFor(text), nil
}

// vectorFor expands an FNV hash of the text into a unit vector with a
// linear congruential generator
func (s *MockEmbeddingService) vectorFor(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vector := make([]float32, s.dimension)
	var norm float64
	for i := range vector {
		seed = seed*1664525 + 1013904223
		// Map the upper bits to [-1, 1)
		v := float64(int64(seed>>33))/float64(1<<30) - 1.0
		vector[i] = float32(v)
		norm += v * v
	}

	if norm > 0 {
		scale := float32(1.0 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}
	return vector
}
