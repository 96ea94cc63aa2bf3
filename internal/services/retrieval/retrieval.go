// Package retrieval combines the dense and sparse indexes into a
// single search service with weighted hybrid merging.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/distill/internal/interfaces"
	"github.com/ternarybob/distill/internal/models"
	"github.com/ternarybob/distill/internal/services/index"
)

// Retriever implements interfaces.SearchService over the in-memory
// indexes. Hybrid search fetches twice the requested depth from each
// side, min-max normalizes both score sets and merges them with the
// given weights.
type Retriever struct {
	dense    *index.Dense
	sparse   *index.Sparse
	embedder interfaces.EmbeddingService
	logger   arbor.ILogger
}

// NewRetriever creates a retriever over the given indexes
func NewRetriever(dense *index.Dense, sparse *index.Sparse, embedder interfaces.EmbeddingService, logger arbor.ILogger) *Retriever {
	return &Retriever{
		dense:    dense,
		sparse:   sparse,
		embedder: embedder,
		logger:   logger,
	}
}

// DenseSearch embeds the query and ranks by cosine similarity
func (r *Retriever) DenseSearch(ctx context.Context, query string, k int) ([]models.SearchResult, error) {
	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return r.dense.Search(ctx, vector, k)
}

// SparseSearch ranks by BM25 term relevance
func (r *Retriever) SparseSearch(ctx context.Context, query string, k int) ([]models.SearchResult, error) {
	return r.sparse.Search(ctx, query, k)
}

// HybridSearch merges dense and sparse rankings with weighted
// normalized scores
func (r *Retriever) HybridSearch(ctx context.Context, query string, k int, denseWeight, sparseWeight float64) ([]models.SearchResult, error) {
	depth := k * 2

	dense, err := r.DenseSearch(ctx, query, depth)
	if err != nil {
		return nil, err
	}
	sparse, err := r.SparseSearch(ctx, query, depth)
	if err != nil {
		return nil, err
	}

	denseNorm := normalizeScores(dense)
	sparseNorm := normalizeScores(sparse)

	type candidate struct {
		result models.SearchResult
		dense  float64
		sparse float64
	}
	merged := make(map[int64]*candidate)

	for _, res := range dense {
		merged[res.DocID] = &candidate{result: res, dense: denseNorm[res.DocID]}
	}
	for _, res := range sparse {
		if c, ok := merged[res.DocID]; ok {
			c.sparse = sparseNorm[res.DocID]
		} else {
			merged[res.DocID] = &candidate{result: res, sparse: sparseNorm[res.DocID]}
		}
	}

	results := make([]models.SearchResult, 0, len(merged))
	for _, c := range merged {
		res := c.result
		res.Score = denseWeight*c.dense + sparseWeight*c.sparse
		results = append(results, res)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})

	if k > 0 && len(results) > k {
		results = results[:k]
	}

	if r.logger != nil {
		r.logger.Debug().
			Str("query", query).
			Int("dense_candidates", len(dense)).
			Int("sparse_candidates", len(sparse)).
			Int("results", len(results)).
			Msg("Hybrid search merged")
	}
	return results, nil
}

// normalizeScores min-max scales scores to [0, 1] keyed by document
// id. When every candidate carries the same score all normalize to 1.0
// rather than 0 so a uniform list still contributes its weight.
func normalizeScores(results []models.SearchResult) map[int64]float64 {
	norm := make(map[int64]float64, len(results))
	if len(results) == 0 {
		return norm
	}

	minScore, maxScore := results[0].Score, results[0].Score
	for _, res := range results[1:] {
		if res.Score < minScore {
			minScore = res.Score
		}
		if res.Score > maxScore {
			maxScore = res.Score
		}
	}

	if maxScore == minScore {
		for _, res := range results {
			norm[res.DocID] = 1.0
		}
		return norm
	}

	for _, res := range results {
		norm[res.DocID] = (res.Score - minScore) / (maxScore - minScore)
	}
	return norm
}
