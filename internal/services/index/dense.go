// Package index provides in-memory dense and sparse search indexes
// over the persisted document store. Both indexes rebuild lazily when
// the stored document count changes.
package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/distill/internal/interfaces"
	"github.com/ternarybob/distill/internal/models"
)

// Dense scores documents by cosine similarity between the query vector
// and stored chunk vectors.
type Dense struct {
	docs   interfaces.DocumentStorage
	logger arbor.ILogger

	mu          sync.RWMutex
	cache       []*models.IndexedDocument
	cachedCount int
}

// NewDense creates a dense index over the given document storage
func NewDense(docs interfaces.DocumentStorage, logger arbor.ILogger) *Dense {
	return &Dense{
		docs:        docs,
		logger:      logger,
		cachedCount: -1,
	}
}

// Search returns the top k documents ranked by cosine similarity
func (d *Dense) Search(ctx context.Context, queryVector []float32, k int) ([]models.SearchResult, error) {
	if err := d.refresh(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	results := make([]models.SearchResult, 0, len(d.cache))
	for _, doc := range d.cache {
		score, ok := cosineSimilarity(queryVector, doc.Vector)
		if !ok {
			continue
		}
		results = append(results, models.SearchResult{
			DocID:    doc.ID,
			Content:  doc.Content,
			Score:    score,
			Metadata: doc.Metadata,
		})
	}

	sortByScore(results)
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// refresh reloads the cache if documents were added since the last load
func (d *Dense) refresh() error {
	count, err := d.docs.CountDocuments()
	if err != nil {
		return fmt.Errorf("failed to count documents: %w", err)
	}

	d.mu.RLock()
	current := d.cachedCount
	d.mu.RUnlock()
	if count == current {
		return nil
	}

	docs, err := d.docs.AllDocuments()
	if err != nil {
		return fmt.Errorf("failed to load documents: %w", err)
	}

	d.mu.Lock()
	d.cache = docs
	d.cachedCount = count
	d.mu.Unlock()

	if d.logger != nil {
		d.logger.Debug().Int("documents", len(docs)).Msg("Dense index refreshed")
	}
	return nil
}

// cosineSimilarity returns false when either vector is empty,
// mismatched in length, or zero magnitude
func cosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}

// sortByScore orders results by descending score, breaking ties by
// document id for a stable ordering
func sortByScore(results []models.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})
}
