package index

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/distill/internal/interfaces"
	"github.com/ternarybob/distill/internal/models"
)

// BM25 Okapi parameters
const (
	bm25K1      = 1.5
	bm25B       = 0.75
	bm25Epsilon = 0.25
)

var tokenPattern = regexp.MustCompile(`\w+`)

// Sparse scores documents with BM25 Okapi over whitespace-insensitive
// word tokens.
type Sparse struct {
	docs   interfaces.DocumentStorage
	logger arbor.ILogger

	mu          sync.RWMutex
	cache       []*models.IndexedDocument
	termFreqs   []map[string]int
	docLens     []int
	avgDocLen   float64
	idf         map[string]float64
	cachedCount int
}

// NewSparse creates a sparse index over the given document storage
func NewSparse(docs interfaces.DocumentStorage, logger arbor.ILogger) *Sparse {
	return &Sparse{
		docs:        docs,
		logger:      logger,
		cachedCount: -1,
	}
}

// Search returns the top k documents ranked by BM25 score
func (s *Sparse) Search(ctx context.Context, query string, k int) ([]models.SearchResult, error) {
	if err := s.refresh(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	queryTerms := tokenize(query)
	results := make([]models.SearchResult, 0, len(s.cache))
	for i, doc := range s.cache {
		results = append(results, models.SearchResult{
			DocID:    doc.ID,
			Content:  doc.Content,
			Score:    s.score(queryTerms, i),
			Metadata: doc.Metadata,
		})
	}

	sortByScore(results)
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// score computes the BM25 score of document i against the query terms
func (s *Sparse) score(queryTerms []string, i int) float64 {
	freqs := s.termFreqs[i]
	lenNorm := bm25K1 * (1 - bm25B + bm25B*float64(s.docLens[i])/s.avgDocLen)

	var total float64
	for _, term := range queryTerms {
		freq := float64(freqs[term])
		if freq == 0 {
			continue
		}
		total += s.idf[term] * (freq * (bm25K1 + 1)) / (freq + lenNorm)
	}
	return total
}

// refresh rebuilds term statistics if documents were added since the
// last build
func (s *Sparse) refresh() error {
	count, err := s.docs.CountDocuments()
	if err != nil {
		return fmt.Errorf("failed to count documents: %w", err)
	}

	s.mu.RLock()
	current := s.cachedCount
	s.mu.RUnlock()
	if count == current {
		return nil
	}

	docs, err := s.docs.AllDocuments()
	if err != nil {
		return fmt.Errorf("failed to load documents: %w", err)
	}

	termFreqs := make([]map[string]int, len(docs))
	docLens := make([]int, len(docs))
	docFreqs := make(map[string]int)
	totalLen := 0

	for i, doc := range docs {
		tokens := tokenize(doc.Content)
		freqs := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			freqs[tok]++
		}
		for term := range freqs {
			docFreqs[term]++
		}
		termFreqs[i] = freqs
		docLens[i] = len(tokens)
		totalLen += len(tokens)
	}

	avgDocLen := 1.0
	if len(docs) > 0 {
		avgDocLen = float64(totalLen) / float64(len(docs))
	}
	if avgDocLen == 0 {
		avgDocLen = 1.0
	}

	idf := computeIDF(docFreqs, len(docs))

	s.mu.Lock()
	s.cache = docs
	s.termFreqs = termFreqs
	s.docLens = docLens
	s.avgDocLen = avgDocLen
	s.idf = idf
	s.cachedCount = count
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Debug().
			Int("documents", len(docs)).
			Int("terms", len(idf)).
			Msg("Sparse index refreshed")
	}
	return nil
}

// computeIDF derives inverse document frequencies, flooring terms that
// appear in most documents at a fraction of the average idf instead of
// letting them go negative
func computeIDF(docFreqs map[string]int, numDocs int) map[string]float64 {
	idf := make(map[string]float64, len(docFreqs))
	var idfSum float64
	var negative []string

	for term, df := range docFreqs {
		v := math.Log((float64(numDocs) - float64(df) + 0.5) / (float64(df) + 0.5))
		idf[term] = v
		idfSum += v
		if v < 0 {
			negative = append(negative, term)
		}
	}

	if len(idf) > 0 {
		floor := bm25Epsilon * (idfSum / float64(len(idf)))
		for _, term := range negative {
			idf[term] = floor
		}
	}
	return idf
}

// tokenize lowercases and extracts word tokens
func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}
