package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/distill/internal/common"
	"github.com/ternarybob/distill/internal/interfaces"
	"github.com/ternarybob/distill/internal/models"
)

// QueryHandler serves retrieval queries. Answer generation is
// optional; without a configured provider the answer is an extractive
// stitch of the top sources.
type QueryHandler struct {
	config    *common.Config
	search    interfaces.SearchService
	generator interfaces.GenerationService
	logger    arbor.ILogger
}

func NewQueryHandler(config *common.Config, search interfaces.SearchService, generator interfaces.GenerationService, logger arbor.ILogger) *QueryHandler {
	return &QueryHandler{
		config:    config,
		search:    search,
		generator: generator,
		logger:    logger,
	}
}

// QueryHandler answers a question over the indexed collection.
// POST /api/v2/query
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Request body must be valid JSON")
		return
	}

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		WriteError(w, http.StatusBadRequest, "Field 'query' is required")
		return
	}

	if req.TopK == 0 {
		req.TopK = h.config.Search.DefaultTopK
	}
	if req.TopK < 1 || req.TopK > h.config.Search.MaxTopK {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf(
			"Field 'top_k' must be between 1 and %d", h.config.Search.MaxTopK))
		return
	}

	if req.RetrievalMethod == "" {
		req.RetrievalMethod = models.RetrievalHybrid
	}
	if !req.RetrievalMethod.IsValid() {
		WriteError(w, http.StatusBadRequest, "Field 'retrieval_method' must be 'dense', 'sparse', or 'hybrid'")
		return
	}

	start := time.Now()
	ctx := r.Context()

	var results []models.SearchResult
	var err error
	switch req.RetrievalMethod {
	case models.RetrievalDense:
		results, err = h.search.DenseSearch(ctx, req.Query, req.TopK)
	case models.RetrievalSparse:
		results, err = h.search.SparseSearch(ctx, req.Query, req.TopK)
	default:
		results, err = h.search.HybridSearch(ctx, req.Query, req.TopK,
			h.config.Search.DenseWeight, h.config.Search.SparseWeight)
	}
	if err != nil {
		h.logger.Error().Err(err).Str("query", req.Query).Msg("Search failed")
		WriteError(w, http.StatusInternalServerError, "Search failed")
		return
	}

	answer := h.buildAnswer(ctx, req.Query, results)

	if results == nil {
		results = []models.SearchResult{}
	}
	WriteJSON(w, http.StatusOK, models.QueryResponse{
		Answer:          answer,
		Sources:         results,
		RetrievalMethod: req.RetrievalMethod,
		LatencyMS:       time.Since(start).Milliseconds(),
	})
}

// buildAnswer generates an answer from the retrieved sources, falling
// back to an extractive snippet when no provider is configured or the
// provider fails
func (h *QueryHandler) buildAnswer(ctx context.Context, query string, results []models.SearchResult) string {
	if len(results) == 0 {
		return "No relevant documents found for this query. Upload documents before querying."
	}

	if h.generator != nil {
		answer, err := h.generator.Generate(ctx, buildPrompt(query, results))
		if err == nil {
			return answer
		}
		h.logger.Warn().Err(err).Msg("Answer generation failed, returning extractive answer")
	}

	return extractiveAnswer(results)
}

// buildPrompt assembles the retrieval-augmented prompt
func buildPrompt(query string, results []models.SearchResult) string {
	var sb strings.Builder
	sb.WriteString("Context:\n\n")
	for i, res := range results {
		sb.WriteString(fmt.Sprintf("[%d] (from %s)\n%s\n\n", i+1, res.Metadata.Filename, res.Content))
	}
	sb.WriteString("Question: ")
	sb.WriteString(query)
	return sb.String()
}

// extractiveAnswer returns the highest scoring chunks verbatim
func extractiveAnswer(results []models.SearchResult) string {
	limit := 3
	if len(results) < limit {
		limit = len(results)
	}
	parts := make([]string, 0, limit)
	for _, res := range results[:limit] {
		parts = append(parts, strings.TrimSpace(res.Content))
	}
	return strings.Join(parts, "\n\n")
}
