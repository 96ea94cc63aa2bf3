package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/distill/internal/common"
	"github.com/ternarybob/distill/internal/models"
)

// fakeSearch records which retrieval method was dispatched and returns
// canned results
type fakeSearch struct {
	results []models.SearchResult
	err     error

	lastMethod string
	lastK      int
	lastDense  float64
	lastSparse float64
}

func (f *fakeSearch) DenseSearch(ctx context.Context, query string, k int) ([]models.SearchResult, error) {
	f.lastMethod, f.lastK = "dense", k
	return f.results, f.err
}

func (f *fakeSearch) SparseSearch(ctx context.Context, query string, k int) ([]models.SearchResult, error) {
	f.lastMethod, f.lastK = "sparse", k
	return f.results, f.err
}

func (f *fakeSearch) HybridSearch(ctx context.Context, query string, k int, denseWeight, sparseWeight float64) ([]models.SearchResult, error) {
	f.lastMethod, f.lastK = "hybrid", k
	f.lastDense, f.lastSparse = denseWeight, sparseWeight
	return f.results, f.err
}

type fakeGenerator struct {
	answer string
	err    error
	prompt string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.answer, f.err
}

func queryRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v2/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func sampleResults() []models.SearchResult {
	return []models.SearchResult{
		{DocID: 1, Content: "alpha content", Score: 0.9, Metadata: models.ChunkMetadata{Filename: "a.txt"}},
		{DocID: 2, Content: "beta content", Score: 0.5, Metadata: models.ChunkMetadata{Filename: "b.txt"}},
	}
}

func TestQuery_DefaultsToHybrid(t *testing.T) {
	search := &fakeSearch{results: sampleResults()}
	handler := NewQueryHandler(common.NewDefaultConfig(), search, nil, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.Query(rec, queryRequest(`{"query": "what is alpha?"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hybrid", search.lastMethod)
	assert.Equal(t, 5, search.lastK, "default top_k comes from config")
	assert.Equal(t, 0.7, search.lastDense)
	assert.Equal(t, 0.3, search.lastSparse)

	body := decodeBody(t, rec)
	assert.Equal(t, "hybrid", body["retrieval_method"])
	sources := body["sources"].([]interface{})
	assert.Len(t, sources, 2)
}

func TestQuery_DispatchesDenseAndSparse(t *testing.T) {
	for _, method := range []string{"dense", "sparse"} {
		search := &fakeSearch{results: sampleResults()}
		handler := NewQueryHandler(common.NewDefaultConfig(), search, nil, common.GetLogger())

		rec := httptest.NewRecorder()
		handler.Query(rec, queryRequest(`{"query": "q", "retrieval_method": "`+method+`", "top_k": 3}`))

		require.Equal(t, http.StatusOK, rec.Code, method)
		assert.Equal(t, method, search.lastMethod)
		assert.Equal(t, 3, search.lastK)
	}
}

func TestQuery_ExtractiveAnswerWithoutGenerator(t *testing.T) {
	search := &fakeSearch{results: sampleResults()}
	handler := NewQueryHandler(common.NewDefaultConfig(), search, nil, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.Query(rec, queryRequest(`{"query": "what is alpha?"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	answer := decodeBody(t, rec)["answer"].(string)
	assert.Contains(t, answer, "alpha content")
}

func TestQuery_GeneratedAnswer(t *testing.T) {
	search := &fakeSearch{results: sampleResults()}
	generator := &fakeGenerator{answer: "Alpha is the first letter."}
	handler := NewQueryHandler(common.NewDefaultConfig(), search, generator, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.Query(rec, queryRequest(`{"query": "what is alpha?"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Alpha is the first letter.", decodeBody(t, rec)["answer"])
	assert.Contains(t, generator.prompt, "alpha content")
	assert.Contains(t, generator.prompt, "what is alpha?")
}

func TestQuery_GeneratorFailureFallsBackToExtractive(t *testing.T) {
	search := &fakeSearch{results: sampleResults()}
	generator := &fakeGenerator{err: errors.New("api unavailable")}
	handler := NewQueryHandler(common.NewDefaultConfig(), search, generator, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.Query(rec, queryRequest(`{"query": "what is alpha?"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	answer := decodeBody(t, rec)["answer"].(string)
	assert.Contains(t, answer, "alpha content")
}

func TestQuery_NoResultsAnswer(t *testing.T) {
	search := &fakeSearch{}
	handler := NewQueryHandler(common.NewDefaultConfig(), search, nil, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.Query(rec, queryRequest(`{"query": "anything indexed?"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body["answer"], "No relevant documents")
	assert.Empty(t, body["sources"])
}

func TestQuery_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ``},
		{"missing query", `{}`},
		{"blank query", `{"query": "   "}`},
		{"unknown method", `{"query": "q", "retrieval_method": "semantic"}`},
		{"negative top_k", `{"query": "q", "top_k": -1}`},
		{"top_k over max", `{"query": "q", "top_k": 500}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewQueryHandler(common.NewDefaultConfig(), &fakeSearch{}, nil, common.GetLogger())

			rec := httptest.NewRecorder()
			handler.Query(rec, queryRequest(tt.body))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestQuery_RejectsWrongMethod(t *testing.T) {
	handler := NewQueryHandler(common.NewDefaultConfig(), &fakeSearch{}, nil, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.Query(rec, httptest.NewRequest(http.MethodGet, "/api/v2/query", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestQuery_SearchFailure(t *testing.T) {
	search := &fakeSearch{err: errors.New("index unavailable")}
	handler := NewQueryHandler(common.NewDefaultConfig(), search, nil, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.Query(rec, queryRequest(`{"query": "q"}`))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
