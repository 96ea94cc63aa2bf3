package models

import (
	"time"
)

// RetrievalMethod selects which index (or fusion of both) serves a query
type RetrievalMethod string

const (
	RetrievalDense  RetrievalMethod = "dense"
	RetrievalSparse RetrievalMethod = "sparse"
	RetrievalHybrid RetrievalMethod = "hybrid"
)

// IsValid returns true if the method is one of dense, sparse, hybrid
func (m RetrievalMethod) IsValid() bool {
	return m == RetrievalDense || m == RetrievalSparse || m == RetrievalHybrid
}

// IndexedDocument is one chunk as stored in the dense and sparse
// indices. Both indices key it by the same stable integer ID, which is
// what lets hybrid fusion line up a chunk appearing in either result
// set. Indices are append-only; the embedding worker is the sole writer.
type IndexedDocument struct {
	ID        int64         `json:"id" badgerhold:"key"`
	Content   string        `json:"content"`
	Vector    []float32     `json:"vector"`
	Metadata  ChunkMetadata `json:"metadata"`
	CreatedAt time.Time     `json:"created_at"`
}

// SearchResult is a single ranked retrieval hit
type SearchResult struct {
	DocID    int64         `json:"-"`
	Content  string        `json:"content"`
	Score    float64       `json:"score"`
	Metadata ChunkMetadata `json:"metadata"`
}

// QueryRequest is the body of POST /api/v2/query
type QueryRequest struct {
	Query           string          `json:"query"`
	TopK            int             `json:"top_k"`
	RetrievalMethod RetrievalMethod `json:"retrieval_method"`
}

// QueryResponse is the reply to POST /api/v2/query
type QueryResponse struct {
	Answer          string          `json:"answer"`
	Sources         []SearchResult  `json:"sources"`
	RetrievalMethod RetrievalMethod `json:"retrieval_method"`
	LatencyMS       int64           `json:"latency_ms"`
}
