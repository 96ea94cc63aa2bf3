package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ChunkStatus represents the lifecycle state of a single chunk
type ChunkStatus string

const (
	// ChunkStatusPending indicates the chunk row exists but no worker has claimed it
	ChunkStatusPending ChunkStatus = "pending"
	// ChunkStatusEmbedding indicates an embedding worker is processing the chunk
	ChunkStatusEmbedding ChunkStatus = "embedding"
	// ChunkStatusIndexed indicates the chunk is in the dense index
	ChunkStatusIndexed ChunkStatus = "indexed"
	// ChunkStatusFailed indicates embedding or indexing failed for this chunk
	ChunkStatusFailed ChunkStatus = "failed"
)

// Chunk is one text segment produced from a job's document.
// (job_id, chunk_index) is unique; chunk_index defines reading order.
type Chunk struct {
	ID           string      `json:"chunk_id"`
	JobID        string      `json:"job_id"`
	ChunkIndex   int         `json:"chunk_index"`
	Content      string      `json:"content"`
	ContentHash  string      `json:"content_hash"`
	Status       ChunkStatus `json:"status"`
	VectorID     *int64      `json:"vector_id,omitempty"` // set once indexed
	ErrorMessage string      `json:"error_message,omitempty"`
}

// ChunkMetadata carries the known per-chunk fields through the pipeline
// and into the indices. Fixed shape, no open extension map.
type ChunkMetadata struct {
	JobID       string `json:"job_id"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	Filename    string `json:"filename"`
}

// HashContent computes the digest used for idempotent re-processing
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Validate checks chunk field invariants
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("chunk ID is required")
	}
	if c.JobID == "" {
		return fmt.Errorf("chunk job ID is required")
	}
	if c.ChunkIndex < 0 {
		return fmt.Errorf("chunk_index cannot be negative")
	}
	if c.Content == "" {
		return fmt.Errorf("chunk content is required")
	}
	return nil
}
