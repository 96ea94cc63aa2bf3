package models

import (
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of an ingestion job
type JobStatus string

const (
	// JobStatusPending indicates the job row is created but the upload event has not been consumed
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing indicates an ingestion worker claimed the job and is fetching the blob
	JobStatusProcessing JobStatus = "processing"
	// JobStatusChunking indicates the document text is being split and chunk events published
	JobStatusChunking JobStatus = "chunking"
	// JobStatusEmbedding indicates all chunks are published and embedding workers are indexing them
	JobStatusEmbedding JobStatus = "embedding"
	// JobStatusCompleted indicates every chunk has been processed
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates an unrecoverable error occurred
	JobStatusFailed JobStatus = "failed"
)

// IsTerminal returns true for states with no outgoing transitions
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsValid returns true if the status is a known lifecycle state
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusChunking,
		JobStatusEmbedding, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal
// state machine transition. failed is reachable from any non-terminal
// state; completed only from embedding.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == JobStatusFailed {
		return true
	}
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next == JobStatusChunking
	case JobStatusChunking:
		return next == JobStatusEmbedding
	case JobStatusEmbedding:
		return next == JobStatusCompleted
	}
	return false
}

// Job tracks one document's end-to-end ingestion request.
// The relational job store is the single source of truth for status.
type Job struct {
	ID              string     `json:"job_id"`
	Filename        string     `json:"filename"`
	FileSize        int64      `json:"file_size"`
	ContentType     string     `json:"content_type"`
	BlobKey         string     `json:"blob_key"`
	Status          JobStatus  `json:"status"`
	Progress        int        `json:"progress"`         // 0-100
	TotalChunks     *int       `json:"total_chunks"`     // nil until chunking completes
	ProcessedChunks int        `json:"processed_chunks"` // starts at 0, monotonic
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Progress bands per pipeline stage. Chunking owns 30-70, embedding 70-100.
const (
	ProgressPending    = 0
	ProgressProcessing = 10
	ProgressChunking   = 30
	ProgressEmbedding  = 70
	ProgressCompleted  = 100
)

// ChunkingProgress computes job progress while chunk events are being
// published: 30 + floor(40 * emitted / total).
func ChunkingProgress(emitted, total int) int {
	if total <= 0 {
		return ProgressEmbedding
	}
	return ProgressChunking + (40*emitted)/total
}

// EmbeddingProgress computes job progress while chunks are being
// indexed: 70 + floor(30 * processed / total).
func EmbeddingProgress(processed, total int) int {
	if total <= 0 {
		return ProgressCompleted
	}
	return ProgressEmbedding + (30*processed)/total
}

// Validate checks job field invariants
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if !j.Status.IsValid() {
		return fmt.Errorf("invalid job status: %s", j.Status)
	}
	if j.Progress < 0 || j.Progress > 100 {
		return fmt.Errorf("progress out of range: %d", j.Progress)
	}
	if j.ProcessedChunks < 0 {
		return fmt.Errorf("processed_chunks cannot be negative")
	}
	if j.TotalChunks != nil && j.ProcessedChunks > *j.TotalChunks {
		return fmt.Errorf("processed_chunks %d exceeds total_chunks %d", j.ProcessedChunks, *j.TotalChunks)
	}
	return nil
}

// JobStats summarizes jobs by status for the stats endpoint
type JobStats struct {
	TotalJobs    int            `json:"total_jobs"`
	JobsByStatus map[string]int `json:"jobs_by_status"`
	TotalChunks  int            `json:"total_chunks"`
	LastUpdated  time.Time      `json:"last_updated"`
}
