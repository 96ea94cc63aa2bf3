package models

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Topic names for the message bus. Each topic carries one schema.
const (
	TopicIngest    = "doc-ingest-requests"
	TopicChunk     = "chunk-processing"
	TopicIngestDLQ = "doc-ingest-dlq"
	TopicChunkDLQ  = "chunk-processing-dlq"
)

// DeadLetterTopic returns the dead-letter destination for a topic
func DeadLetterTopic(topic string) string {
	switch topic {
	case TopicIngest:
		return TopicIngestDLQ
	case TopicChunk:
		return TopicChunkDLQ
	default:
		return topic + "-dlq"
	}
}

// SchemaVersion is stamped onto every published message so consumers
// can reject payloads they do not understand.
const SchemaVersion = 1

var messageValidator = validator.New()

// IngestMessage is the payload published to doc-ingest-requests,
// partitioned by job_id.
type IngestMessage struct {
	Version     int    `json:"version" validate:"required,eq=1"`
	JobID       string `json:"job_id" validate:"required"`
	Filename    string `json:"filename" validate:"required"`
	FileSize    int64  `json:"file_size" validate:"gte=0"`
	ContentType string `json:"content_type"`
	BlobKey     string `json:"blob_key" validate:"required"`
}

// ChunkMessage is the payload published to chunk-processing,
// partitioned by chunk_id.
type ChunkMessage struct {
	Version    int           `json:"version" validate:"required,eq=1"`
	ChunkID    string        `json:"chunk_id" validate:"required"`
	JobID      string        `json:"job_id" validate:"required"`
	ChunkIndex int           `json:"chunk_index" validate:"gte=0"`
	Content    string        `json:"content" validate:"required"`
	Metadata   ChunkMetadata `json:"metadata"`
}

// NewIngestMessage builds a versioned ingest payload from a job
func NewIngestMessage(job *Job) IngestMessage {
	return IngestMessage{
		Version:     SchemaVersion,
		JobID:       job.ID,
		Filename:    job.Filename,
		FileSize:    job.FileSize,
		ContentType: job.ContentType,
		BlobKey:     job.BlobKey,
	}
}

// NewChunkMessage builds a versioned chunk payload
func NewChunkMessage(chunk *Chunk, meta ChunkMetadata) ChunkMessage {
	return ChunkMessage{
		Version:    SchemaVersion,
		ChunkID:    chunk.ID,
		JobID:      chunk.JobID,
		ChunkIndex: chunk.ChunkIndex,
		Content:    chunk.Content,
		Metadata:   meta,
	}
}

// DecodeIngestMessage unmarshals and validates an ingest payload.
// Malformed payloads are rejected here so consumers can DLQ them
// instead of failing at arbitrary call sites.
func DecodeIngestMessage(data []byte) (*IngestMessage, error) {
	var msg IngestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed ingest message: %w", err)
	}
	if err := messageValidator.Struct(&msg); err != nil {
		return nil, fmt.Errorf("invalid ingest message: %w", err)
	}
	return &msg, nil
}

// DecodeChunkMessage unmarshals and validates a chunk payload
func DecodeChunkMessage(data []byte) (*ChunkMessage, error) {
	var msg ChunkMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed chunk message: %w", err)
	}
	if err := messageValidator.Struct(&msg); err != nil {
		return nil, fmt.Errorf("invalid chunk message: %w", err)
	}
	return &msg, nil
}
