package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/distill/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
// Callers branch on it with errors.Is instead of catching panics or
// inspecting driver errors.
var ErrNotFound = errors.New("not found")

// JobStorage is the durable record of ingestion jobs and their chunks.
// All mutations are transactional; the store does not retry failed
// transactions itself.
type JobStorage interface {
	// Job lifecycle
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context, limit int, status models.JobStatus) ([]*models.Job, error)
	CountJobs(ctx context.Context, status models.JobStatus) (int, error)

	// Status mutations. UpdateJobStatus validates the state machine
	// transition and never regresses processed_chunks.
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, progress int) error
	UpdateJobProgress(ctx context.Context, jobID string, progress int) error
	SetTotalChunks(ctx context.Context, jobID string, total int) error
	FailJob(ctx context.Context, jobID string, errorMessage string) error

	// IncrementProcessedChunks atomically increments the counter and,
	// when it reaches total_chunks, transitions the job to completed in
	// the same transaction. Safe under concurrent embedding workers.
	IncrementProcessedChunks(ctx context.Context, jobID string) (processed int, total int, completed bool, err error)

	// CompleteIfFullyProcessed transitions an embedding job whose
	// counter already equals total_chunks to completed. Covers the case
	// where the last chunk was counted before the job left chunking.
	CompleteIfFullyProcessed(ctx context.Context, jobID string) (bool, error)

	// FailStaleJobs marks jobs stuck in a non-terminal state for longer
	// than maxAgeSeconds as failed, returning how many were swept.
	FailStaleJobs(ctx context.Context, maxAgeSeconds int64) (int, error)

	// Chunk operations
	CreateChunk(ctx context.Context, chunk *models.Chunk) error
	GetChunk(ctx context.Context, chunkID string) (*models.Chunk, error)
	GetChunksByJob(ctx context.Context, jobID string) ([]*models.Chunk, error)
	UpdateChunkStatus(ctx context.Context, chunkID string, status models.ChunkStatus, vectorID *int64, errorMessage string) error
	IsContentIndexed(ctx context.Context, contentHash string) (bool, error)
	CountChunks(ctx context.Context) (int, error)

	// Stats aggregates job counts for the stats endpoint
	Stats(ctx context.Context) (*models.JobStats, error)
}

// BlobStorage is content-addressable storage for raw uploaded files
type BlobStorage interface {
	Put(ctx context.Context, data []byte) (key string, err error)
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// DocumentStorage persists indexed documents for the dense and sparse
// indices. Append-only; NextID hands out the stable integer ids both
// indices key on.
type DocumentStorage interface {
	NextID() (int64, error)
	SaveDocument(doc *models.IndexedDocument) error
	GetDocument(id int64) (*models.IndexedDocument, error)
	AllDocuments() ([]*models.IndexedDocument, error)
	CountDocuments() (int, error)
	Close() error
}

// StorageManager bundles the storage backends behind one lifecycle
type StorageManager interface {
	JobStorage() JobStorage
	BlobStorage() BlobStorage
	DocumentStorage() DocumentStorage
	Close() error
}
