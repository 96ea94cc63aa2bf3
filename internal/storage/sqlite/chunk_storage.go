package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ternarybob/distill/internal/interfaces"
	"github.com/ternarybob/distill/internal/models"
)

// CreateChunk inserts a chunk row. (job_id, chunk_index) uniqueness is
// enforced by the schema, so a redelivered ingest message cannot
// create duplicate rows.
func (s *JobStorage) CreateChunk(ctx context.Context, chunk *models.Chunk) error {
	if err := chunk.Validate(); err != nil {
		return fmt.Errorf("invalid chunk: %w", err)
	}

	if chunk.ContentHash == "" {
		chunk.ContentHash = models.HashContent(chunk.Content)
	}
	if chunk.Status == "" {
		chunk.Status = models.ChunkStatusPending
	}

	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO chunks (chunk_id, job_id, chunk_index, content, content_hash, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, chunk_index) DO NOTHING`,
		chunk.ID, chunk.JobID, chunk.ChunkIndex, chunk.Content, chunk.ContentHash, string(chunk.Status))
	if err != nil {
		return fmt.Errorf("failed to create chunk: %w", err)
	}
	return nil
}

// GetChunk fetches a chunk by ID
func (s *JobStorage) GetChunk(ctx context.Context, chunkID string) (*models.Chunk, error) {
	row := s.db.DB().QueryRowContext(ctx, `
		SELECT chunk_id, job_id, chunk_index, content, content_hash, status, vector_id, error_message
		FROM chunks WHERE chunk_id = ?`, chunkID)
	return scanChunk(row)
}

// GetChunksByJob returns a job's chunks in reading order
func (s *JobStorage) GetChunksByJob(ctx context.Context, jobID string) ([]*models.Chunk, error) {
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT chunk_id, job_id, chunk_index, content, content_hash, status, vector_id, error_message
		FROM chunks WHERE job_id = ? ORDER BY chunk_index`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	chunks := []*models.Chunk{}
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// UpdateChunkStatus moves a chunk through its lifecycle
func (s *JobStorage) UpdateChunkStatus(ctx context.Context, chunkID string, status models.ChunkStatus, vectorID *int64, errorMessage string) error {
	res, err := s.db.DB().ExecContext(ctx, `
		UPDATE chunks SET status = ?, vector_id = COALESCE(?, vector_id), error_message = ?
		WHERE chunk_id = ?`,
		string(status), vectorID, errorMessage, chunkID)
	if err != nil {
		return fmt.Errorf("failed to update chunk status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

// IsContentIndexed reports whether any chunk with this content hash has
// already reached indexed status. This is the idempotency check that
// absorbs at-least-once redelivery.
func (s *JobStorage) IsContentIndexed(ctx context.Context, contentHash string) (bool, error) {
	var exists int
	err := s.db.DB().QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM chunks WHERE content_hash = ? AND status = 'indexed')`,
		contentHash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check indexed content: %w", err)
	}
	return exists == 1, nil
}

// CountChunks returns the total chunk row count
func (s *JobStorage) CountChunks(ctx context.Context) (int, error) {
	var count int
	err := s.db.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&count)
	return count, err
}

func scanChunk(row scanner) (*models.Chunk, error) {
	var chunk models.Chunk
	var status string
	var vectorID sql.NullInt64
	var errorMessage sql.NullString

	err := row.Scan(&chunk.ID, &chunk.JobID, &chunk.ChunkIndex, &chunk.Content,
		&chunk.ContentHash, &status, &vectorID, &errorMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan chunk: %w", err)
	}

	chunk.Status = models.ChunkStatus(status)
	chunk.ErrorMessage = errorMessage.String
	if vectorID.Valid {
		v := vectorID.Int64
		chunk.VectorID = &v
	}

	return &chunk, nil
}
