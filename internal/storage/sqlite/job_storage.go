package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/distill/internal/interfaces"
	"github.com/ternarybob/distill/internal/models"
)

// JobStorage implements the durable job and chunk store on SQLite
type JobStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewJobStorage creates a new job storage instance
func NewJobStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// CreateJob inserts a new job row
func (s *JobStorage) CreateJob(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO jobs (job_id, filename, file_size, content_type, blob_key, status, progress, processed_chunks, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Filename, job.FileSize, job.ContentType, job.BlobKey,
		string(job.Status), job.Progress, job.ProcessedChunks,
		job.CreatedAt.Unix(), job.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Debug().Str("job_id", job.ID).Str("filename", job.Filename).Msg("Job created")
	return nil
}

// GetJob fetches a job by ID
func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	row := s.db.DB().QueryRowContext(ctx, `
		SELECT job_id, filename, file_size, content_type, blob_key, status, progress,
		       total_chunks, processed_chunks, error_message, created_at, updated_at, completed_at
		FROM jobs WHERE job_id = ?`, jobID)
	return scanJob(row)
}

// ListJobs returns jobs ordered newest first, optionally filtered by status
func (s *JobStorage) ListJobs(ctx context.Context, limit int, status models.JobStatus) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT job_id, filename, file_size, content_type, blob_key, status, progress,
		       total_chunks, processed_chunks, error_message, created_at, updated_at, completed_at
		FROM jobs`
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountJobs counts jobs, optionally filtered by status
func (s *JobStorage) CountJobs(ctx context.Context, status models.JobStatus) (int, error) {
	var count int
	var err error
	if status != "" {
		err = s.db.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs WHERE status = ?", string(status)).Scan(&count)
	} else {
		err = s.db.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&count)
	}
	return count, err
}

// UpdateJobStatus transitions a job to a new state. Illegal transitions
// (including any write to a terminal job) are rejected.
func (s *JobStorage) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, progress int) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid job status: %s", status)
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM jobs WHERE job_id = ?", jobID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return err
	}

	if !models.JobStatus(current).CanTransitionTo(status) {
		return fmt.Errorf("illegal job transition %s -> %s for %s", current, status, jobID)
	}

	now := time.Now().Unix()
	if status.IsTerminal() {
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, progress = ?, updated_at = ?, completed_at = ?
			WHERE job_id = ?`,
			string(status), progress, now, now, jobID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, progress = ?, updated_at = ?
			WHERE job_id = ?`,
			string(status), progress, now, jobID)
	}
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	return tx.Commit()
}

// UpdateJobProgress bumps progress without changing state. Progress
// never moves backwards.
func (s *JobStorage) UpdateJobProgress(ctx context.Context, jobID string, progress int) error {
	res, err := s.db.DB().ExecContext(ctx, `
		UPDATE jobs SET progress = MAX(progress, ?), updated_at = ?
		WHERE job_id = ? AND status NOT IN ('completed', 'failed')`,
		progress, time.Now().Unix(), jobID)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Terminal or missing job; progress writes after completion are a no-op
		return nil
	}
	return nil
}

// SetTotalChunks records the chunk count once chunking determines it
func (s *JobStorage) SetTotalChunks(ctx context.Context, jobID string, total int) error {
	res, err := s.db.DB().ExecContext(ctx, `
		UPDATE jobs SET total_chunks = ?, updated_at = ? WHERE job_id = ?`,
		total, time.Now().Unix(), jobID)
	if err != nil {
		return fmt.Errorf("failed to set total chunks: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

// FailJob marks a job failed with an error message. Terminal jobs are
// left untouched.
func (s *JobStorage) FailJob(ctx context.Context, jobID string, errorMessage string) error {
	now := time.Now().Unix()
	_, err := s.db.DB().ExecContext(ctx, `
		UPDATE jobs SET status = 'failed', error_message = ?, updated_at = ?, completed_at = ?
		WHERE job_id = ? AND status NOT IN ('completed', 'failed')`,
		errorMessage, now, now, jobID)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return nil
}

// IncrementProcessedChunks atomically advances the completion counter.
// The increment, progress computation, and completed transition all
// happen in one transaction so two workers finishing the last two
// chunks of a job cannot both (or neither) declare completion.
func (s *JobStorage) IncrementProcessedChunks(ctx context.Context, jobID string) (int, int, bool, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return 0, 0, false, err
	}
	defer tx.Rollback()

	var processed int
	var totalNull sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		UPDATE jobs
		SET processed_chunks = processed_chunks + 1, updated_at = ?
		WHERE job_id = ?
		  AND status NOT IN ('completed', 'failed')
		  AND (total_chunks IS NULL OR processed_chunks < total_chunks)
		RETURNING processed_chunks, total_chunks`,
		time.Now().Unix(), jobID).Scan(&processed, &totalNull)

	if errors.Is(err, sql.ErrNoRows) {
		// Job is terminal, fully counted, or missing; report current state
		job, getErr := s.GetJob(ctx, jobID)
		if getErr != nil {
			return 0, 0, false, getErr
		}
		total := 0
		if job.TotalChunks != nil {
			total = *job.TotalChunks
		}
		return job.ProcessedChunks, total, job.Status == models.JobStatusCompleted, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("failed to increment processed chunks: %w", err)
	}

	total := 0
	completed := false
	now := time.Now().Unix()

	if totalNull.Valid {
		total = int(totalNull.Int64)
		if processed >= total {
			// Completion only fires from embedding so the counter cannot
			// jump a job straight out of chunking. A counter that fills
			// while the job is still chunking is settled by
			// CompleteIfFullyProcessed once the embedding transition lands.
			res, err := tx.ExecContext(ctx, `
				UPDATE jobs SET status = 'completed', progress = 100, updated_at = ?, completed_at = ?
				WHERE job_id = ? AND status = 'embedding'`, now, now, jobID)
			if err != nil {
				return 0, 0, false, fmt.Errorf("failed to complete job: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return 0, 0, false, err
			}
			completed = n > 0
		} else {
			progress := models.EmbeddingProgress(processed, total)
			if _, err := tx.ExecContext(ctx, `
				UPDATE jobs SET progress = MAX(progress, ?) WHERE job_id = ?`,
				progress, jobID); err != nil {
				return 0, 0, false, fmt.Errorf("failed to update embedding progress: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, false, err
	}

	return processed, total, completed, nil
}

// CompleteIfFullyProcessed completes an embedding job whose counter
// already covers every chunk. Pairs with IncrementProcessedChunks for
// the ordering where the last chunk is counted before the embedding
// transition lands.
func (s *JobStorage) CompleteIfFullyProcessed(ctx context.Context, jobID string) (bool, error) {
	now := time.Now().Unix()
	res, err := s.db.DB().ExecContext(ctx, `
		UPDATE jobs SET status = 'completed', progress = 100, updated_at = ?, completed_at = ?
		WHERE job_id = ? AND status = 'embedding'
		  AND total_chunks IS NOT NULL AND processed_chunks >= total_chunks`,
		now, now, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to complete fully processed job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// FailStaleJobs fails jobs stuck in a non-terminal state longer than
// maxAgeSeconds. Used by the periodic sweeper.
func (s *JobStorage) FailStaleJobs(ctx context.Context, maxAgeSeconds int64) (int, error) {
	now := time.Now().Unix()
	cutoff := now - maxAgeSeconds

	res, err := s.db.DB().ExecContext(ctx, `
		UPDATE jobs SET status = 'failed', error_message = 'job stalled and was swept', updated_at = ?, completed_at = ?
		WHERE status NOT IN ('completed', 'failed') AND updated_at < ?`,
		now, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale jobs: %w", err)
	}

	n, err := res.RowsAffected()
	return int(n), err
}

// Stats aggregates job counts by status
func (s *JobStorage) Stats(ctx context.Context) (*models.JobStats, error) {
	stats := &models.JobStats{
		JobsByStatus: make(map[string]int),
		LastUpdated:  time.Now(),
	}

	rows, err := s.db.DB().QueryContext(ctx, "SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate job stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.JobsByStatus[status] = count
		stats.TotalJobs += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&stats.TotalChunks); err != nil {
		return nil, err
	}

	return stats, nil
}

// scanner abstracts sql.Row and sql.Rows for scanJob
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*models.Job, error) {
	var job models.Job
	var status string
	var contentType, errorMessage sql.NullString
	var totalChunks, completedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&job.ID, &job.Filename, &job.FileSize, &contentType, &job.BlobKey,
		&status, &job.Progress, &totalChunks, &job.ProcessedChunks, &errorMessage,
		&createdAt, &updatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.Status = models.JobStatus(status)
	job.ContentType = contentType.String
	job.ErrorMessage = errorMessage.String
	job.CreatedAt = time.Unix(createdAt, 0)
	job.UpdatedAt = time.Unix(updatedAt, 0)
	if totalChunks.Valid {
		t := int(totalChunks.Int64)
		job.TotalChunks = &t
	}
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		job.CompletedAt = &t
	}

	return &job, nil
}
