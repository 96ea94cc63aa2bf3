package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/distill/internal/common"
	"github.com/ternarybob/distill/internal/interfaces"
	"github.com/ternarybob/distill/internal/models"
)

func newTestStorage(t *testing.T) interfaces.JobStorage {
	t.Helper()

	db, err := NewSQLiteDB(common.GetLogger(), &common.SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "distill.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewJobStorage(db, common.GetLogger())
}

func newPendingJob() *models.Job {
	return &models.Job{
		ID:       common.NewJobID(),
		Filename: "report.txt",
		FileSize: 1024,
		BlobKey:  "blob-1",
		Status:   models.JobStatusPending,
	}
}

func TestJobStorage_CreateAndGet(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	job := newPendingJob()
	require.NoError(t, storage.CreateJob(ctx, job))

	got, err := storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "report.txt", got.Filename)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 0, got.Progress)
	assert.Nil(t, got.TotalChunks)
	assert.Nil(t, got.CompletedAt)
}

func TestJobStorage_GetMissingJob(t *testing.T) {
	storage := newTestStorage(t)

	_, err := storage.GetJob(context.Background(), "job_missing")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestJobStorage_StatusTransitions(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	job := newPendingJob()
	require.NoError(t, storage.CreateJob(ctx, job))

	require.NoError(t, storage.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing, models.ProgressProcessing))
	require.NoError(t, storage.UpdateJobStatus(ctx, job.ID, models.JobStatusChunking, models.ProgressChunking))

	// Skipping embedding is not a legal transition
	err := storage.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal job transition")

	require.NoError(t, storage.UpdateJobStatus(ctx, job.ID, models.JobStatusEmbedding, models.ProgressEmbedding))
	require.NoError(t, storage.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted, 100))

	got, err := storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.CompletedAt)

	// Terminal jobs reject further transitions
	err = storage.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, 0)
	assert.Error(t, err)
}

func TestJobStorage_ProgressNeverMovesBackwards(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	job := newPendingJob()
	require.NoError(t, storage.CreateJob(ctx, job))
	require.NoError(t, storage.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing, models.ProgressProcessing))

	require.NoError(t, storage.UpdateJobProgress(ctx, job.ID, 50))
	require.NoError(t, storage.UpdateJobProgress(ctx, job.ID, 40))

	got, err := storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Progress)
}

func TestJobStorage_FailJob(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	job := newPendingJob()
	require.NoError(t, storage.CreateJob(ctx, job))
	require.NoError(t, storage.FailJob(ctx, job.ID, "blob not found"))

	got, err := storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "blob not found", got.ErrorMessage)
	require.NotNil(t, got.CompletedAt)

	// Failing an already terminal job is a no-op
	require.NoError(t, storage.FailJob(ctx, job.ID, "second failure"))
	got, err = storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "blob not found", got.ErrorMessage)
}

func TestJobStorage_IncrementProcessedChunks(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	job := newPendingJob()
	require.NoError(t, storage.CreateJob(ctx, job))
	require.NoError(t, storage.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing, models.ProgressProcessing))
	require.NoError(t, storage.UpdateJobStatus(ctx, job.ID, models.JobStatusChunking, models.ProgressChunking))
	require.NoError(t, storage.SetTotalChunks(ctx, job.ID, 2))
	require.NoError(t, storage.UpdateJobStatus(ctx, job.ID, models.JobStatusEmbedding, models.ProgressEmbedding))

	processed, total, completed, err := storage.IncrementProcessedChunks(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 2, total)
	assert.False(t, completed)

	got, err := storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EmbeddingProgress(1, 2), got.Progress)

	processed, total, completed, err = storage.IncrementProcessedChunks(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
	assert.Equal(t, 2, total)
	assert.True(t, completed)

	got, err = storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)

	// Extra increments past the cap report completion without moving the counter
	processed, _, completed, err = storage.IncrementProcessedChunks(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
	assert.True(t, completed)
}

func TestJobStorage_CompletionWaitsForEmbeddingState(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	job := newPendingJob()
	require.NoError(t, storage.CreateJob(ctx, job))
	require.NoError(t, storage.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing, models.ProgressProcessing))
	require.NoError(t, storage.UpdateJobStatus(ctx, job.ID, models.JobStatusChunking, models.ProgressChunking))
	require.NoError(t, storage.SetTotalChunks(ctx, job.ID, 1))

	// The last chunk is counted while the job is still chunking; the
	// counter fills but the status stays put
	processed, total, completed, err := storage.IncrementProcessedChunks(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, total)
	assert.False(t, completed)

	got, err := storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusChunking, got.Status)

	// Nothing to settle before the embedding transition
	done, err := storage.CompleteIfFullyProcessed(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, storage.UpdateJobStatus(ctx, job.ID, models.JobStatusEmbedding, models.ProgressEmbedding))

	done, err = storage.CompleteIfFullyProcessed(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, done)

	got, err = storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.CompletedAt)
}

func TestJobStorage_ListAndCount(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		job := newPendingJob()
		require.NoError(t, storage.CreateJob(ctx, job))
		if i == 0 {
			require.NoError(t, storage.FailJob(ctx, job.ID, "boom"))
		}
	}

	all, err := storage.ListJobs(ctx, 10, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	failed, err := storage.ListJobs(ctx, 10, models.JobStatusFailed)
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	count, err := storage.CountJobs(ctx, models.JobStatusPending)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestJobStorage_FailStaleJobs(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	stale := newPendingJob()
	require.NoError(t, storage.CreateJob(ctx, stale))

	fresh := newPendingJob()
	require.NoError(t, storage.CreateJob(ctx, fresh))

	// Nothing is older than an hour yet
	swept, err := storage.FailStaleJobs(ctx, 3600)
	require.NoError(t, err)
	assert.Zero(t, swept)

	// With a zero max age every non-terminal job from before this instant is stale
	time.Sleep(1100 * time.Millisecond)
	swept, err = storage.FailStaleJobs(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, swept)

	got, err := storage.GetJob(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
}

func TestJobStorage_Stats(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	jobA := newPendingJob()
	require.NoError(t, storage.CreateJob(ctx, jobA))
	jobB := newPendingJob()
	require.NoError(t, storage.CreateJob(ctx, jobB))
	require.NoError(t, storage.FailJob(ctx, jobB.ID, "boom"))

	stats, err := storage.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalJobs)
	assert.Equal(t, 1, stats.JobsByStatus["pending"])
	assert.Equal(t, 1, stats.JobsByStatus["failed"])
}
