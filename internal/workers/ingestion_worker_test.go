package workers

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/distill/internal/common"
	"github.com/ternarybob/distill/internal/models"
	"github.com/ternarybob/distill/internal/queue"
	"github.com/ternarybob/distill/internal/services/chunker"
	"github.com/ternarybob/distill/internal/services/parser"
)

type ingestionFixture struct {
	jobs   *memJobs
	blobs  *memBlobs
	bus    *queue.Bus
	worker *IngestionWorker
}

func newIngestionFixture(t *testing.T) *ingestionFixture {
	t.Helper()
	logger := common.GetLogger()

	jobs := newMemJobs()
	blobs := newMemBlobs()
	bus := newTestBus(t)

	worker := NewIngestionWorker(
		jobs,
		blobs,
		parser.NewService(logger),
		chunker.New(&common.ChunkingConfig{ChunkSize: 200, Overlap: 20, MinLength: 10}, logger),
		bus,
		logger,
	)

	return &ingestionFixture{jobs: jobs, blobs: blobs, bus: bus, worker: worker}
}

func (f *ingestionFixture) createJob(t *testing.T, filename, content string) *models.Job {
	t.Helper()
	ctx := context.Background()

	key, err := f.blobs.Put(ctx, []byte(content))
	require.NoError(t, err)

	job := &models.Job{
		ID:       common.NewJobID(),
		Filename: filename,
		FileSize: int64(len(content)),
		BlobKey:  key,
		Status:   models.JobStatusPending,
	}
	require.NoError(t, f.jobs.CreateJob(ctx, job))
	return job
}

func (f *ingestionFixture) deliver(t *testing.T, job *models.Job) error {
	t.Helper()
	payload, err := json.Marshal(models.NewIngestMessage(job))
	require.NoError(t, err)
	return f.worker.Handle(context.Background(), &queue.Delivery{
		ID:      common.NewMessageID(),
		Topic:   models.TopicIngest,
		Payload: payload,
	})
}

// drainChunkTopic receives and acks every visible chunk message
func drainChunkTopic(t *testing.T, bus *queue.Bus) []*models.ChunkMessage {
	t.Helper()
	var messages []*models.ChunkMessage
	for {
		delivery, ack, err := bus.Receive(context.Background(), models.TopicChunk)
		if err != nil {
			break
		}
		msg, err := models.DecodeChunkMessage(delivery.Payload)
		require.NoError(t, err)
		messages = append(messages, msg)
		require.NoError(t, ack())
	}
	return messages
}

func TestIngestionHandle_PublishesChunkEvents(t *testing.T) {
	f := newIngestionFixture(t)

	text := strings.Repeat("First paragraph of the document. ", 8) +
		"\n\n" + strings.Repeat("Second paragraph with more words. ", 8)
	job := f.createJob(t, "report.txt", text)

	require.NoError(t, f.deliver(t, job))

	updated, err := f.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusEmbedding, updated.Status)
	require.NotNil(t, updated.TotalChunks)
	assert.Greater(t, *updated.TotalChunks, 0)
	assert.Equal(t, models.ProgressEmbedding, updated.Progress)

	messages := drainChunkTopic(t, f.bus)
	require.Len(t, messages, *updated.TotalChunks)
	for i, msg := range messages {
		assert.Equal(t, job.ID, msg.JobID)
		assert.Equal(t, i, msg.ChunkIndex)
		assert.Equal(t, *updated.TotalChunks, msg.Metadata.TotalChunks)
		assert.Equal(t, "report.txt", msg.Metadata.Filename)
		assert.NotEmpty(t, msg.Content)
	}

	chunks, err := f.jobs.GetChunksByJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, *updated.TotalChunks)
}

func TestIngestionHandle_EmptyDocumentCompletes(t *testing.T) {
	f := newIngestionFixture(t)
	job := f.createJob(t, "empty.txt", "")

	require.NoError(t, f.deliver(t, job))

	updated, err := f.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, updated.Status)
	assert.Equal(t, models.ProgressCompleted, updated.Progress)
	require.NotNil(t, updated.TotalChunks)
	assert.Equal(t, 0, *updated.TotalChunks)

	assert.Empty(t, drainChunkTopic(t, f.bus))
}

func TestIngestionHandle_UnknownJobIsNotRetried(t *testing.T) {
	f := newIngestionFixture(t)

	job := &models.Job{
		ID:       common.NewJobID(),
		Filename: "ghost.txt",
		BlobKey:  "blob-missing",
		Status:   models.JobStatusPending,
	}

	err := f.deliver(t, job)
	require.Error(t, err)
	assert.False(t, queue.IsTransient(err))
}

func TestIngestionHandle_UndecodableMessageIsNotRetried(t *testing.T) {
	f := newIngestionFixture(t)

	err := f.worker.Handle(context.Background(), &queue.Delivery{
		ID:      common.NewMessageID(),
		Topic:   models.TopicIngest,
		Payload: []byte(`{"version": 99}`),
	})
	require.Error(t, err)
	assert.False(t, queue.IsTransient(err))
}

func TestIngestionHandle_MissingBlobFailsJob(t *testing.T) {
	f := newIngestionFixture(t)

	job := &models.Job{
		ID:       common.NewJobID(),
		Filename: "lost.txt",
		BlobKey:  "blob-gone",
		Status:   models.JobStatusPending,
	}
	require.NoError(t, f.jobs.CreateJob(context.Background(), job))

	err := f.deliver(t, job)
	require.Error(t, err)
	assert.False(t, queue.IsTransient(err))

	updated, getErr := f.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.JobStatusFailed, updated.Status)
	assert.NotEmpty(t, updated.ErrorMessage)
}

func TestIngestionHandle_UnsupportedExtensionFailsJob(t *testing.T) {
	f := newIngestionFixture(t)
	job := f.createJob(t, "binary.exe", "not really a document")

	err := f.deliver(t, job)
	require.Error(t, err)
	assert.False(t, queue.IsTransient(err))

	updated, getErr := f.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.JobStatusFailed, updated.Status)
}

func TestIngestionHandle_ResumesJobStuckInChunking(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()

	text := strings.Repeat("First paragraph of the document. ", 6) +
		"\n\n" + strings.Repeat("Second paragraph with more words. ", 6)
	job := f.createJob(t, "resume.txt", text)

	// A worker that died between the chunking transition and the
	// embedding transition leaves the job here, possibly with some
	// chunk rows already written
	require.NoError(t, f.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing, models.ProgressProcessing))
	require.NoError(t, f.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusChunking, models.ProgressChunking))
	partial := &models.Chunk{
		ID:          common.NewChunkID(),
		JobID:       job.ID,
		ChunkIndex:  0,
		Content:     "partial chunk persisted before the crash",
		ContentHash: models.HashContent("partial chunk persisted before the crash"),
		Status:      models.ChunkStatusPending,
	}
	require.NoError(t, f.jobs.CreateChunk(ctx, partial))

	require.NoError(t, f.deliver(t, job))

	updated, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusEmbedding, updated.Status)
	require.NotNil(t, updated.TotalChunks)

	messages := drainChunkTopic(t, f.bus)
	require.Len(t, messages, *updated.TotalChunks)
	require.NotEmpty(t, messages)
	// Republished event for index 0 reuses the surviving row
	assert.Equal(t, partial.ID, messages[0].ChunkID)
}

func TestIngestionHandle_SettlesJobCountedDuringChunking(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()

	job := f.createJob(t, "tiny.txt", "A single short paragraph that fits in one chunk.")
	require.NoError(t, f.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing, models.ProgressProcessing))
	require.NoError(t, f.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusChunking, models.ProgressChunking))
	require.NoError(t, f.jobs.SetTotalChunks(ctx, job.ID, 1))

	// Embedding worker counts the only chunk before the job leaves
	// chunking. Completion holds off until the embedding state.
	processed, total, completed, err := f.jobs.IncrementProcessedChunks(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, total)
	assert.False(t, completed)

	require.NoError(t, f.deliver(t, job))

	updated, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, updated.Status)
	assert.Equal(t, models.ProgressCompleted, updated.Progress)
}

func TestIngestionHandle_RedeliveryAfterPublishIsIdempotent(t *testing.T) {
	f := newIngestionFixture(t)
	job := f.createJob(t, "doc.txt", strings.Repeat("Stable content for chunking. ", 10))

	require.NoError(t, f.deliver(t, job))
	first := drainChunkTopic(t, f.bus)
	require.NotEmpty(t, first)

	// Second delivery of the same message after the job moved on
	require.NoError(t, f.deliver(t, job))
	assert.Empty(t, drainChunkTopic(t, f.bus))
}
