package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/distill/internal/common"
	"github.com/ternarybob/distill/internal/interfaces"
	"github.com/ternarybob/distill/internal/models"
	"github.com/ternarybob/distill/internal/queue"
	"github.com/ternarybob/distill/internal/services/chunker"
)

// IngestionWorker consumes doc-ingest-requests. It fetches the raw
// upload from blob storage, extracts text, splits it into chunks and
// publishes one chunk-processing event per chunk.
type IngestionWorker struct {
	jobs    interfaces.JobStorage
	blobs   interfaces.BlobStorage
	parser  interfaces.Parser
	chunker *chunker.Chunker
	bus     *queue.Bus
	logger  arbor.ILogger
}

// NewIngestionWorker creates an ingestion worker
func NewIngestionWorker(
	jobs interfaces.JobStorage,
	blobs interfaces.BlobStorage,
	parser interfaces.Parser,
	chunker *chunker.Chunker,
	bus *queue.Bus,
	logger arbor.ILogger,
) *IngestionWorker {
	return &IngestionWorker{
		jobs:    jobs,
		blobs:   blobs,
		parser:  parser,
		chunker: chunker,
		bus:     bus,
		logger:  logger,
	}
}

// Handle processes one ingest delivery. Validation and processing
// failures mark the job failed and dead-letter the message; transient
// failures leave the message for redelivery.
func (w *IngestionWorker) Handle(ctx context.Context, delivery *queue.Delivery) error {
	msg, err := models.DecodeIngestMessage(delivery.Payload)
	if err != nil {
		w.logger.Warn().Err(err).Str("message_id", delivery.ID).Msg("Rejecting undecodable ingest message")
		return NewValidationError("undecodable ingest message", err)
	}

	job, err := w.jobs.GetJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return NewValidationError(fmt.Sprintf("job %s does not exist", msg.JobID), err)
		}
		return NewTransientError("load job", err)
	}

	// Redelivery of a job that already moved past ingestion. Ack and
	// move on; the chunk events were already published. A job still in
	// chunking crashed mid-publish and must be resumed, so it is not
	// skipped here.
	if job.Status == models.JobStatusEmbedding || job.Status.IsTerminal() {
		w.logger.Info().
			Str("job_id", job.ID).
			Str("status", string(job.Status)).
			Msg("Skipping redelivered ingest message")
		return nil
	}

	if job.Status == models.JobStatusPending {
		if err := w.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing, models.ProgressProcessing); err != nil {
			return NewTransientError("mark processing", err)
		}
	}

	data, err := w.blobs.Get(ctx, msg.BlobKey)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return w.failJob(ctx, job.ID, fmt.Sprintf("uploaded file is missing from blob storage (key %s)", msg.BlobKey))
		}
		return NewTransientError("fetch blob", err)
	}

	text, err := w.parser.Parse(ctx, data, msg.Filename)
	if err != nil {
		return w.failJob(ctx, job.ID, fmt.Sprintf("text extraction failed: %v", err))
	}

	// Already in chunking on a resumed delivery; the transition was
	// recorded before the crash and chunking is not a legal self-edge.
	if job.Status != models.JobStatusChunking {
		if err := w.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusChunking, models.ProgressChunking); err != nil {
			return NewTransientError("mark chunking", err)
		}
	}

	chunks := w.chunker.Split(text)
	total := len(chunks)

	if err := w.jobs.SetTotalChunks(ctx, job.ID, total); err != nil {
		return NewTransientError("set total chunks", err)
	}

	// Nothing to index. Empty and whitespace-only documents complete
	// immediately instead of waiting on chunk events that never come.
	if total == 0 {
		if err := w.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusEmbedding, models.ProgressEmbedding); err != nil {
			return NewTransientError("mark embedding", err)
		}
		if err := w.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted, models.ProgressCompleted); err != nil {
			return NewTransientError("mark completed", err)
		}
		w.logger.Info().Str("job_id", job.ID).Msg("Job completed with no indexable content")
		return nil
	}

	// Reuse chunk rows from an earlier partial delivery so the ids in
	// republished events match the persisted rows
	existing, err := w.jobs.GetChunksByJob(ctx, job.ID)
	if err != nil {
		return NewTransientError("load existing chunks", err)
	}
	byIndex := make(map[int]*models.Chunk, len(existing))
	for _, c := range existing {
		byIndex[c.ChunkIndex] = c
	}

	for i, content := range chunks {
		chunk := byIndex[i]
		if chunk == nil {
			chunk = &models.Chunk{
				ID:          common.NewChunkID(),
				JobID:       job.ID,
				ChunkIndex:  i,
				Content:     content,
				ContentHash: models.HashContent(content),
				Status:      models.ChunkStatusPending,
			}
			if err := w.jobs.CreateChunk(ctx, chunk); err != nil {
				return NewTransientError("create chunk", err)
			}
		}

		meta := models.ChunkMetadata{
			JobID:       job.ID,
			ChunkIndex:  i,
			TotalChunks: total,
			Filename:    msg.Filename,
		}
		payload, err := json.Marshal(models.NewChunkMessage(chunk, meta))
		if err != nil {
			return NewProcessingError("encode chunk message", err)
		}
		if err := w.bus.Publish(ctx, models.TopicChunk, payload); err != nil {
			return NewTransientError("publish chunk message", err)
		}

		if err := w.jobs.UpdateJobProgress(ctx, job.ID, models.ChunkingProgress(i+1, total)); err != nil {
			return NewTransientError("update chunking progress", err)
		}
	}

	if err := w.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusEmbedding, models.ProgressEmbedding); err != nil {
		return NewTransientError("mark embedding", err)
	}

	// Embedding workers may have counted every chunk while the job was
	// still chunking; completion defers to the embedding state, so
	// settle it now that the transition has landed.
	if _, err := w.jobs.CompleteIfFullyProcessed(ctx, job.ID); err != nil {
		return NewTransientError("settle completed job", err)
	}

	w.logger.Info().
		Str("job_id", job.ID).
		Str("filename", msg.Filename).
		Int("chunks", total).
		Msg("Document chunked and published")
	return nil
}

// failJob marks the job failed and returns a non-retryable error so
// the consumer dead-letters the message
func (w *IngestionWorker) failJob(ctx context.Context, jobID, reason string) error {
	if err := w.jobs.FailJob(ctx, jobID, reason); err != nil {
		return NewTransientError("mark job failed", err)
	}
	w.logger.Warn().Str("job_id", jobID).Str("reason", reason).Msg("Ingestion job failed")
	return NewProcessingError("ingestion", errors.New(reason))
}
