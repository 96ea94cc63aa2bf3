package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/distill/internal/interfaces"
	"github.com/ternarybob/distill/internal/models"
	"github.com/ternarybob/distill/internal/queue"
)

// EmbeddingWorker consumes chunk-processing events. It embeds the
// chunk text, appends the vector to the document index and advances
// the owning job's processed counter. Chunks whose content hash is
// already indexed skip the embedding call but still count toward
// completion.
type EmbeddingWorker struct {
	jobs     interfaces.JobStorage
	docs     interfaces.DocumentStorage
	embedder interfaces.EmbeddingService
	logger   arbor.ILogger
}

// NewEmbeddingWorker creates an embedding worker
func NewEmbeddingWorker(
	jobs interfaces.JobStorage,
	docs interfaces.DocumentStorage,
	embedder interfaces.EmbeddingService,
	logger arbor.ILogger,
) *EmbeddingWorker {
	return &EmbeddingWorker{
		jobs:     jobs,
		docs:     docs,
		embedder: embedder,
		logger:   logger,
	}
}

// Handle processes one chunk delivery
func (w *EmbeddingWorker) Handle(ctx context.Context, delivery *queue.Delivery) error {
	msg, err := models.DecodeChunkMessage(delivery.Payload)
	if err != nil {
		w.logger.Warn().Err(err).Str("message_id", delivery.ID).Msg("Rejecting undecodable chunk message")
		return NewValidationError("undecodable chunk message", err)
	}

	chunk, err := w.jobs.GetChunk(ctx, msg.ChunkID)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return NewTransientError("load chunk", err)
	}

	if chunk != nil {
		// Redelivered after the increment already happened
		if chunk.Status == models.ChunkStatusIndexed || chunk.Status == models.ChunkStatusFailed {
			w.logger.Info().
				Str("chunk_id", chunk.ID).
				Str("status", string(chunk.Status)).
				Msg("Skipping redelivered chunk message")
			return nil
		}

		// Redelivered between the index append and the status update.
		// The vector exists, so finish the bookkeeping without
		// embedding again.
		if chunk.VectorID != nil {
			return w.finishChunk(ctx, msg, chunk.VectorID)
		}
	}

	// Identical content from an earlier job is already searchable.
	// Skip the embedding call and count the chunk as processed.
	hash := models.HashContent(msg.Content)
	indexed, err := w.jobs.IsContentIndexed(ctx, hash)
	if err != nil {
		return NewTransientError("check content hash", err)
	}
	if indexed {
		w.logger.Debug().
			Str("chunk_id", msg.ChunkID).
			Str("content_hash", hash).
			Msg("Content already indexed, skipping embedding")
		return w.finishChunk(ctx, msg, nil)
	}

	if err := w.jobs.UpdateChunkStatus(ctx, msg.ChunkID, models.ChunkStatusEmbedding, nil, ""); err != nil {
		return NewTransientError("mark chunk embedding", err)
	}

	vectors, err := w.embedder.EmbedDocuments(ctx, []string{msg.Content})
	if err != nil {
		// Endpoint failures are usually recoverable; leave the message
		// for redelivery and let the receive cap dead-letter it if the
		// endpoint stays down
		return NewFatalWorkerError("embed chunk", err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return w.failChunk(ctx, msg, fmt.Sprintf("embedding endpoint returned %d vectors", len(vectors)))
	}

	id, err := w.docs.NextID()
	if err != nil {
		return NewTransientError("allocate document id", err)
	}
	doc := &models.IndexedDocument{
		ID:        id,
		Content:   msg.Content,
		Vector:    vectors[0],
		Metadata:  msg.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := w.docs.SaveDocument(doc); err != nil {
		return NewTransientError("save document", err)
	}

	return w.finishChunk(ctx, msg, &id)
}

// finishChunk marks the chunk indexed and advances the job counter,
// completing the job when the last chunk lands
func (w *EmbeddingWorker) finishChunk(ctx context.Context, msg *models.ChunkMessage, vectorID *int64) error {
	if err := w.jobs.UpdateChunkStatus(ctx, msg.ChunkID, models.ChunkStatusIndexed, vectorID, ""); err != nil {
		return NewTransientError("mark chunk indexed", err)
	}
	return w.advanceJob(ctx, msg)
}

// failChunk records a deterministic chunk failure. The chunk still
// counts toward completion so one bad chunk cannot wedge the job.
func (w *EmbeddingWorker) failChunk(ctx context.Context, msg *models.ChunkMessage, reason string) error {
	w.logger.Warn().
		Str("chunk_id", msg.ChunkID).
		Str("job_id", msg.JobID).
		Str("reason", reason).
		Msg("Chunk failed")

	if err := w.jobs.UpdateChunkStatus(ctx, msg.ChunkID, models.ChunkStatusFailed, nil, reason); err != nil {
		return NewTransientError("mark chunk failed", err)
	}
	return w.advanceJob(ctx, msg)
}

func (w *EmbeddingWorker) advanceJob(ctx context.Context, msg *models.ChunkMessage) error {
	processed, total, completed, err := w.jobs.IncrementProcessedChunks(ctx, msg.JobID)
	if err != nil {
		return NewTransientError("increment processed chunks", err)
	}

	if completed {
		w.logger.Info().
			Str("job_id", msg.JobID).
			Int("chunks", total).
			Msg("Job completed")
	} else {
		w.logger.Debug().
			Str("job_id", msg.JobID).
			Int("processed", processed).
			Int("total", total).
			Msg("Chunk processed")
	}
	return nil
}
