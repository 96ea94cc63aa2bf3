package workers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/distill/internal/interfaces"
	"github.com/ternarybob/distill/internal/models"
	"github.com/ternarybob/distill/internal/queue"
)

// newTestBus opens an in-memory badger instance for queue tests
func newTestBus(t *testing.T) *queue.Bus {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus, err := queue.NewBus(db, 5*time.Minute, 3, nil)
	require.NoError(t, err)
	return bus
}

// memJobs is an in-memory JobStorage with the same transition and
// counter semantics as the SQLite implementation
type memJobs struct {
	mu     sync.Mutex
	jobs   map[string]*models.Job
	chunks map[string]*models.Chunk
}

func newMemJobs() *memJobs {
	return &memJobs{
		jobs:   make(map[string]*models.Job),
		chunks: make(map[string]*models.Chunk),
	}
}

func (m *memJobs) CreateJob(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	m.jobs[job.ID] = &copied
	return nil
}

func (m *memJobs) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (m *memJobs) ListJobs(ctx context.Context, limit int, status models.JobStatus) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []*models.Job
	for _, job := range m.jobs {
		if status != "" && job.Status != status {
			continue
		}
		copied := *job
		jobs = append(jobs, &copied)
	}
	return jobs, nil
}

func (m *memJobs) CountJobs(ctx context.Context, status models.JobStatus) (int, error) {
	jobs, _ := m.ListJobs(ctx, 0, status)
	return len(jobs), nil
}

func (m *memJobs) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return interfaces.ErrNotFound
	}
	if !job.Status.CanTransitionTo(status) {
		return fmt.Errorf("invalid transition %s -> %s", job.Status, status)
	}
	job.Status = status
	if progress > job.Progress {
		job.Progress = progress
	}
	return nil
}

func (m *memJobs) UpdateJobProgress(ctx context.Context, jobID string, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return interfaces.ErrNotFound
	}
	if !job.Status.IsTerminal() && progress > job.Progress {
		job.Progress = progress
	}
	return nil
}

func (m *memJobs) SetTotalChunks(ctx context.Context, jobID string, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return interfaces.ErrNotFound
	}
	job.TotalChunks = &total
	return nil
}

func (m *memJobs) FailJob(ctx context.Context, jobID string, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return interfaces.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return nil
	}
	job.Status = models.JobStatusFailed
	job.ErrorMessage = errorMessage
	return nil
}

func (m *memJobs) IncrementProcessedChunks(ctx context.Context, jobID string) (int, int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return 0, 0, false, interfaces.ErrNotFound
	}
	total := 0
	if job.TotalChunks != nil {
		total = *job.TotalChunks
	}
	if job.Status.IsTerminal() || (job.TotalChunks != nil && job.ProcessedChunks >= total) {
		return job.ProcessedChunks, total, job.Status == models.JobStatusCompleted, nil
	}
	job.ProcessedChunks++
	if job.TotalChunks != nil && job.ProcessedChunks >= total {
		if job.Status != models.JobStatusEmbedding {
			return job.ProcessedChunks, total, false, nil
		}
		job.Status = models.JobStatusCompleted
		job.Progress = models.ProgressCompleted
		now := time.Now().UTC()
		job.CompletedAt = &now
		return job.ProcessedChunks, total, true, nil
	}
	if p := models.EmbeddingProgress(job.ProcessedChunks, total); p > job.Progress {
		job.Progress = p
	}
	return job.ProcessedChunks, total, false, nil
}

func (m *memJobs) CompleteIfFullyProcessed(ctx context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return false, interfaces.ErrNotFound
	}
	if job.Status != models.JobStatusEmbedding || job.TotalChunks == nil || job.ProcessedChunks < *job.TotalChunks {
		return false, nil
	}
	job.Status = models.JobStatusCompleted
	job.Progress = models.ProgressCompleted
	now := time.Now().UTC()
	job.CompletedAt = &now
	return true, nil
}

func (m *memJobs) FailStaleJobs(ctx context.Context, maxAgeSeconds int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-time.Duration(maxAgeSeconds) * time.Second)
	swept := 0
	for _, job := range m.jobs {
		if !job.Status.IsTerminal() && job.UpdatedAt.Before(cutoff) {
			job.Status = models.JobStatusFailed
			job.ErrorMessage = "job exceeded maximum processing time"
			swept++
		}
	}
	return swept, nil
}

func (m *memJobs) CreateChunk(ctx context.Context, chunk *models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chunks {
		if c.JobID == chunk.JobID && c.ChunkIndex == chunk.ChunkIndex {
			return nil
		}
	}
	copied := *chunk
	m.chunks[chunk.ID] = &copied
	return nil
}

func (m *memJobs) GetChunk(ctx context.Context, chunkID string) (*models.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunk, ok := m.chunks[chunkID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	copied := *chunk
	return &copied, nil
}

func (m *memJobs) GetChunksByJob(ctx context.Context, jobID string) ([]*models.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var chunks []*models.Chunk
	for _, c := range m.chunks {
		if c.JobID == jobID {
			copied := *c
			chunks = append(chunks, &copied)
		}
	}
	return chunks, nil
}

func (m *memJobs) UpdateChunkStatus(ctx context.Context, chunkID string, status models.ChunkStatus, vectorID *int64, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunk, ok := m.chunks[chunkID]
	if !ok {
		return nil
	}
	chunk.Status = status
	if vectorID != nil {
		chunk.VectorID = vectorID
	}
	chunk.ErrorMessage = errorMessage
	return nil
}

func (m *memJobs) IsContentIndexed(ctx context.Context, contentHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chunks {
		if c.ContentHash == contentHash && c.Status == models.ChunkStatusIndexed {
			return true, nil
		}
	}
	return false, nil
}

func (m *memJobs) CountChunks(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks), nil
}

func (m *memJobs) Stats(ctx context.Context) (*models.JobStats, error) {
	return &models.JobStats{}, nil
}

// memBlobs is an in-memory BlobStorage
type memBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
	next  int
}

func newMemBlobs() *memBlobs {
	return &memBlobs{blobs: make(map[string][]byte)}
}

func (m *memBlobs) Put(ctx context.Context, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	key := fmt.Sprintf("blob-%d", m.next)
	m.blobs[key] = data
	return key, nil
}

func (m *memBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return data, nil
}

func (m *memBlobs) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[key]
	return ok, nil
}

// memDocs is an in-memory DocumentStorage
type memDocs struct {
	mu     sync.Mutex
	docs   []*models.IndexedDocument
	nextID int64
}

func (m *memDocs) NextID() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return m.nextID, nil
}

func (m *memDocs) SaveDocument(doc *models.IndexedDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = append(m.docs, doc)
	return nil
}

func (m *memDocs) GetDocument(id int64) (*models.IndexedDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (m *memDocs) AllDocuments() ([]*models.IndexedDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.IndexedDocument(nil), m.docs...), nil
}

func (m *memDocs) CountDocuments() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs), nil
}

func (m *memDocs) Close() error { return nil }

// countingEmbedder counts embedding calls and returns fixed vectors
type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (e *countingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	fail := e.fail
	e.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("embedding endpoint unavailable")
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0, 0}
	}
	return vectors, nil
}

func (e *countingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (e *countingEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
