package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from    JobStatus
		to      JobStatus
		allowed bool
	}{
		{JobStatusPending, JobStatusProcessing, true},
		{JobStatusProcessing, JobStatusChunking, true},
		{JobStatusChunking, JobStatusEmbedding, true},
		{JobStatusEmbedding, JobStatusCompleted, true},
		{JobStatusPending, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusChunking, JobStatusFailed, true},
		{JobStatusEmbedding, JobStatusFailed, true},
		{JobStatusPending, JobStatusChunking, false},
		{JobStatusPending, JobStatusCompleted, false},
		{JobStatusChunking, JobStatusCompleted, false},
		{JobStatusChunking, JobStatusProcessing, false},
		{JobStatusEmbedding, JobStatusChunking, false},
		{JobStatusCompleted, JobStatusFailed, false},
		{JobStatusCompleted, JobStatusPending, false},
		{JobStatusFailed, JobStatusProcessing, false},
		{JobStatusFailed, JobStatusFailed, false},
	}

	for _, tt := range tests {
		got := tt.from.CanTransitionTo(tt.to)
		assert.Equal(t, tt.allowed, got, "%s -> %s", tt.from, tt.to)
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusEmbedding.IsTerminal())
}

func TestJobStatus_IsValid(t *testing.T) {
	assert.True(t, JobStatusChunking.IsValid())
	assert.False(t, JobStatus("archived").IsValid())
	assert.False(t, JobStatus("").IsValid())
}

func TestChunkingProgress(t *testing.T) {
	assert.Equal(t, 30, ChunkingProgress(0, 10))
	assert.Equal(t, 50, ChunkingProgress(5, 10))
	assert.Equal(t, 70, ChunkingProgress(10, 10))
	assert.Equal(t, 43, ChunkingProgress(1, 3))

	// Jobs with no chunks jump straight to the embedding band
	assert.Equal(t, 70, ChunkingProgress(0, 0))
}

func TestEmbeddingProgress(t *testing.T) {
	assert.Equal(t, 70, EmbeddingProgress(0, 10))
	assert.Equal(t, 85, EmbeddingProgress(5, 10))
	assert.Equal(t, 100, EmbeddingProgress(10, 10))
	assert.Equal(t, 100, EmbeddingProgress(0, 0))
}

func TestJob_Validate(t *testing.T) {
	total := 4
	job := &Job{
		ID:              "job-1",
		Filename:        "report.pdf",
		Status:          JobStatusEmbedding,
		Progress:        85,
		TotalChunks:     &total,
		ProcessedChunks: 2,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	require.NoError(t, job.Validate())

	missing := *job
	missing.ID = ""
	assert.Error(t, missing.Validate())

	badStatus := *job
	badStatus.Status = "archived"
	assert.Error(t, badStatus.Validate())

	badProgress := *job
	badProgress.Progress = 110
	assert.Error(t, badProgress.Validate())

	overCounted := *job
	overCounted.ProcessedChunks = 5
	assert.Error(t, overCounted.Validate())
}
