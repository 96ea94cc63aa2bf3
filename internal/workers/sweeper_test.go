package workers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/distill/internal/common"
	"github.com/ternarybob/distill/internal/models"
)

func TestSweeper_FailsStaleJobs(t *testing.T) {
	jobs := newMemJobs()
	ctx := context.Background()

	stale := &models.Job{
		ID:        common.NewJobID(),
		Filename:  "stuck.txt",
		Status:    models.JobStatusEmbedding,
		UpdatedAt: time.Now().UTC().Add(-2 * time.Hour),
	}
	require.NoError(t, jobs.CreateJob(ctx, stale))

	fresh := &models.Job{
		ID:        common.NewJobID(),
		Filename:  "active.txt",
		Status:    models.JobStatusProcessing,
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, jobs.CreateJob(ctx, fresh))

	done := &models.Job{
		ID:        common.NewJobID(),
		Filename:  "done.txt",
		Status:    models.JobStatusCompleted,
		UpdatedAt: time.Now().UTC().Add(-2 * time.Hour),
	}
	require.NoError(t, jobs.CreateJob(ctx, done))

	sweeper, err := NewSweeper(&common.SweeperConfig{
		Enabled:  true,
		Schedule: "*/5 * * * *",
		MaxAge:   "30m",
	}, jobs, common.GetLogger())
	require.NoError(t, err)

	swept, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	updated, err := jobs.GetJob(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, updated.Status)
	assert.NotEmpty(t, updated.ErrorMessage)

	updated, err = jobs.GetJob(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, updated.Status)

	updated, err = jobs.GetJob(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, updated.Status)
}

func TestNewSweeper_RejectsBadConfig(t *testing.T) {
	jobs := newMemJobs()

	_, err := NewSweeper(&common.SweeperConfig{Schedule: "not a schedule", MaxAge: "30m"}, jobs, common.GetLogger())
	assert.Error(t, err)

	_, err = NewSweeper(&common.SweeperConfig{Schedule: "*/5 * * * *", MaxAge: "soon"}, jobs, common.GetLogger())
	assert.Error(t, err)
}
