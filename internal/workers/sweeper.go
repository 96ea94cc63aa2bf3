package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/distill/internal/common"
	"github.com/ternarybob/distill/internal/interfaces"
)

// Sweeper periodically fails jobs stuck in a non-terminal state, such
// as jobs whose chunk events were dead-lettered and will never
// complete.
type Sweeper struct {
	jobs   interfaces.JobStorage
	cron   *cron.Cron
	maxAge time.Duration
	logger arbor.ILogger
}

// NewSweeper creates a sweeper from configuration
func NewSweeper(config *common.SweeperConfig, jobs interfaces.JobStorage, logger arbor.ILogger) (*Sweeper, error) {
	maxAge, err := time.ParseDuration(config.MaxAge)
	if err != nil {
		return nil, fmt.Errorf("invalid sweeper max_age '%s': %w", config.MaxAge, err)
	}

	s := &Sweeper{
		jobs:   jobs,
		cron:   cron.New(),
		maxAge: maxAge,
		logger: logger,
	}

	if _, err := s.cron.AddFunc(config.Schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweeper schedule '%s': %w", config.Schedule, err)
	}

	return s, nil
}

// Start begins the sweep schedule
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info().
		Str("max_age", s.maxAge.String()).
		Msg("Stale job sweeper started")
}

// Stop halts the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep runs one pass immediately, outside the schedule
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	return s.jobs.FailStaleJobs(ctx, int64(s.maxAge.Seconds()))
}

func (s *Sweeper) sweep() {
	swept, err := s.Sweep(context.Background())
	if err != nil {
		s.logger.Error().Err(err).Msg("Stale job sweep failed")
		return
	}
	if swept > 0 {
		s.logger.Warn().Int("jobs", swept).Msg("Failed stale jobs")
	}
}
