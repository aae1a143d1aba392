package checkpoint

import (
	"context"
	"fmt"

	"github.com/allabolag/scraper/internal/interfaces"
	"github.com/allabolag/scraper/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// Sweeper periodically demotes jobs whose worker process stopped sending
// heartbeats, so a crashed job shows up as resumable (paused) rather than
// stuck forever in "running".
type Sweeper struct {
	jobs                 interfaces.JobStorage
	logger                arbor.ILogger
	cron                  *cron.Cron
	staleThresholdMinutes int
}

// NewSweeper builds a sweeper around the job registry. Call Start to begin
// the schedule and Stop to halt it on shutdown.
func NewSweeper(logger arbor.ILogger, jobs interfaces.JobStorage, staleThresholdMinutes int) *Sweeper {
	return &Sweeper{
		jobs:                  jobs,
		logger:                logger,
		cron:                  cron.New(),
		staleThresholdMinutes: staleThresholdMinutes,
	}
}

// Start registers the sweep on the given cron schedule (e.g. "@every 5m")
// and starts the scheduler.
func (s *Sweeper) Start(schedule string) error {
	_, err := s.cron.AddFunc(schedule, s.sweep)
	if err != nil {
		return fmt.Errorf("failed to register stale job sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweep() {
	ctx := context.Background()

	staleJobs, err := s.jobs.GetStaleJobs(ctx, s.staleThresholdMinutes)
	if err != nil {
		s.logger.Error().Err(err).Msg("stale job sweep: failed to query stale jobs")
		return
	}
	if len(staleJobs) == 0 {
		return
	}

	s.logger.Warn().Int("count", len(staleJobs)).Int("threshold_minutes", s.staleThresholdMinutes).Msg("stale jobs detected, pausing for resume")

	reason := fmt.Sprintf("no heartbeat for %d+ minutes", s.staleThresholdMinutes)
	paused := 0
	for _, job := range staleJobs {
		if err := s.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusPaused, reason); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("stale job sweep: failed to pause job")
			continue
		}
		paused++
	}
	s.logger.Debug().Int("paused", paused).Msg("stale job sweep complete")
}
