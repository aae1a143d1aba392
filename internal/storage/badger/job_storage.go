package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/allabolag/scraper/internal/interfaces"
	"github.com/allabolag/scraper/internal/models"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage is the process-wide job registry: badgerhold over a single
// Badger database, keyed on Job.ID. It is deliberately separate from the
// per-job StagingStore (see interfaces.StagingStore) so the control
// surface can list/find jobs without opening every job's staging file.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance.
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{db: db, logger: logger}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("job not found: %s", jobID)
		}
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return &job, nil
}

func (s *JobStorage) ListJobs(ctx context.Context, opts *models.JobListOptions) ([]*models.Job, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.Status != "" {
			query = query.And("Status").Eq(opts.Status)
		}
		if opts.JobType != "" {
			query = query.And("JobType").Eq(opts.JobType)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
		if opts.OrderBy != "" {
			if opts.OrderDir == "DESC" {
				query = query.SortBy(opts.OrderBy).Reverse()
			} else {
				query = query.SortBy(opts.OrderBy)
			}
		} else {
			query = query.SortBy("CreatedAt").Reverse()
		}
	} else {
		query = query.SortBy("CreatedAt").Reverse()
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errMsg string) error {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		return err
	}
	job.Status = status
	if errMsg != "" {
		job.LastError = errMsg
	}
	job.Touch()
	return s.SaveJob(ctx, &job)
}

func (s *JobStorage) UpdateJobStage(ctx context.Context, jobID string, stage models.Stage) error {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		return err
	}
	job.Stage = stage
	job.Touch()
	return s.SaveJob(ctx, &job)
}

func (s *JobStorage) UpdateJobProgress(ctx context.Context, jobID string, processedDelta, totalDelta, errorDelta int, lastPage int) error {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		return err
	}
	job.ProcessedCount += processedDelta
	job.TotalCompanies += totalDelta
	job.ErrorCount += errorDelta
	job.LastPage = lastPage
	job.Touch()
	return s.SaveJob(ctx, &job)
}

func (s *JobStorage) UpdateJobHeartbeat(ctx context.Context, jobID string) error {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		return err
	}
	now := time.Now()
	job.LastHeartbeat = &now
	job.UpdatedAt = now
	return s.SaveJob(ctx, &job)
}

func (s *JobStorage) GetStaleJobs(ctx context.Context, staleThresholdMinutes int) ([]*models.Job, error) {
	threshold := time.Now().Add(-time.Duration(staleThresholdMinutes) * time.Minute)
	var jobs []models.Job
	err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(models.JobStatusRunning).And("LastHeartbeat").Lt(threshold))
	if err != nil {
		return nil, fmt.Errorf("failed to find stale jobs: %w", err)
	}
	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// MarkRunningJobsAsPaused demotes every running job to paused. Used both on
// graceful shutdown (SIGINT/SIGTERM) and, defensively, on process startup
// to sweep up jobs left running by an unclean exit.
func (s *JobStorage) MarkRunningJobsAsPaused(ctx context.Context, reason string) (int, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(models.JobStatusRunning)); err != nil {
		return 0, err
	}
	count := 0
	for _, job := range jobs {
		job.Status = models.JobStatusPaused
		if reason != "" {
			job.LastError = reason
		}
		job.Touch()
		if err := s.SaveJob(ctx, &job); err == nil {
			count++
		}
	}
	return count, nil
}
