// Package checkpoint implements C5: durable progress markers that let a
// killed or paused job resume from where it left off instead of
// restarting a stage from page 1, and a periodic sweep that demotes jobs
// whose worker process died mid-stage.
package checkpoint

import (
	"context"
	"encoding/json"
	"time"

	"github.com/allabolag/scraper/internal/interfaces"
	"github.com/allabolag/scraper/internal/models"
	"github.com/ternarybob/arbor"
)

// Manager wraps a job's CheckpointStorage with the save-every-N-companies
// cadence and the resume-info lookup the Job Controller needs to decide
// where a job re-enters its pipeline.
type Manager struct {
	store          interfaces.CheckpointStorage
	logger         arbor.ILogger
	everyN         int
	lastSavedCount map[string]int
}

// NewManager builds a checkpoint manager for one job's staging store.
func NewManager(logger arbor.ILogger, store interfaces.CheckpointStorage, everyNCompanies int) *Manager {
	return &Manager{
		store:          store,
		logger:         logger,
		everyN:         everyNCompanies,
		lastSavedCount: make(map[string]int),
	}
}

// MaybeSave saves a checkpoint if cp.ProcessedCount has advanced by at
// least everyN companies since the last save for (jobId, stage), or
// unconditionally if force is set (stage boundaries always force a save).
// The cadence is gated on the company count itself, not on how many times
// MaybeSave has been called: a caller that checkpoints once per batch of
// many companies (rather than once per company) must not silently widen
// the save interval.
func (m *Manager) MaybeSave(ctx context.Context, cp *models.Checkpoint, force bool) error {
	key := models.CheckpointKey(cp.JobID, cp.Stage)

	if !force && cp.ProcessedCount-m.lastSavedCount[key] < m.everyN {
		return nil
	}

	m.lastSavedCount[key] = cp.ProcessedCount
	cp.UpdatedAt = time.Now()
	if cp.ID == "" {
		cp.ID = key
	}
	if err := m.store.SaveCheckpoint(ctx, cp); err != nil {
		return err
	}
	m.logger.Debug().Str("job_id", cp.JobID).Str("stage", string(cp.Stage)).Int("processed", cp.ProcessedCount).Msg("checkpoint saved")
	return nil
}

// Load returns the saved checkpoint for (jobId, stage), or nil if the
// stage has never checkpointed (a normal state for a job that has not
// reached that stage yet).
func (m *Manager) Load(ctx context.Context, jobID string, stage models.Stage) (*models.Checkpoint, error) {
	return m.store.LoadCheckpoint(ctx, jobID, stage)
}

// ResumeInfo derives where a job should re-enter its pipeline from its
// current stage's checkpoint. A job with no checkpoint for its stage
// resumes from page 1.
func (m *Manager) ResumeInfo(ctx context.Context, job *models.Job) (*models.ResumeInfo, error) {
	cp, err := m.Load(ctx, job.ID, job.Stage)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return &models.ResumeInfo{
			CanResume:      true,
			LastStage:      job.Stage,
			LastPage:       0,
			ProcessedCount: job.ProcessedCount,
			TotalCompanies: job.TotalCompanies,
		}, nil
	}
	return &models.ResumeInfo{
		CanResume:      true,
		LastStage:      cp.Stage,
		LastPage:       cp.LastProcessedPage,
		ProcessedCount: cp.ProcessedCount,
		TotalCompanies: job.TotalCompanies,
	}, nil
}

// EncodeData marshals stage-specific resume data (e.g. a batch cursor)
// into the checkpoint's opaque Data field.
func EncodeData(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
