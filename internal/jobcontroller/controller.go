// Package jobcontroller implements C9: the only component that creates
// jobs and mutates their status/stage. It owns the stage runners (C6-C8)
// and the process-wide session/gateway/rate-limiter singletons they share,
// and drives each job through its pipeline on a detached goroutine so
// startSegmentation/startFullPipeline can return the job id immediately.
package jobcontroller

import (
	"context"
	"fmt"
	"sync"

	"github.com/allabolag/scraper/internal/checkpoint"
	"github.com/allabolag/scraper/internal/common"
	"github.com/allabolag/scraper/internal/engineerrors"
	"github.com/allabolag/scraper/internal/interfaces"
	"github.com/allabolag/scraper/internal/models"
	"github.com/allabolag/scraper/internal/scraper"
	"github.com/ternarybob/arbor"
)

// upstreamSession is the same collaborator shape internal/scraper's stage
// runners depend on, restated here because that package's interface type
// is unexported. A *session.Session (this module's only implementation)
// satisfies it structurally.
type upstreamSession interface {
	Acquire(ctx context.Context) (*models.Session, error)
	BuildID(ctx context.Context, sess *models.Session) (string, error)
	WithSession(ctx context.Context, op func(ctx context.Context, sess *models.Session) error) error
	Headers(sess *models.Session) map[string]string
}

// Controller wires the Job Controller's collaborators: the storage
// manager (job registry plus per-job staging stores), the process-wide
// session/gateway, one Adaptive Rate Limiter per stage, and the
// segmentation config Stage 1 needs. All fields are process-wide
// singletons shared across every job the controller drives, per spec.md
// §5's shared-resource policy.
type Controller struct {
	storage interfaces.StorageManager
	gateway interfaces.ProxyGateway
	sess    upstreamSession

	stage1Limiter interfaces.StageRateLimiter
	stage2Limiter interfaces.StageRateLimiter
	stage3Limiter interfaces.StageRateLimiter

	segCfg           common.SegmentationConfig
	checkpointEveryN int
	baseURL          string
	logger           arbor.ILogger

	mu       sync.Mutex
	controls map[string]*jobControl
}

// New wires a Controller from its collaborators.
func New(
	logger arbor.ILogger,
	storage interfaces.StorageManager,
	gateway interfaces.ProxyGateway,
	sess upstreamSession,
	stage1Limiter, stage2Limiter, stage3Limiter interfaces.StageRateLimiter,
	segCfg common.SegmentationConfig,
	checkpointEveryN int,
	baseURL string,
) *Controller {
	return &Controller{
		storage:          storage,
		gateway:          gateway,
		sess:             sess,
		stage1Limiter:    stage1Limiter,
		stage2Limiter:    stage2Limiter,
		stage3Limiter:    stage3Limiter,
		segCfg:           segCfg,
		checkpointEveryN: checkpointEveryN,
		baseURL:          baseURL,
		logger:           logger,
		controls:         make(map[string]*jobControl),
	}
}

// jobControl is the cooperative pause/stop flag a running job's stage
// workers poll between requests. One lives per in-flight job; it is
// discarded once the job reaches a terminal or paused state.
type jobControl struct {
	mu      sync.Mutex
	paused  bool
	stopped bool
}

func (c *jobControl) cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused || c.stopped
}

func (c *jobControl) setPaused(v bool) {
	c.mu.Lock()
	c.paused = v
	c.mu.Unlock()
}

func (c *jobControl) setStopped(v bool) {
	c.mu.Lock()
	c.stopped = v
	c.mu.Unlock()
}

func (c *Controller) jobs() interfaces.JobStorage {
	return c.storage.Jobs()
}

// StartSegmentation computes filterHash, creates a stage1-only Job
// (status=running), and spawns Stage 1 asynchronously. Returns the job id
// immediately; the pipeline stops at status=done once Stage 1 finishes.
func (c *Controller) StartSegmentation(ctx context.Context, filters models.Filters) (string, error) {
	return c.startJob(ctx, filters, models.JobTypeSegmentation)
}

// StartFullPipeline is StartSegmentation's full_pipeline sibling: Stage 1
// completion progresses into Stage 2 then Stage 3 rather than stopping.
func (c *Controller) StartFullPipeline(ctx context.Context, filters models.Filters) (string, error) {
	return c.startJob(ctx, filters, models.JobTypeFullPipeline)
}

func (c *Controller) startJob(ctx context.Context, filters models.Filters, jobType models.JobType) (string, error) {
	hash, err := filters.Hash()
	if err != nil {
		return "", &engineerrors.ConfigurationError{Reason: fmt.Sprintf("invalid filters: %v", err)}
	}

	job := &models.Job{
		ID:         common.NewJobID(),
		JobType:    jobType,
		FilterHash: hash,
		Params:     filters,
		Status:     models.JobStatusRunning,
		Stage:      models.StageSegmentation,
	}
	job.Touch()

	if err := c.jobs().SaveJob(ctx, job); err != nil {
		return "", &engineerrors.StorageError{Op: "create job", Err: err}
	}

	if _, err := c.storage.Staging().Open(job.ID); err != nil {
		return "", &engineerrors.StorageError{Op: "open staging store", Err: err}
	}

	control := c.register(job.ID)
	go c.runPipeline(context.Background(), job, control)

	return job.ID, nil
}

// GetJob returns the job's current state, as getJob(jobId) in spec.md §6.
func (c *Controller) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := c.jobs().GetJob(ctx, jobID)
	if err != nil {
		return nil, &engineerrors.StorageError{Op: "load job", Err: err}
	}
	return job, nil
}

// Pause sets the job's cooperative cancellation flag and marks status
// paused. Stage workers observe the flag between requests and stop
// issuing new ones, leaving the last checkpoint resumable.
func (c *Controller) Pause(ctx context.Context, jobID string) error {
	c.mu.Lock()
	ctrl := c.controls[jobID]
	c.mu.Unlock()
	if ctrl != nil {
		ctrl.setPaused(true)
	}
	if err := c.jobs().UpdateJobStatus(ctx, jobID, models.JobStatusPaused, ""); err != nil {
		return &engineerrors.StorageError{Op: "mark job paused", Err: err}
	}
	return nil
}

// Stop sets the job's cooperative cancellation flag and marks status
// stopped. Unlike pause, stop is permanent: Resume refuses a stopped job.
func (c *Controller) Stop(ctx context.Context, jobID string) error {
	c.mu.Lock()
	ctrl := c.controls[jobID]
	c.mu.Unlock()
	if ctrl != nil {
		ctrl.setStopped(true)
	}
	if err := c.jobs().UpdateJobStatus(ctx, jobID, models.JobStatusStopped, ""); err != nil {
		return &engineerrors.StorageError{Op: "mark job stopped", Err: err}
	}
	return nil
}

// Resume re-enters a paused or errored job at its last checkpointed stage
// and page/company, per spec.md §4.9. A stopped or done job is not
// resumable.
func (c *Controller) Resume(ctx context.Context, jobID string) error {
	job, err := c.jobs().GetJob(ctx, jobID)
	if err != nil {
		return &engineerrors.StorageError{Op: "load job for resume", Err: err}
	}
	if job.Status != models.JobStatusPaused && job.Status != models.JobStatusError {
		return &engineerrors.ConfigurationError{Reason: fmt.Sprintf("job %s is %s, not resumable", jobID, job.Status)}
	}

	store, err := c.storage.Staging().Open(jobID)
	if err != nil {
		return &engineerrors.StorageError{Op: "open staging store for resume", Err: err}
	}

	cpMgr := checkpoint.NewManager(c.logger, store.Checkpoints(), c.checkpointEveryN)
	resumeInfo, err := cpMgr.ResumeInfo(ctx, job)
	if err != nil {
		return &engineerrors.StorageError{Op: "load resume checkpoint", Err: err}
	}
	job.Stage = resumeInfo.LastStage
	job.LastPage = resumeInfo.LastPage
	job.ProcessedCount = resumeInfo.ProcessedCount

	if err := c.jobs().UpdateJobStatus(ctx, jobID, models.JobStatusRunning, ""); err != nil {
		return &engineerrors.StorageError{Op: "mark job running", Err: err}
	}

	control := c.register(jobID)
	go c.runPipeline(context.Background(), job, control)
	return nil
}

func (c *Controller) register(jobID string) *jobControl {
	ctrl := &jobControl{}
	c.mu.Lock()
	c.controls[jobID] = ctrl
	c.mu.Unlock()
	return ctrl
}

func (c *Controller) unregister(jobID string) {
	c.mu.Lock()
	delete(c.controls, jobID)
	c.mu.Unlock()
}

// stagesFor returns the ordered stage sequence a job type drives through.
func stagesFor(jobType models.JobType) []models.Stage {
	switch jobType {
	case models.JobTypeSegmentation:
		return []models.Stage{models.StageSegmentation}
	case models.JobTypeIDResolution:
		return []models.Stage{models.StageIDResolution}
	case models.JobTypeFinancials:
		return []models.Stage{models.StageFinancials}
	case models.JobTypeFullPipeline:
		return []models.Stage{models.StageSegmentation, models.StageIDResolution, models.StageFinancials}
	default:
		return nil
	}
}

// runPipeline drives job through its stage sequence starting at job.Stage,
// advancing stage only between stages (never mid-stage, per spec.md §5).
// It is run detached from the request that spawned it: startJob/Resume
// already returned to their caller by the time this runs.
func (c *Controller) runPipeline(ctx context.Context, job *models.Job, control *jobControl) {
	defer c.unregister(job.ID)

	store, err := c.storage.Staging().Open(job.ID)
	if err != nil {
		c.failJob(ctx, job, &engineerrors.StorageError{Op: "open staging store", Err: err})
		return
	}

	stages := stagesFor(job.JobType)
	startIdx := 0
	for i, st := range stages {
		if st == job.Stage {
			startIdx = i
			break
		}
	}

	for i := startIdx; i < len(stages); i++ {
		stage := stages[i]
		if job.Stage != stage {
			if err := c.jobs().UpdateJobStage(ctx, job.ID, stage); err != nil {
				c.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to persist stage advance")
			}
			job.Stage = stage
		}

		done, err := c.runStage(ctx, job, store, stage, control.cancelled)
		if err != nil {
			c.failJob(ctx, job, err)
			return
		}
		if !done {
			// cancelled mid-stage: Pause/Stop already set the job's
			// terminal status, nothing left to do here.
			return
		}
	}

	if err := c.jobs().UpdateJobStatus(ctx, job.ID, models.JobStatusDone, ""); err != nil {
		c.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to mark job done")
	}
}

// runStage builds the stage runner for stage against job's staging store
// and executes it. Each call gets its own checkpoint.Manager since
// MaybeSave's every-N cadence is scoped per (jobId, stage) and a fresh
// Manager's counters are appropriate both for a fresh job and a resume.
func (c *Controller) runStage(ctx context.Context, job *models.Job, store interfaces.StagingStore, stage models.Stage, cancelled func() bool) (bool, error) {
	cpMgr := checkpoint.NewManager(c.logger, store.Checkpoints(), c.checkpointEveryN)

	switch stage {
	case models.StageSegmentation:
		seg := scraper.NewSegmenter(c.logger, c.gateway, c.sess, c.stage1Limiter, store.Companies(), c.jobs(), cpMgr, c.segCfg, c.baseURL)
		return seg.Run(ctx, job, cancelled)
	case models.StageIDResolution:
		res := scraper.NewResolver(c.logger, c.gateway, c.sess, c.stage2Limiter, store.Companies(), store.Mappings(), c.jobs(), cpMgr, c.baseURL)
		return res.Run(ctx, job, cancelled)
	case models.StageFinancials:
		fet := scraper.NewFetcher(c.logger, c.gateway, c.sess, c.stage3Limiter, store.Companies(), store.Financials(), c.jobs(), cpMgr, c.baseURL)
		return fet.Run(ctx, job, cancelled)
	default:
		return false, &engineerrors.ConfigurationError{Reason: fmt.Sprintf("job controller cannot run stage %q", stage)}
	}
}

// failJob marks job status=error with err's message. The stage's own
// checkpoint save (forced at its last processed unit) already preserved
// resumable state; failJob only records the terminal status.
func (c *Controller) failJob(ctx context.Context, job *models.Job, err error) {
	c.logger.Error().Err(err).Str("job_id", job.ID).Str("stage", string(job.Stage)).Msg("stage failed, job marked error")
	if updErr := c.jobs().UpdateJobStatus(ctx, job.ID, models.JobStatusError, err.Error()); updErr != nil {
		c.logger.Warn().Err(updErr).Str("job_id", job.ID).Msg("failed to persist job error status")
	}
}
