package models

import (
	"encoding/json"
	"time"
)

// JobType is the kind of work a Job drives through the pipeline.
type JobType string

const (
	JobTypeSegmentation JobType = "segmentation"
	JobTypeIDResolution JobType = "id_resolution"
	JobTypeFinancials   JobType = "financials"
	JobTypeFullPipeline JobType = "full_pipeline"
)

// JobStatus is the Job's lifecycle state. The Job Controller is the only
// component that mutates it; see internal/jobcontroller for the transition
// table this type's name-space encodes.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusPaused  JobStatus = "paused"
	JobStatusStopped JobStatus = "stopped"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

// Stage identifies which pipeline stage a Job is currently on.
type Stage string

const (
	StageSegmentation Stage = "stage1"
	StageIDResolution Stage = "stage2"
	StageFinancials   Stage = "stage3"
	StageValidate     Stage = "validate"
	StageMigrate      Stage = "migrate"
)

// Job is the engine's unit of work: one filter-bounded scrape run, staged
// and resumable. ID is a 128-bit UUID (google/uuid). FilterHash is a
// deterministic 256-bit hash of the normalized filter JSON (see
// models.Filters.Hash), used to detect two jobs targeting the same
// criteria.
type Job struct {
	ID              string          `json:"id"`
	JobType         JobType         `json:"job_type"`
	FilterHash      string          `json:"filter_hash"`
	Params          Filters         `json:"params"`
	Status          JobStatus       `json:"status"`
	Stage           Stage           `json:"stage"`
	LastPage        int             `json:"last_page"`
	ProcessedCount  int             `json:"processed_count"`
	TotalCompanies  int             `json:"total_companies"`
	ErrorCount      int             `json:"error_count"`
	LastError       string          `json:"last_error,omitempty"`
	RateLimitStats  json.RawMessage `json:"rate_limit_stats,omitempty"`
	LastHeartbeat   *time.Time      `json:"last_heartbeat,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Touch bumps UpdatedAt and LastHeartbeat to now. Called by stage workers
// between requests so a stale-job sweep (internal/checkpoint) can tell a
// live job from one whose process died mid-stage.
func (j *Job) Touch() {
	now := time.Now()
	j.UpdatedAt = now
	j.LastHeartbeat = &now
}

// JobListOptions filters/paginates ListJobs queries.
type JobListOptions struct {
	Status   JobStatus
	JobType  JobType
	Limit    int
	Offset   int
	OrderBy  string
	OrderDir string
}
