package models

import (
	"encoding/json"
	"time"
)

// Checkpoint is the durable progress marker for (jobId, stage). Written at
// most once per N processed companies and at every stage boundary (see
// internal/checkpoint).
type Checkpoint struct {
	ID                   string          `json:"id"`
	JobID                string          `json:"job_id"`
	Stage                Stage           `json:"stage"`
	LastProcessedPage    int             `json:"last_processed_page"`
	LastProcessedCompany string          `json:"last_processed_company,omitempty"`
	ProcessedCount       int             `json:"processed_count"`
	ErrorCount           int             `json:"error_count"`
	LastError            string          `json:"last_error,omitempty"`
	Data                 json.RawMessage `json:"data,omitempty"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// CheckpointKey builds the composite staging-store key for a checkpoint row.
func CheckpointKey(jobID string, stage Stage) string {
	return jobID + "|" + string(stage)
}

// ResumeInfo is what GetJob/resume callers need to decide where a job
// re-enters its pipeline.
type ResumeInfo struct {
	CanResume      bool   `json:"can_resume"`
	LastStage      Stage  `json:"last_stage"`
	LastPage       int    `json:"last_page"`
	ProcessedCount int    `json:"processed_count"`
	TotalCompanies int    `json:"total_companies"`
}
