package interfaces

import (
	"context"

	"github.com/allabolag/scraper/internal/models"
)

// JobStorage persists Job rows: created once by the Job Controller,
// mutated only by it, never deleted (retained for audit).
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context, opts *models.JobListOptions) ([]*models.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errMsg string) error
	UpdateJobStage(ctx context.Context, jobID string, stage models.Stage) error
	UpdateJobProgress(ctx context.Context, jobID string, processedDelta, totalDelta, errorDelta int, lastPage int) error
	UpdateJobHeartbeat(ctx context.Context, jobID string) error
	GetStaleJobs(ctx context.Context, olderThanMinutes int) ([]*models.Job, error)
	MarkRunningJobsAsPaused(ctx context.Context, reason string) (int, error)
}

// CompanyStorage persists StagingCompany rows. Upsert keyed by
// (jobId, orgnr).
type CompanyStorage interface {
	UpsertCompanies(ctx context.Context, companies []*models.StagingCompany) error
	GetCompany(ctx context.Context, jobID, orgnr string) (*models.StagingCompany, error)
	ListCompaniesByStatus(ctx context.Context, jobID string, status models.CompanyStatus, page, limit int) ([]*models.StagingCompany, error)
	ListCompanies(ctx context.Context, jobID string, search string, page, limit int) ([]*models.StagingCompany, int, error)
	CountCompanies(ctx context.Context, jobID string) (int, error)
	UpdateCompanyStatus(ctx context.Context, jobID, orgnr string, status models.CompanyStatus, errMsg string) error
	SetCompanyID(ctx context.Context, jobID, orgnr, companyID string) error
	ListFailures(ctx context.Context, jobID string) ([]*models.StagingCompany, error)
}

// MappingStorage persists CompanyIdMapping rows. Upsert keyed by
// (jobId, orgnr).
type MappingStorage interface {
	UpsertMapping(ctx context.Context, mapping *models.CompanyIdMapping) error
	GetMapping(ctx context.Context, jobID, orgnr string) (*models.CompanyIdMapping, error)
	ListPendingMappings(ctx context.Context, jobID string) ([]*models.CompanyIdMapping, error)
}

// FinancialStorage persists FinancialRecord rows. Upsert keyed by
// (companyId, year, period).
type FinancialStorage interface {
	UpsertFinancials(ctx context.Context, records []*models.FinancialRecord) error
	ListFinancialsByCompany(ctx context.Context, companyID string) ([]*models.FinancialRecord, error)
	ListFinancialsByJob(ctx context.Context, jobID string, status models.ValidationStatus) ([]*models.FinancialRecord, error)
	UpdateValidation(ctx context.Context, recordID string, status models.ValidationStatus, errs, warns []string) error
}

// CheckpointStorage persists per-(job, stage) progress snapshots.
type CheckpointStorage interface {
	SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) error
	LoadCheckpoint(ctx context.Context, jobID string, stage models.Stage) (*models.Checkpoint, error)
}

// StagingStore is the per-job embedded transactional store (spec.md §6:
// "one staging file per job", path staging/staging_<jobId>.<ext>) exposing
// the Company/Mapping/Financial/Checkpoint tables for that one job.
//
// Job rows themselves live in a separate, process-wide JobStorage/registry
// rather than inside each per-job file: the control surface's listJobs and
// getJob verbs must enumerate every job without opening every job's staging
// file, and a job must be discoverable before its own file is known to
// exist. This is a deliberate resolution of an ambiguity spec.md leaves
// implicit — see DESIGN.md.
type StagingStore interface {
	Companies() CompanyStorage
	Mappings() MappingStorage
	Financials() FinancialStorage
	Checkpoints() CheckpointStorage
	Close() error
}

// StagingStoreFactory opens (or creates) the per-job staging store.
type StagingStoreFactory interface {
	Open(jobID string) (StagingStore, error)
}

// StorageManager is the composite root: the process-wide job registry plus
// the factory for per-job staging stores.
type StorageManager interface {
	Jobs() JobStorage
	Staging() StagingStoreFactory
	Close() error
}
