package interfaces

import (
	"context"

	"github.com/allabolag/scraper/internal/models"
)

// ProductionStore is the minimal interface the Migrator uses to reach the
// external production warehouse. It is an external collaborator per
// spec.md §1 — only its interface is specified here, not an
// implementation.
type ProductionStore interface {
	// Exists reports whether a row for (companyId, year) already exists,
	// used for skipDuplicates.
	Exists(ctx context.Context, companyID string, year int) (bool, error)

	// Write upserts one financial record's ~50 account codes into the
	// production `company_accounts_by_id` collection.
	Write(ctx context.Context, record *models.FinancialRecord) error
}

// MigrationOptions configures one migrate run.
type MigrationOptions struct {
	IncludeWarnings bool
	SkipDuplicates  bool
}

// MigrationRowOutcome records the disposition of one migrated row.
type MigrationRowOutcome struct {
	RecordID string
	CompanyID string
	Year      int
	Outcome   string // "migrated", "skipped", "error"
	Reason    string
}

// MigrationSummary is the result of one migrate run.
type MigrationSummary struct {
	Migrated int
	Skipped  int
	Errors   int
	Rows     []MigrationRowOutcome
	StartedAt string
	EndedAt   string
}
