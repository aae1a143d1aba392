// Package migrator implements C10's Migrator half: promoting validated
// staged financials into the external production store, per spec.md
// §4.10's `migrate(jobId, options) → {migrated, skipped, errors, report}`.
package migrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/allabolag/scraper/internal/engineerrors"
	"github.com/allabolag/scraper/internal/interfaces"
	"github.com/allabolag/scraper/internal/models"
	"github.com/ternarybob/arbor"
)

// timeNow is a var so tests can pin it; production code never overrides it.
var timeNow = time.Now

// Migrator promotes validated (and optionally warning-status) financials
// for a job into an interfaces.ProductionStore, appending one
// MigrationSummary per run to a JSON-lines audit log on disk.
type Migrator struct {
	staging    interfaces.StagingStoreFactory
	production interfaces.ProductionStore
	logPath    string
	logger     arbor.ILogger

	mu sync.Mutex
}

// New wires a Migrator from its collaborators. staging opens the per-job
// staging store Migrate reads financials through. logPath is the
// append-only JSON-lines file each run's summary is recorded to
// (common.MigratorConfig.LogPath).
func New(logger arbor.ILogger, staging interfaces.StagingStoreFactory, production interfaces.ProductionStore, logPath string) *Migrator {
	return &Migrator{staging: staging, production: production, logPath: logPath, logger: logger}
}

// Migrate runs one migration pass for jobID, per spec.md §4.10: reads
// financials with validationStatus in {valid} ∪ (includeWarnings?{warning}:∅);
// for each, skips as a duplicate if skipDuplicates and the production store
// already carries a row for (companyId, year); otherwise writes the row.
// The run's summary is appended to the migration log regardless of outcome.
func (m *Migrator) Migrate(ctx context.Context, jobID string, opts interfaces.MigrationOptions) (*interfaces.MigrationSummary, error) {
	summary := &interfaces.MigrationSummary{StartedAt: timeNow().UTC().Format(time.RFC3339)}

	store, err := m.staging.Open(jobID)
	if err != nil {
		return nil, &engineerrors.StorageError{Op: "open staging store for migration", Err: err}
	}
	financials := store.Financials()

	valid, err := financials.ListFinancialsByJob(ctx, jobID, models.ValidationStatusValid)
	if err != nil {
		return nil, &engineerrors.StorageError{Op: "list valid financials for migration", Err: err}
	}
	records := valid

	if opts.IncludeWarnings {
		warning, err := financials.ListFinancialsByJob(ctx, jobID, models.ValidationStatusWarning)
		if err != nil {
			return nil, &engineerrors.StorageError{Op: "list warning financials for migration", Err: err}
		}
		records = append(records, warning...)
	}

	for _, rec := range records {
		outcome := m.migrateOne(ctx, rec, opts)
		summary.Rows = append(summary.Rows, outcome)
		switch outcome.Outcome {
		case "migrated":
			summary.Migrated++
		case "skipped":
			summary.Skipped++
		case "error":
			summary.Errors++
		}
	}

	summary.EndedAt = timeNow().UTC().Format(time.RFC3339)

	if err := m.appendLog(jobID, summary); err != nil {
		m.logger.Warn().Err(err).Str("job_id", jobID).Str("log_path", m.logPath).Msg("failed to append migration log entry")
	}

	m.logger.Info().Str("job_id", jobID).Int("migrated", summary.Migrated).Int("skipped", summary.Skipped).
		Int("errors", summary.Errors).Msg("migration run complete")

	return summary, nil
}

func (m *Migrator) migrateOne(ctx context.Context, rec *models.FinancialRecord, opts interfaces.MigrationOptions) interfaces.MigrationRowOutcome {
	outcome := interfaces.MigrationRowOutcome{RecordID: rec.ID, CompanyID: rec.CompanyID, Year: rec.Year}

	if opts.SkipDuplicates {
		exists, err := m.production.Exists(ctx, rec.CompanyID, rec.Year)
		if err != nil {
			outcome.Outcome = "error"
			outcome.Reason = err.Error()
			return outcome
		}
		if exists {
			outcome.Outcome = "skipped"
			outcome.Reason = "duplicate"
			return outcome
		}
	}

	if err := m.production.Write(ctx, rec); err != nil {
		outcome.Outcome = "error"
		outcome.Reason = err.Error()
		return outcome
	}

	outcome.Outcome = "migrated"
	return outcome
}

// migrationLogEntry is one line of the JSON-lines audit log this migrator
// appends to, naming which job the enclosed summary belongs to.
type migrationLogEntry struct {
	JobID   string                      `json:"job_id"`
	Summary *interfaces.MigrationSummary `json:"summary"`
}

func (m *Migrator) appendLog(jobID string, summary *interfaces.MigrationSummary) error {
	if m.logPath == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if dir := filepath.Dir(m.logPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create migration log dir: %w", err)
		}
	}

	f, err := os.OpenFile(m.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open migration log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(migrationLogEntry{JobID: jobID, Summary: summary})
	if err != nil {
		return fmt.Errorf("encode migration log entry: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write migration log entry: %w", err)
	}
	return nil
}
