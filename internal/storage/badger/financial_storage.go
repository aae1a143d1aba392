package badger

import (
	"context"
	"fmt"

	"github.com/allabolag/scraper/internal/interfaces"
	"github.com/allabolag/scraper/internal/models"
	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	bh "github.com/timshannon/badgerhold/v4"
)

// FinancialStorage implements interfaces.FinancialStorage over one job's
// staging BadgerDB, keyed on the composite ID "<companyId>|<year>|<period>".
type FinancialStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

func NewFinancialStorage(db *BadgerDB, logger arbor.ILogger) interfaces.FinancialStorage {
	return &FinancialStorage{db: db, logger: logger}
}

// UpsertFinancials writes the whole batch inside a single Badger
// transaction, so a crash mid-batch leaves either all of it or none of it
// committed rather than a partially-written page of financial records.
func (s *FinancialStorage) UpsertFinancials(ctx context.Context, records []*models.FinancialRecord) error {
	return s.db.Badger().Update(func(txn *badger.Txn) error {
		for _, r := range records {
			if r.ID == "" {
				r.ID = models.FinancialKey(r.CompanyID, r.Year, r.Period)
			}
			r.ApplyMirrors()
			if err := s.db.Store().TxUpsert(txn, r.ID, r); err != nil {
				return fmt.Errorf("failed to upsert financial record %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

func (s *FinancialStorage) ListFinancialsByCompany(ctx context.Context, companyID string) ([]*models.FinancialRecord, error) {
	var records []models.FinancialRecord
	err := s.db.Store().Find(&records, bh.Where("CompanyID").Eq(companyID).SortBy("Year").Reverse())
	if err != nil {
		return nil, fmt.Errorf("failed to list financials for company %s: %w", companyID, err)
	}
	result := make([]*models.FinancialRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

func (s *FinancialStorage) ListFinancialsByJob(ctx context.Context, jobID string, status models.ValidationStatus) ([]*models.FinancialRecord, error) {
	query := bh.Where("JobID").Eq(jobID)
	if status != "" {
		query = query.And("ValidationStatus").Eq(status)
	}
	var records []models.FinancialRecord
	if err := s.db.Store().Find(&records, query.SortBy("CompanyID")); err != nil {
		return nil, fmt.Errorf("failed to list financials for job %s: %w", jobID, err)
	}
	result := make([]*models.FinancialRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

func (s *FinancialStorage) UpdateValidation(ctx context.Context, recordID string, status models.ValidationStatus, errs, warns []string) error {
	var record models.FinancialRecord
	if err := s.db.Store().Get(recordID, &record); err != nil {
		return err
	}
	record.ValidationStatus = status
	record.ValidationErrors = errs
	record.ValidationWarnings = warns
	return s.db.Store().Upsert(recordID, &record)
}
