package badger

import (
	"context"
	"fmt"
	"strings"

	"github.com/allabolag/scraper/internal/interfaces"
	"github.com/allabolag/scraper/internal/models"
	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	bh "github.com/timshannon/badgerhold/v4"
)

// CompanyStorage implements interfaces.CompanyStorage over one job's
// staging BadgerDB, keyed on the composite ID "<jobId>|<orgnr>".
type CompanyStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

func NewCompanyStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CompanyStorage {
	return &CompanyStorage{db: db, logger: logger}
}

// UpsertCompanies writes the whole batch inside a single Badger
// transaction, so a crash mid-batch leaves either all of it or none of it
// committed rather than a partially-written page of companies.
func (s *CompanyStorage) UpsertCompanies(ctx context.Context, companies []*models.StagingCompany) error {
	return s.db.Badger().Update(func(txn *badger.Txn) error {
		for _, c := range companies {
			if c.ID == "" {
				c.ID = models.CompanyKey(c.JobID, c.Orgnr)
			}
			if err := s.db.Store().TxUpsert(txn, c.ID, c); err != nil {
				return fmt.Errorf("failed to upsert company %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

func (s *CompanyStorage) GetCompany(ctx context.Context, jobID, orgnr string) (*models.StagingCompany, error) {
	var company models.StagingCompany
	key := models.CompanyKey(jobID, orgnr)
	if err := s.db.Store().Get(key, &company); err != nil {
		if err == bh.ErrNotFound {
			return nil, fmt.Errorf("company not found: %s", key)
		}
		return nil, fmt.Errorf("failed to get company %s: %w", key, err)
	}
	return &company, nil
}

func (s *CompanyStorage) ListCompaniesByStatus(ctx context.Context, jobID string, status models.CompanyStatus, page, limit int) ([]*models.StagingCompany, error) {
	query := bh.Where("JobID").Eq(jobID).And("Status").Eq(status).SortBy("Orgnr")
	if limit > 0 {
		query = query.Limit(limit)
		if page > 0 {
			query = query.Skip(page * limit)
		}
	}
	var companies []models.StagingCompany
	if err := s.db.Store().Find(&companies, query); err != nil {
		return nil, fmt.Errorf("failed to list companies by status: %w", err)
	}
	result := make([]*models.StagingCompany, len(companies))
	for i := range companies {
		result[i] = &companies[i]
	}
	return result, nil
}

func (s *CompanyStorage) ListCompanies(ctx context.Context, jobID string, search string, page, limit int) ([]*models.StagingCompany, int, error) {
	query := bh.Where("JobID").Eq(jobID)

	var all []models.StagingCompany
	if err := s.db.Store().Find(&all, query.SortBy("Orgnr")); err != nil {
		return nil, 0, fmt.Errorf("failed to list companies: %w", err)
	}

	var filtered []models.StagingCompany
	if search == "" {
		filtered = all
	} else {
		needle := strings.ToLower(search)
		for _, c := range all {
			if strings.Contains(strings.ToLower(c.CompanyName), needle) || strings.Contains(c.Orgnr, search) {
				filtered = append(filtered, c)
			}
		}
	}

	total := len(filtered)
	start := 0
	if limit > 0 {
		start = page * limit
	}
	if start > total {
		start = total
	}
	end := total
	if limit > 0 && start+limit < total {
		end = start + limit
	}

	pageSlice := filtered[start:end]
	result := make([]*models.StagingCompany, len(pageSlice))
	for i := range pageSlice {
		result[i] = &pageSlice[i]
	}
	return result, total, nil
}

func (s *CompanyStorage) CountCompanies(ctx context.Context, jobID string) (int, error) {
	count, err := s.db.Store().Count(&models.StagingCompany{}, bh.Where("JobID").Eq(jobID))
	if err != nil {
		return 0, fmt.Errorf("failed to count companies: %w", err)
	}
	return int(count), nil
}

func (s *CompanyStorage) UpdateCompanyStatus(ctx context.Context, jobID, orgnr string, status models.CompanyStatus, errMsg string) error {
	var company models.StagingCompany
	key := models.CompanyKey(jobID, orgnr)
	if err := s.db.Store().Get(key, &company); err != nil {
		return err
	}
	company.Status = status
	if errMsg != "" {
		company.LastError = errMsg
	}
	return s.db.Store().Upsert(key, &company)
}

func (s *CompanyStorage) SetCompanyID(ctx context.Context, jobID, orgnr, companyID string) error {
	var company models.StagingCompany
	key := models.CompanyKey(jobID, orgnr)
	if err := s.db.Store().Get(key, &company); err != nil {
		return err
	}
	company.CompanyID = companyID
	company.Status = models.CompanyStatusIDResolved
	return s.db.Store().Upsert(key, &company)
}

func (s *CompanyStorage) ListFailures(ctx context.Context, jobID string) ([]*models.StagingCompany, error) {
	var companies []models.StagingCompany
	err := s.db.Store().Find(&companies, bh.Where("JobID").Eq(jobID).And("Status").Eq(models.CompanyStatusError).SortBy("Orgnr"))
	if err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}
	result := make([]*models.StagingCompany, len(companies))
	for i := range companies {
		result[i] = &companies[i]
	}
	return result, nil
}
