package badger

import (
	"context"
	"fmt"

	"github.com/allabolag/scraper/internal/interfaces"
	"github.com/allabolag/scraper/internal/models"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// MappingStorage implements interfaces.MappingStorage over one job's
// staging BadgerDB, keyed on the composite ID "<jobId>|<orgnr>".
type MappingStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

func NewMappingStorage(db *BadgerDB, logger arbor.ILogger) interfaces.MappingStorage {
	return &MappingStorage{db: db, logger: logger}
}

func (s *MappingStorage) UpsertMapping(ctx context.Context, mapping *models.CompanyIdMapping) error {
	if mapping.ID == "" {
		mapping.ID = models.MappingKey(mapping.JobID, mapping.Orgnr)
	}
	if err := s.db.Store().Upsert(mapping.ID, mapping); err != nil {
		return fmt.Errorf("failed to upsert mapping %s: %w", mapping.ID, err)
	}
	return nil
}

func (s *MappingStorage) GetMapping(ctx context.Context, jobID, orgnr string) (*models.CompanyIdMapping, error) {
	var mapping models.CompanyIdMapping
	key := models.MappingKey(jobID, orgnr)
	if err := s.db.Store().Get(key, &mapping); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("mapping not found: %s", key)
		}
		return nil, fmt.Errorf("failed to get mapping %s: %w", key, err)
	}
	return &mapping, nil
}

func (s *MappingStorage) ListPendingMappings(ctx context.Context, jobID string) ([]*models.CompanyIdMapping, error) {
	var mappings []models.CompanyIdMapping
	err := s.db.Store().Find(&mappings, badgerhold.Where("JobID").Eq(jobID).And("Status").Eq(models.MappingStatusPending).SortBy("Orgnr"))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending mappings: %w", err)
	}
	result := make([]*models.CompanyIdMapping, len(mappings))
	for i := range mappings {
		result[i] = &mappings[i]
	}
	return result, nil
}
