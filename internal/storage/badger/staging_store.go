package badger

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/allabolag/scraper/internal/common"
	"github.com/allabolag/scraper/internal/interfaces"
	"github.com/ternarybob/arbor"
)

// stagingStore is the per-job embedded store (spec.md §6: "one staging file
// per job"), backed by its own BadgerDB rooted at
// <stagingDir>/staging_<jobId>/.
type stagingStore struct {
	db          *BadgerDB
	companies   interfaces.CompanyStorage
	mappings    interfaces.MappingStorage
	financials  interfaces.FinancialStorage
	checkpoints interfaces.CheckpointStorage
}

func (s *stagingStore) Companies() interfaces.CompanyStorage     { return s.companies }
func (s *stagingStore) Mappings() interfaces.MappingStorage      { return s.mappings }
func (s *stagingStore) Financials() interfaces.FinancialStorage  { return s.financials }
func (s *stagingStore) Checkpoints() interfaces.CheckpointStorage { return s.checkpoints }
func (s *stagingStore) Close() error                             { return s.db.Close() }

// stagingFactory opens (or reuses) one stagingStore per job, caching open
// handles so the same job's store isn't opened twice concurrently — Badger
// holds an exclusive directory lock, so a second open would fail outright.
type stagingFactory struct {
	baseDir string
	logger  arbor.ILogger

	mu    sync.Mutex
	open  map[string]*stagingStore
}

// NewStagingStoreFactory creates a factory rooted at config.StagingDir.
func NewStagingStoreFactory(logger arbor.ILogger, config *common.StorageConfig) interfaces.StagingStoreFactory {
	return &stagingFactory{
		baseDir: config.StagingDir,
		logger:  logger,
		open:    make(map[string]*stagingStore),
	}
}

func (f *stagingFactory) Open(jobID string) (interfaces.StagingStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.open[jobID]; ok {
		return existing, nil
	}

	path := filepath.Join(f.baseDir, "staging_"+jobID)
	db, err := NewBadgerDB(f.logger, &common.BadgerConfig{Path: path})
	if err != nil {
		return nil, fmt.Errorf("failed to open staging store for job %s: %w", jobID, err)
	}

	store := &stagingStore{
		db:          db,
		companies:   NewCompanyStorage(db, f.logger),
		mappings:    NewMappingStorage(db, f.logger),
		financials:  NewFinancialStorage(db, f.logger),
		checkpoints: NewCheckpointStorage(db, f.logger),
	}
	f.open[jobID] = store

	f.logger.Debug().Str("job_id", jobID).Str("path", path).Msg("Opened staging store")
	return store, nil
}
