package badger

import (
	"github.com/allabolag/scraper/internal/common"
	"github.com/allabolag/scraper/internal/interfaces"
	"github.com/ternarybob/arbor"
)

// Manager implements interfaces.StorageManager: the process-wide job
// registry plus the factory that opens per-job staging stores.
type Manager struct {
	jobsDB  *BadgerDB
	jobs    interfaces.JobStorage
	staging interfaces.StagingStoreFactory
	logger  arbor.ILogger
}

// NewManager creates the job registry's BadgerDB and a staging store
// factory rooted at config.StagingDir.
func NewManager(logger arbor.ILogger, config *common.StorageConfig) (interfaces.StorageManager, error) {
	jobsDB, err := NewBadgerDB(logger, &config.Badger)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		jobsDB:  jobsDB,
		jobs:    NewJobStorage(jobsDB, logger),
		staging: NewStagingStoreFactory(logger, config),
		logger:  logger,
	}

	logger.Info().Str("badger_path", config.Badger.Path).Str("staging_dir", config.StagingDir).Msg("Badger storage manager initialized")

	return manager, nil
}

func (m *Manager) Jobs() interfaces.JobStorage             { return m.jobs }
func (m *Manager) Staging() interfaces.StagingStoreFactory { return m.staging }

func (m *Manager) Close() error {
	if m.jobsDB != nil {
		return m.jobsDB.Close()
	}
	return nil
}
