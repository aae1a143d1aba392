package badger

import (
	"context"
	"fmt"

	"github.com/allabolag/scraper/internal/interfaces"
	"github.com/allabolag/scraper/internal/models"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// CheckpointStorage implements interfaces.CheckpointStorage over one job's
// staging BadgerDB, keyed on "<jobId>|<stage>".
type CheckpointStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

func NewCheckpointStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CheckpointStorage {
	return &CheckpointStorage{db: db, logger: logger}
}

func (s *CheckpointStorage) SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	if cp.ID == "" {
		cp.ID = models.CheckpointKey(cp.JobID, cp.Stage)
	}
	if err := s.db.Store().Upsert(cp.ID, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", cp.ID, err)
	}
	return nil
}

func (s *CheckpointStorage) LoadCheckpoint(ctx context.Context, jobID string, stage models.Stage) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	key := models.CheckpointKey(jobID, stage)
	if err := s.db.Store().Get(key, &cp); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", key, err)
	}
	return &cp, nil
}
