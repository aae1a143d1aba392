package checkpoint

import (
	"context"
	"testing"

	"github.com/allabolag/scraper/internal/models"
	"github.com/ternarybob/arbor"
)

// fakeCheckpointStore is an in-memory interfaces.CheckpointStorage, enough
// to test Manager's save cadence without a real Badger store.
type fakeCheckpointStore struct {
	saved map[string]*models.Checkpoint
}

func newFakeCheckpointStore() *fakeCheckpointStore {
	return &fakeCheckpointStore{saved: make(map[string]*models.Checkpoint)}
}

func (f *fakeCheckpointStore) SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	f.saved[models.CheckpointKey(cp.JobID, cp.Stage)] = cp
	return nil
}

func (f *fakeCheckpointStore) LoadCheckpoint(ctx context.Context, jobID string, stage models.Stage) (*models.Checkpoint, error) {
	cp, ok := f.saved[models.CheckpointKey(jobID, stage)]
	if !ok {
		return nil, nil
	}
	return cp, nil
}

func TestManagerSavesEveryNCompanies(t *testing.T) {
	store := newFakeCheckpointStore()
	m := NewManager(arbor.NewLogger(), store, 3)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		cp := &models.Checkpoint{JobID: "job1", Stage: models.StageSegmentation, ProcessedCount: i}
		if err := m.MaybeSave(ctx, cp, false); err != nil {
			t.Fatalf("MaybeSave: %v", err)
		}
	}
	if loaded, _ := store.LoadCheckpoint(ctx, "job1", models.StageSegmentation); loaded != nil {
		t.Fatalf("expected no checkpoint saved before reaching N, got one")
	}

	cp := &models.Checkpoint{JobID: "job1", Stage: models.StageSegmentation, ProcessedCount: 3}
	if err := m.MaybeSave(ctx, cp, false); err != nil {
		t.Fatalf("MaybeSave: %v", err)
	}
	loaded, err := store.LoadCheckpoint(ctx, "job1", models.StageSegmentation)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a checkpoint to be saved on the 3rd call")
	}
	if loaded.ProcessedCount != 3 {
		t.Errorf("expected ProcessedCount 3, got %d", loaded.ProcessedCount)
	}
}

func TestManagerCadenceGatesOnProcessedCountNotCallCount(t *testing.T) {
	store := newFakeCheckpointStore()
	m := NewManager(arbor.NewLogger(), store, 10)
	ctx := context.Background()

	// A caller that checkpoints once per batch of 50 companies (rather
	// than once per company) must still save roughly every 10 companies,
	// not once every 10 calls (once every 500 companies).
	for _, processed := range []int{50, 100, 150} {
		cp := &models.Checkpoint{JobID: "job1b", Stage: models.StageIDResolution, ProcessedCount: processed}
		if err := m.MaybeSave(ctx, cp, false); err != nil {
			t.Fatalf("MaybeSave: %v", err)
		}
		loaded, err := store.LoadCheckpoint(ctx, "job1b", models.StageIDResolution)
		if err != nil {
			t.Fatalf("LoadCheckpoint: %v", err)
		}
		if loaded == nil || loaded.ProcessedCount != processed {
			t.Fatalf("expected a checkpoint at ProcessedCount %d (advance of 50 >= everyN 10), got %+v", processed, loaded)
		}
	}
}

func TestManagerForceSaveBypassesCadence(t *testing.T) {
	store := newFakeCheckpointStore()
	m := NewManager(arbor.NewLogger(), store, 100)
	ctx := context.Background()

	cp := &models.Checkpoint{JobID: "job2", Stage: models.StageIDResolution, ProcessedCount: 1}
	if err := m.MaybeSave(ctx, cp, true); err != nil {
		t.Fatalf("MaybeSave: %v", err)
	}

	loaded, err := store.LoadCheckpoint(ctx, "job2", models.StageIDResolution)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected forced save to persist immediately")
	}
}

func TestResumeInfoWithNoCheckpointStartsAtPageZero(t *testing.T) {
	store := newFakeCheckpointStore()
	m := NewManager(arbor.NewLogger(), store, 10)
	ctx := context.Background()

	job := &models.Job{ID: "job3", Stage: models.StageFinancials, TotalCompanies: 50}
	info, err := m.ResumeInfo(ctx, job)
	if err != nil {
		t.Fatalf("ResumeInfo: %v", err)
	}
	if info.LastPage != 0 {
		t.Errorf("expected LastPage 0 with no checkpoint, got %d", info.LastPage)
	}
	if !info.CanResume {
		t.Error("expected CanResume true")
	}
}
