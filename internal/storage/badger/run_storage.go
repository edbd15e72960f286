package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// RunStorage implements the RunStorage interface for Badger
type RunStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRunStorage creates a new RunStorage instance
func NewRunStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RunStorage {
	return &RunStorage{
		db:     db,
		logger: logger,
	}
}

// SaveRun inserts or updates a run summary keyed by run ID
func (s *RunStorage) SaveRun(ctx context.Context, run *models.RunSummary) error {
	if run.RunID == "" {
		return fmt.Errorf("run summary has no run id")
	}

	if err := s.db.Store().Upsert(run.RunID, run); err != nil {
		return fmt.Errorf("failed to save run summary: %w", err)
	}

	s.logger.Debug().
		Str("run_id", run.RunID).
		Str("status", string(run.Status)).
		Int("relayed", run.Relayed).
		Msg("Run summary saved")

	return nil
}

// GetRun retrieves a run summary by ID
func (s *RunStorage) GetRun(ctx context.Context, runID string) (*models.RunSummary, error) {
	var run models.RunSummary
	err := s.db.Store().Get(runID, &run)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run summary: %w", err)
	}
	return &run, nil
}

// ListRuns returns run summaries newest first, up to limit (0 = no limit)
func (s *RunStorage) ListRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	query := badgerhold.Where("RunID").Ne("").SortBy("StartedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var runs []models.RunSummary
	if err := s.db.Store().Find(&runs, query); err != nil {
		return nil, fmt.Errorf("failed to list run summaries: %w", err)
	}
	return runs, nil
}
