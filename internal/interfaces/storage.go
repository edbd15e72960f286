package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/colligo/internal/models"
)

// ErrRunNotFound is returned when a run id has no stored summary.
var ErrRunNotFound = errors.New("run not found")

// WatermarkStore is the sole durable owner of the incremental-scan watermark.
type WatermarkStore interface {
	// Load returns the committed watermark. A missing or corrupt state file
	// fails soft to the zero watermark; it is never fatal.
	Load() models.Watermark

	// Commit atomically overwrites the stored watermark
	// (write-temp-then-rename). Callers only ever commit watermarks at or
	// past the previously committed one; monotonicity is not re-validated
	// here.
	Commit(watermark models.Watermark) error
}

// RunStorage persists harvest run summaries for audit and troubleshooting.
type RunStorage interface {
	SaveRun(ctx context.Context, run *models.RunSummary) error
	GetRun(ctx context.Context, runID string) (*models.RunSummary, error)
	// ListRuns returns summaries newest first, up to limit (0 = no limit).
	ListRuns(ctx context.Context, limit int) ([]models.RunSummary, error)
}
