// Package harvest orchestrates a single extraction run: scan the listing
// page, filter records against the recency window and criteria rules,
// download each eligible artifact, relay it to the document library, and
// advance the watermark only after a successful relay.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/criteria"
	"github.com/ternarybob/colligo/internal/services/download"
	"github.com/ternarybob/colligo/internal/services/extractor"
	"github.com/ternarybob/colligo/internal/services/relay"
)

// Deps wires the orchestrator's collaborators. Runs is optional; everything
// else is required.
type Deps struct {
	Sessions   interfaces.SessionPreparer
	Extractor  *extractor.Service
	Evaluator  *criteria.Service
	Downloads  *download.Service
	Relays     *relay.Service
	Watermarks interfaces.WatermarkStore
	Runs       interfaces.RunStorage
}

// Service runs the harvest pipeline. A run is one pass over the current
// listing page; records are processed strictly sequentially because the
// collaborator exposes a single navigable session.
type Service struct {
	deps       Deps
	windowDays int
	limiter    *rate.Limiter
	logger     arbor.ILogger
}

// NewService creates a harvest orchestrator. requestDelay paces detail-page
// navigation; windowDays bounds the trailing scan window used when no
// watermark has been committed yet.
func NewService(deps Deps, windowDays int, requestDelay time.Duration, logger arbor.ILogger) *Service {
	var limiter *rate.Limiter
	if requestDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(requestDelay), 1)
	}
	return &Service{
		deps:       deps,
		windowDays: windowDays,
		limiter:    limiter,
		logger:     logger,
	}
}

// Run executes one harvest pass and returns its summary. The returned error
// is non-nil only for run-fatal conditions (source or target unreachable);
// per-record failures are recorded in the summary and left for the next run.
// The watermark is committed per relayed record, in ascending submission-date
// order, so every commit is monotone and a crash resumes exactly after the
// last relayed record.
func (s *Service) Run(ctx context.Context) (*models.RunSummary, error) {
	summary := &models.RunSummary{
		RunID:     common.NewRunID(),
		Status:    models.RunStatusRunning,
		StartedAt: time.Now(),
	}

	watermark := s.deps.Watermarks.Load()
	windowStart := watermark.Cutoff(time.Now(), s.windowDays)

	s.logger.Info().
		Str("run_id", summary.RunID).
		Str("window_start", windowStart.Format("2006-01-02")).
		Bool("first_run", watermark.IsZero()).
		Msg("Starting harvest run")

	if err := s.deps.Sessions.PrepareSource(ctx); err != nil {
		return s.fail(ctx, summary, fmt.Errorf("source endpoint unreachable: %w", err))
	}

	records, stats, err := s.deps.Extractor.ExtractPage(ctx)
	if err != nil {
		return s.fail(ctx, summary, fmt.Errorf("listing extraction failed: %w", err))
	}
	summary.Scanned = stats.Scanned
	summary.Malformed = stats.Malformed
	summary.Warnings += stats.ParseWarnings

	eligible := s.filter(records, windowStart, summary)
	summary.Eligible = len(eligible)

	// Ascending submission-date order keeps each per-record watermark
	// commit monotone.
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].SubmissionDate.Before(eligible[j].SubmissionDate)
	})

	targetReady := false
	for _, rec := range eligible {
		// Cancellation is cooperative and only honored at record
		// boundaries; a started download is never interrupted.
		if err := ctx.Err(); err != nil {
			return s.fail(ctx, summary, fmt.Errorf("run aborted: %w", err))
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return s.fail(ctx, summary, fmt.Errorf("run aborted: %w", err))
			}
		}

		result, err := s.deps.Downloads.Fetch(ctx, rec)
		if errors.Is(err, download.ErrDownloadTimeout) {
			summary.RecordOutcomeFor(rec, models.OutcomeDownloadTimeout, err.Error())
			continue
		}
		if err != nil {
			// Collaborator failures are fatal to the record, not the run.
			s.logger.Warn().Err(err).Str("record_id", rec.ID).Msg("Record skipped: download failed")
			summary.RecordOutcomeFor(rec, models.OutcomeError, err.Error())
			continue
		}
		summary.Downloaded++

		if !targetReady {
			if err := s.deps.Sessions.PrepareTarget(ctx); err != nil {
				return s.fail(ctx, summary, fmt.Errorf("target endpoint unreachable: %w", err))
			}
			targetReady = true
		}

		if err := s.deps.Relays.Relay(ctx, result); err != nil {
			s.logger.Warn().Err(err).Str("record_id", rec.ID).Msg("Relay failed, watermark not advanced")
			summary.RecordOutcomeFor(rec, models.OutcomeRelayFailed, err.Error())
			continue
		}

		watermark.Advance(rec.SubmissionDate, rec.ID)
		if err := s.deps.Watermarks.Commit(watermark); err != nil {
			// The relay succeeded but the acknowledgment did not stick;
			// the record will be relayed again next run (at-least-once).
			s.logger.Warn().Err(err).Str("record_id", rec.ID).Msg("Watermark commit failed")
			summary.Warnings++
		}
		summary.RecordOutcomeFor(rec, models.OutcomeRelayed, "")
	}

	summary.Status = models.RunStatusCompleted
	summary.CompletedAt = time.Now()
	s.saveRun(ctx, summary)

	s.logger.Info().
		Str("run_id", summary.RunID).
		Int("scanned", summary.Scanned).
		Int("eligible", summary.Eligible).
		Int("downloaded", summary.Downloaded).
		Int("relayed", summary.Relayed).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("Harvest run completed")

	return summary, nil
}

func (s *Service) filter(records []models.Record, windowStart time.Time, summary *models.RunSummary) []models.Record {
	var eligible []models.Record
	for _, rec := range records {
		ok, reason := s.deps.Evaluator.Evaluate(rec, windowStart)
		if !ok {
			outcome := models.OutcomeSkippedRule
			if reason == criteria.ReasonWindow {
				outcome = models.OutcomeSkippedWindow
			}
			summary.RecordOutcomeFor(rec, outcome, reason)
			continue
		}
		eligible = append(eligible, rec)
	}
	return eligible
}

func (s *Service) fail(ctx context.Context, summary *models.RunSummary, err error) (*models.RunSummary, error) {
	summary.Status = models.RunStatusFailed
	summary.CompletedAt = time.Now()
	summary.Error = err.Error()
	s.saveRun(ctx, summary)
	s.logger.Error().Err(err).Str("run_id", summary.RunID).Msg("Harvest run failed")
	return summary, err
}

func (s *Service) saveRun(ctx context.Context, summary *models.RunSummary) {
	if s.deps.Runs == nil {
		return
	}
	if err := s.deps.Runs.SaveRun(ctx, summary); err != nil {
		s.logger.Warn().Err(err).Str("run_id", summary.RunID).Msg("Failed to persist run summary")
	}
}
