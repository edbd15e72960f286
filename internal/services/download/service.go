// Package download fetches the export artifact for an eligible record and
// verifies the transfer actually completed on disk.
package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

var (
	// ErrDownloadTimeout is returned when the artifact never reached
	// nonzero size on disk inside the configured timeout. Non-fatal to the
	// run; the record stays unprocessed for the next run.
	ErrDownloadTimeout = errors.New("download did not complete within timeout")

	// ErrDownloadNotFound is returned when the browser never produced the
	// transfer at all.
	ErrDownloadNotFound = errors.New("download was not produced")
)

// Targets holds the selectors driving the export flow on a record's detail
// page. Values come from configuration defaults, not the pipeline.
type Targets struct {
	ExportPane string // Tab/pane that exposes the export control
	ExportLink string // The export control itself
}

// DefaultTargets matches the portal's detail-page layout.
func DefaultTargets() Targets {
	return Targets{
		ExportPane: ".pt-0 > ul > li:nth-child(4) > .nav-link",
		ExportLink: "a.export-link",
	}
}

// Config holds download coordination parameters.
type Config struct {
	Dir          string        // Local artifact directory
	PollInterval time.Duration // Completion poll interval
	Timeout      time.Duration // Completion timeout
	Targets      Targets
}

// Service coordinates one artifact download at a time against the single
// browser session: trigger the export, persist the transfer to a
// deterministic path, and poll until the file exists with nonzero size.
type Service struct {
	automator interfaces.Automator
	config    Config
	logger    arbor.ILogger
}

// expectedExtensions are the artifact types the portal exports. Anything
// else is reported as a warning, not an error; the file still counts as
// downloaded.
var expectedExtensions = map[string]bool{
	".pdf":  true,
	".xls":  true,
	".xlsx": true,
}

// NewService creates a download coordinator.
func NewService(automator interfaces.Automator, config Config, logger arbor.ILogger) *Service {
	return &Service{
		automator: automator,
		config:    config,
		logger:    logger,
	}
}

// Fetch downloads the record's export artifact. It navigates to the record
// detail page, triggers the export, persists the transfer under the download
// directory, and polls for completion. Returns ErrDownloadTimeout when the
// file never reaches nonzero size in time; the caller decides whether to
// continue with the next record.
func (s *Service) Fetch(ctx context.Context, rec models.Record) (*models.DownloadResult, error) {
	if err := s.automator.Navigate(ctx, rec.SourceLink); err != nil {
		return nil, fmt.Errorf("failed to open record detail: %w", err)
	}
	if err := s.automator.WaitStable(ctx); err != nil {
		return nil, fmt.Errorf("record detail did not stabilize: %w", err)
	}
	if s.config.Targets.ExportPane != "" {
		if err := s.automator.Click(ctx, s.config.Targets.ExportPane); err != nil {
			return nil, fmt.Errorf("failed to open export pane: %w", err)
		}
	}

	handle, err := s.automator.TriggerDownload(ctx, s.config.Targets.ExportLink)
	if err != nil {
		return nil, fmt.Errorf("failed to trigger export: %w", err)
	}

	filename := filepath.Base(handle.SuggestedName())
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		filename = rec.ID + ".pdf"
	}
	path := filepath.Join(s.config.Dir, filename)

	if err := os.MkdirAll(s.config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	// One deadline covers both the browser transfer and the on-disk
	// completion poll; together they never block longer than the timeout.
	deadline := time.Now().Add(s.config.Timeout)
	saveCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	if err := handle.SaveTo(saveCtx, path); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn().Str("record_id", rec.ID).Dur("timeout", s.config.Timeout).Msg("Browser never finished the transfer")
			return nil, ErrDownloadTimeout
		}
		return nil, fmt.Errorf("%w: %s", ErrDownloadNotFound, err)
	}

	size, err := s.awaitCompletion(ctx, path, deadline)
	if err != nil {
		return nil, err
	}

	if ext := strings.ToLower(filepath.Ext(filename)); !expectedExtensions[ext] {
		s.logger.Warn().
			Str("record_id", rec.ID).
			Str("filename", filename).
			Msg("Downloaded file has unexpected extension")
	}

	s.logger.Info().
		Str("record_id", rec.ID).
		Str("path", path).
		Int64("size_bytes", size).
		Msg("Artifact downloaded")

	return &models.DownloadResult{
		Filename:    filename,
		LocalPath:   path,
		SizeBytes:   size,
		CompletedAt: time.Now(),
	}, nil
}

// awaitCompletion polls until the file exists with nonzero size or the
// deadline passes. A download in flight is never interrupted mid-transfer;
// cancellation is honored between polls.
func (s *Service) awaitCompletion(ctx context.Context, path string, deadline time.Time) (int64, error) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			return info.Size(), nil
		}

		if time.Now().After(deadline) {
			s.logger.Warn().Str("path", path).Dur("timeout", s.config.Timeout).Msg("Download timed out")
			return 0, ErrDownloadTimeout
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}
