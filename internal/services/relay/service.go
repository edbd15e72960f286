// Package relay uploads completed artifacts to the remote document library.
// The orchestrator must not advance the watermark unless Relay succeeds:
// at-least-once delivery before a record is acknowledged as processed.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// ErrRelayFailed is returned when the upload could not be confirmed. The
// watermark must not move past the affected record.
var ErrRelayFailed = errors.New("artifact relay failed")

// Targets holds the selectors driving the upload flow in the library view.
type Targets struct {
	UploadButton string // Opens the upload menu
	FilesItem    string // "Files" entry in the upload menu
	FileInput    string // Hidden file input receiving the artifact path
}

// DefaultTargets matches the document library's upload controls.
func DefaultTargets() Targets {
	return Targets{
		UploadButton: `button[data-automationid="uploadCommand"]`,
		FilesItem:    `button[name="Files"]`,
		FileInput:    `input[type="file"]`,
	}
}

// Config holds relay coordination parameters.
type Config struct {
	FolderURL string // Destination folder view
	// ConfirmSelector is polled after the upload to detect completion.
	// Empty means the library exposes no signal and the fixed SettleDelay
	// is used instead (fallback, not the intended mode).
	ConfirmSelector string
	PollInterval    time.Duration
	SettleTimeout   time.Duration // How long to poll for the confirmation element
	SettleDelay     time.Duration // Blind wait when no confirm selector is set
	Targets         Targets
}

// Service relays downloaded artifacts through the collaborator session.
type Service struct {
	automator interfaces.Automator
	config    Config
	logger    arbor.ILogger
}

// NewService creates a relay coordinator.
func NewService(automator interfaces.Automator, config Config, logger arbor.ILogger) *Service {
	return &Service{
		automator: automator,
		config:    config,
		logger:    logger,
	}
}

// Relay uploads the artifact to the configured library folder and waits for
// completion. Returns ErrRelayFailed when the upload could not be confirmed.
func (s *Service) Relay(ctx context.Context, result *models.DownloadResult) error {
	if err := s.automator.Navigate(ctx, s.config.FolderURL); err != nil {
		return fmt.Errorf("%w: failed to open library folder: %s", ErrRelayFailed, err)
	}
	if err := s.automator.WaitStable(ctx); err != nil {
		return fmt.Errorf("%w: library folder did not stabilize: %s", ErrRelayFailed, err)
	}

	if err := s.automator.Click(ctx, s.config.Targets.UploadButton); err != nil {
		return fmt.Errorf("%w: failed to open upload menu: %s", ErrRelayFailed, err)
	}
	if s.config.Targets.FilesItem != "" {
		if err := s.automator.Click(ctx, s.config.Targets.FilesItem); err != nil {
			return fmt.Errorf("%w: failed to select file upload: %s", ErrRelayFailed, err)
		}
	}
	if err := s.automator.SetFiles(ctx, s.config.Targets.FileInput, result.LocalPath); err != nil {
		return fmt.Errorf("%w: failed to attach artifact: %s", ErrRelayFailed, err)
	}

	if err := s.awaitUpload(ctx); err != nil {
		return err
	}

	s.logger.Info().
		Str("filename", result.Filename).
		Int64("size_bytes", result.SizeBytes).
		Msg("Artifact relayed to document library")

	return nil
}

// awaitUpload waits for the upload to land. With a confirmation selector
// configured it polls for the element; otherwise it falls back to the fixed
// settle delay because the library gives no explicit completion signal.
func (s *Service) awaitUpload(ctx context.Context) error {
	if s.config.ConfirmSelector == "" {
		s.logger.Debug().Dur("settle_delay", s.config.SettleDelay).Msg("No confirmation selector configured, using fixed settle delay")
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrRelayFailed, ctx.Err())
		case <-time.After(s.config.SettleDelay):
			return nil
		}
	}

	deadline := time.Now().Add(s.config.SettleTimeout)
	interval := s.config.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		found, err := s.automator.Exists(ctx, s.config.ConfirmSelector)
		if err != nil {
			return fmt.Errorf("%w: confirmation probe failed: %s", ErrRelayFailed, err)
		}
		if found {
			return nil
		}

		if time.Now().After(deadline) {
			s.logger.Warn().
				Str("selector", s.config.ConfirmSelector).
				Dur("settle_timeout", s.config.SettleTimeout).
				Msg("Upload confirmation never appeared")
			return ErrRelayFailed
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrRelayFailed, ctx.Err())
		case <-ticker.C:
		}
	}
}
