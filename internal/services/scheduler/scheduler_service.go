// Package scheduler runs the harvest pipeline on a cron schedule. The
// primary mode of operation stays a single pass; scheduling is opt-in.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// RunFunc executes one harvest pass.
type RunFunc func(ctx context.Context) error

// Service triggers harvest runs on a cron expression. Overlapping ticks are
// skipped: the collaborator session supports exactly one run at a time.
type Service struct {
	cron    *cron.Cron
	runner  RunFunc
	logger  arbor.ILogger
	mu      sync.Mutex
	running bool
	inRun   bool
}

// NewService creates a scheduler around the given run function.
func NewService(runner RunFunc, logger arbor.ILogger) *Service {
	return &Service{
		cron:   cron.New(),
		runner: runner,
		logger: logger,
	}
}

// Start begins scheduling runs with the given cron expression.
func (s *Service) Start(cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if cronExpr == "" {
		return fmt.Errorf("empty cron expression")
	}

	if _, err := s.cron.AddFunc(cronExpr, s.tick); err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().Str("cron_expr", cronExpr).Msg("Harvest scheduler started")
	return nil
}

// Stop halts scheduling. A run already in flight finishes on its own.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cron.Stop()
	s.running = false
	s.logger.Info().Msg("Harvest scheduler stopped")
}

func (s *Service) tick() {
	s.mu.Lock()
	if s.inRun {
		s.mu.Unlock()
		s.logger.Warn().Msg("Previous harvest run still in flight, skipping tick")
		return
	}
	s.inRun = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inRun = false
		s.mu.Unlock()
	}()

	if err := s.runner(context.Background()); err != nil {
		s.logger.Error().Err(err).Msg("Scheduled harvest run failed")
	}
}
