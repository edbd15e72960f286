// Package app wires configuration, storage, the browser collaborator and the
// harvest services into a runnable application.
package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/automation"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/criteria"
	"github.com/ternarybob/colligo/internal/services/download"
	"github.com/ternarybob/colligo/internal/services/extractor"
	"github.com/ternarybob/colligo/internal/services/harvest"
	"github.com/ternarybob/colligo/internal/services/relay"
	"github.com/ternarybob/colligo/internal/storage"
	"github.com/ternarybob/colligo/internal/storage/badger"
)

// App holds the assembled application.
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	Harvester *harvest.Service
	Runs      interfaces.RunStorage

	chrome *automation.Chrome
	db     *badger.BadgerDB
}

// New assembles the application from configuration. The browser session is
// created but not started; RunOnce starts and stops it around a pass.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	db, err := badger.NewBadgerDB(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to open run history store: %w", err)
	}
	runs := badger.NewRunStorage(db, logger)

	watermarks := storage.NewFileWatermarkStore(cfg.Storage.WatermarkPath, logger)

	sourceFlow := automation.DefaultSourceFlow()
	sourceFlow.URL = cfg.Source.URL
	sourceFlow.Email = cfg.Source.Email
	sourceFlow.Password = cfg.Source.Password
	if cfg.Source.ResultsPerPage > 0 {
		sourceFlow.PageSizeItem = fmt.Sprintf(`.dropdown-menu [data-page-size="%d"]`, cfg.Source.ResultsPerPage)
	}

	targetFlow := automation.DefaultTargetFlow()
	targetFlow.SiteURL = cfg.Target.SiteURL
	targetFlow.Email = cfg.Target.Email
	targetFlow.Password = cfg.Target.Password

	chromeCfg := automation.DefaultConfig()
	chromeCfg.Headless = cfg.Source.Headless
	chromeCfg.UserAgent = cfg.Source.UserAgent
	chromeCfg.DownloadDir = cfg.Harvest.DownloadDir

	chrome := automation.NewChrome(chromeCfg, sourceFlow, targetFlow, logger)

	extract, err := extractor.NewService(chrome, cfg.Source.URL, extractor.DefaultColumns(), logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	evaluate := criteria.NewService(cfg.CriteriaRules(), logger)

	fetch := download.NewService(chrome, download.Config{
		Dir:          cfg.Harvest.DownloadDir,
		PollInterval: cfg.Harvest.PollInterval,
		Timeout:      cfg.Harvest.Timeout,
		Targets:      download.DefaultTargets(),
	}, logger)

	upload := relay.NewService(chrome, relay.Config{
		FolderURL:       cfg.Target.FolderURL,
		ConfirmSelector: cfg.Target.ConfirmSelector,
		PollInterval:    cfg.Harvest.PollInterval,
		SettleTimeout:   cfg.Harvest.SettleTimeout,
		SettleDelay:     cfg.Target.SettleDelay,
		Targets:         relay.DefaultTargets(),
	}, logger)

	harvester := harvest.NewService(harvest.Deps{
		Sessions:   chrome,
		Extractor:  extract,
		Evaluator:  evaluate,
		Downloads:  fetch,
		Relays:     upload,
		Watermarks: watermarks,
		Runs:       runs,
	}, cfg.Harvest.WindowDays, cfg.Harvest.RequestDelay, logger)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Harvester: harvester,
		Runs:      runs,
		chrome:    chrome,
		db:        db,
	}, nil
}

// RunOnce executes a single harvest pass with a fresh browser session.
func (a *App) RunOnce(ctx context.Context) (*models.RunSummary, error) {
	if err := a.chrome.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}
	defer a.chrome.Stop()

	return a.Harvester.Run(ctx)
}

// Close releases the application's resources.
func (a *App) Close() {
	a.chrome.Stop()
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close run history store")
		}
	}
}
