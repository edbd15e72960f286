// Package badger persists harvest run history in an embedded Badger store.
// Run summaries are audit data, not pipeline state: the watermark lives in
// its own JSON file and never touches this database.
package badger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/colligo/internal/common"
)

// BadgerDB owns the run-history database connection. One connection is
// shared by all stores for the lifetime of the process.
type BadgerDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	config *common.BadgerConfig
}

// NewBadgerDB opens the run-history database at the configured path,
// creating the directory as needed.
func NewBadgerDB(logger arbor.ILogger, config *common.BadgerConfig) (*BadgerDB, error) {
	resetIfRequested(logger, config)

	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create run-history directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.Logger = nil // Badger's own logger is noisy; arbor covers it

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open run-history database: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Run-history database opened")

	return &BadgerDB{
		store:  store,
		logger: logger,
		config: config,
	}, nil
}

// resetIfRequested wipes the database directory when reset_on_startup is
// set. Used for clean local test runs; run history is expendable.
func resetIfRequested(logger arbor.ILogger, config *common.BadgerConfig) {
	if !config.ResetOnStartup {
		return
	}
	if _, err := os.Stat(config.Path); err != nil {
		return
	}
	logger.Debug().Str("path", config.Path).Msg("Resetting run-history database (reset_on_startup=true)")
	if err := os.RemoveAll(config.Path); err != nil {
		logger.Warn().Err(err).Str("path", config.Path).Msg("Failed to reset run-history database")
	}
}

// Store returns the underlying badgerhold store.
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// Close closes the database connection.
func (b *BadgerDB) Close() error {
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}
