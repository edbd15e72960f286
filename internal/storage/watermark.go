// Package storage provides the durable state owners of a harvest run: the
// JSON watermark file and the Badger-backed run history.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

const watermarkDateFormat = "2006-01-02"

// legacyDateFormat matches listing-style dates found in state files written
// by earlier extraction tooling.
const legacyDateFormat = "02.01.2006"

// watermarkFile is the on-disk shape of the watermark state.
type watermarkFile struct {
	LastDate      string `json:"last_date"`
	LastProjectID string `json:"last_project_id,omitempty"`
}

// FileWatermarkStore persists the watermark as a single JSON file.
// Commit uses write-temp-then-rename so a crash mid-write cannot corrupt the
// stored value; Load fails soft to the zero watermark.
type FileWatermarkStore struct {
	path   string
	logger arbor.ILogger
}

// NewFileWatermarkStore creates a watermark store at the given path.
func NewFileWatermarkStore(path string, logger arbor.ILogger) interfaces.WatermarkStore {
	return &FileWatermarkStore{
		path:   path,
		logger: logger,
	}
}

// Load returns the committed watermark. Missing or corrupt state is treated
// as a first run and logged, never surfaced as an error.
func (s *FileWatermarkStore) Load() models.Watermark {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info().Str("path", s.path).Msg("No watermark state found, treating as first run")
		} else {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("Failed to read watermark state, treating as first run")
		}
		return models.Watermark{}
	}

	var state watermarkFile
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Corrupt watermark state, treating as first run")
		return models.Watermark{}
	}

	date, err := parseWatermarkDate(state.LastDate)
	if err != nil {
		s.logger.Warn().Err(err).Str("last_date", state.LastDate).Msg("Unparseable watermark date, treating as first run")
		return models.Watermark{}
	}

	return models.Watermark{
		LastDate:      date,
		LastProjectID: state.LastProjectID,
	}
}

// Commit atomically overwrites the stored watermark.
func (s *FileWatermarkStore) Commit(watermark models.Watermark) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create watermark directory: %w", err)
	}

	state := watermarkFile{
		LastDate:      watermark.LastDate.Format(watermarkDateFormat),
		LastProjectID: watermark.LastProjectID,
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode watermark: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create watermark temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write watermark temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close watermark temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace watermark state: %w", err)
	}

	s.logger.Debug().
		Str("last_date", state.LastDate).
		Str("last_project_id", state.LastProjectID).
		Msg("Watermark committed")

	return nil
}

func parseWatermarkDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty watermark date")
	}
	if date, err := time.Parse(watermarkDateFormat, value); err == nil {
		return date, nil
	}
	return time.Parse(legacyDateFormat, value)
}
