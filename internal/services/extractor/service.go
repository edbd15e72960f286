// Package extractor reads the current page of the results table through the
// automation collaborator and normalizes its rows into typed records.
package extractor

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/parsing"
)

// Columns maps the listing table cells to record fields.
type Columns struct {
	Date     int // Submission date cell
	Project  int // Cell containing the detail link (id + name)
	Distance int // Distance cell, -1 when the table has none
	Amount   int // Amount cell, -1 when the table has none
}

// DefaultColumns matches the portal's results-table layout.
func DefaultColumns() Columns {
	return Columns{Date: 0, Project: 2, Distance: 4, Amount: 5}
}

// Stats reports what extraction dropped or defaulted on a page.
type Stats struct {
	Scanned       int // Rows seen in the table
	Malformed     int // Rows dropped for missing id or date
	ParseWarnings int // Distance/amount values that fell back to defaults
}

// Service extracts records from the automation session's current page.
// Each ExtractPage call reads the table exactly once; the resulting slice is
// finite and tied to that page load.
type Service struct {
	automator interfaces.Automator
	baseURL   *url.URL
	columns   Columns
	logger    arbor.ILogger
}

// NewService creates an extractor bound to the collaborator session.
// baseURL resolves relative detail links found in the table.
func NewService(automator interfaces.Automator, baseURL string, columns Columns, logger arbor.ILogger) (*Service, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %s: %w", baseURL, err)
	}
	return &Service{
		automator: automator,
		baseURL:   base,
		columns:   columns,
		logger:    logger,
	}, nil
}

// ExtractPage reads the current results table and returns its normalized
// records. Rows missing an identifier or submission date are dropped and
// counted as malformed; unparseable distance or amount values fall back to
// their defaults and are counted as parse warnings.
func (s *Service) ExtractPage(ctx context.Context) ([]models.Record, Stats, error) {
	var stats Stats

	html, err := s.automator.ReadTable(ctx)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to read results table: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, stats, fmt.Errorf("failed to parse results table: %w", err)
	}

	var records []models.Record
	doc.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
		stats.Scanned++

		record, warnings, ok := s.parseRow(row)
		stats.ParseWarnings += warnings
		if !ok {
			stats.Malformed++
			return
		}
		records = append(records, record)
	})

	s.logger.Info().
		Int("scanned", stats.Scanned).
		Int("records", len(records)).
		Int("malformed", stats.Malformed).
		Int("parse_warnings", stats.ParseWarnings).
		Msg("Extracted listing page")

	return records, stats, nil
}

func (s *Service) parseRow(row *goquery.Selection) (models.Record, int, bool) {
	record := models.NewRecord()
	warnings := 0

	cells := row.Find("td")
	if cells.Length() <= s.columns.Project {
		return record, warnings, false
	}

	dateText := strings.TrimSpace(cells.Eq(s.columns.Date).Text())
	date, err := time.Parse(models.SubmissionDateFormat, dateText)
	if err != nil {
		s.logger.Debug().Str("date", dateText).Msg("Row dropped: unparseable submission date")
		return record, warnings, false
	}
	record.SubmissionDate = date

	link := cells.Eq(s.columns.Project).Find("a").First()
	href, _ := link.Attr("href")
	record.ID = projectIDFromHref(href)
	record.Name = strings.TrimSpace(link.Text())
	record.SourceLink = s.resolveLink(href)

	if record.ID == "" {
		s.logger.Debug().Str("href", href).Msg("Row dropped: no project identifier in detail link")
		return record, warnings, false
	}

	if s.columns.Distance >= 0 && cells.Length() > s.columns.Distance {
		text := strings.TrimSpace(cells.Eq(s.columns.Distance).Text())
		distance, ok := parsing.ParseDistance(text)
		record.DistanceKm = distance
		record.DistanceKnown = ok
		if !ok && text != "" {
			warnings++
			s.logger.Warn().Str("record_id", record.ID).Str("distance", text).Msg("Unparseable distance, treating as unknown")
		}
	}

	if s.columns.Amount >= 0 && cells.Length() > s.columns.Amount {
		text := strings.TrimSpace(cells.Eq(s.columns.Amount).Text())
		amount, ok := parsing.ParseAmount(text)
		record.Amount = amount
		record.AmountKnown = ok
		if !ok && text != "" {
			warnings++
			s.logger.Warn().Str("record_id", record.ID).Str("amount", text).Msg("Unparseable amount, treating as zero")
		}
	}

	return record, warnings, true
}

// projectIDFromHref extracts the stable project identifier from a detail
// link path like "/projekt/184523/submission".
func projectIDFromHref(href string) string {
	if href == "" {
		return ""
	}
	if u, err := url.Parse(href); err == nil {
		href = u.Path
	}
	parts := strings.Split(strings.TrimPrefix(href, "/"), "/")
	if len(parts) < 2 || parts[1] == "" {
		return ""
	}
	return parts[1]
}

func (s *Service) resolveLink(href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return s.baseURL.ResolveReference(ref).String()
}
