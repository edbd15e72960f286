package harvest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/criteria"
	"github.com/ternarybob/colligo/internal/services/download"
	"github.com/ternarybob/colligo/internal/services/extractor"
	"github.com/ternarybob/colligo/internal/services/relay"
)

// fakeBrowser scripts the whole collaborator surface for one pipeline run.
type fakeBrowser struct {
	tableHTML string

	prepareSourceErr error
	prepareTargetErr error
	sourcePrepared   int
	targetPrepared   int

	hangDownloads map[string]bool // record id -> transfer never completes
	confirmUpload bool            // whether the library shows the confirmation element

	lastURL  string
	attached []string // artifact paths handed to the file input, in order
}

func (b *fakeBrowser) PrepareSource(ctx context.Context) error {
	b.sourcePrepared++
	return b.prepareSourceErr
}

func (b *fakeBrowser) PrepareTarget(ctx context.Context) error {
	b.targetPrepared++
	return b.prepareTargetErr
}

func (b *fakeBrowser) Navigate(ctx context.Context, url string) error {
	b.lastURL = url
	return nil
}

func (b *fakeBrowser) WaitStable(ctx context.Context) error          { return nil }
func (b *fakeBrowser) ReadTable(ctx context.Context) (string, error) { return b.tableHTML, nil }
func (b *fakeBrowser) Click(ctx context.Context, selector string) error {
	return nil
}
func (b *fakeBrowser) Fill(ctx context.Context, selector, value string) error { return nil }

func (b *fakeBrowser) SetFiles(ctx context.Context, selector string, paths ...string) error {
	b.attached = append(b.attached, paths...)
	return nil
}

func (b *fakeBrowser) Exists(ctx context.Context, selector string) (bool, error) {
	return b.confirmUpload, nil
}

func (b *fakeBrowser) TriggerDownload(ctx context.Context, selector string) (interfaces.DownloadHandle, error) {
	// The detail page currently open identifies the record being exported.
	id := recordIDFromURL(b.lastURL)
	if id == "" {
		return nil, errors.New("no record detail open")
	}
	return &fakeTransfer{
		name: id + "_submission.pdf",
		hang: b.hangDownloads[id],
	}, nil
}

func recordIDFromURL(url string) string {
	parts := strings.Split(url, "/")
	for i, p := range parts {
		if p == "projekt" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

type fakeTransfer struct {
	name string
	hang bool
}

func (t *fakeTransfer) SuggestedName() string { return t.name }

func (t *fakeTransfer) SaveTo(ctx context.Context, path string) error {
	if t.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return os.WriteFile(path, []byte("artifact"), 0644)
}

// memWatermarkStore keeps the watermark in memory and counts commits.
type memWatermarkStore struct {
	watermark models.Watermark
	commits   int
	commitErr error
}

func (m *memWatermarkStore) Load() models.Watermark { return m.watermark }

func (m *memWatermarkStore) Commit(w models.Watermark) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.watermark = w
	m.commits++
	return nil
}

// memRunStorage records saved run summaries.
type memRunStorage struct {
	saved []models.RunSummary
}

func (m *memRunStorage) SaveRun(ctx context.Context, run *models.RunSummary) error {
	m.saved = append(m.saved, *run)
	return nil
}

func (m *memRunStorage) GetRun(ctx context.Context, runID string) (*models.RunSummary, error) {
	return nil, interfaces.ErrRunNotFound
}

func (m *memRunStorage) ListRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	return m.saved, nil
}

func tableRow(date time.Time, id, name, distance, amount string) string {
	return fmt.Sprintf(`<tr><td>%s</td><td>open</td><td><a href="/projekt/%s/submission">%s</a></td><td>Ort</td><td>%s</td><td>%s</td></tr>`,
		date.Format(models.SubmissionDateFormat), id, name, distance, amount)
}

// fixtureTable builds a results table relative to now: three records dated
// before the trailing window, two inside it that match the rule, and one
// inside it that matches nothing.
//   - 098, 099, 100: 60/45/40 days old, outside the window
//   - 101: 3 days old, matches the rule
//   - 102: 2 days old, matches the rule
//   - 103: 1 day old, too far and too small for the rule
func fixtureTable(now time.Time) string {
	rows := []string{
		tableRow(now.AddDate(0, 0, -60), "098", "Uraltes Projekt", "30 km", "4.000.000 €"),
		tableRow(now.AddDate(0, 0, -45), "099", "Altes Projekt", "60 km", "2.500.000 €"),
		tableRow(now.AddDate(0, 0, -40), "100", "Aelteres Projekt", "50 km", "2.000.000 €"),
		tableRow(now.AddDate(0, 0, -2), "102", "Neubau Schule", "85 km", "1.500.000,00 €"),
		tableRow(now.AddDate(0, 0, -3), "101", "Umbau Rathaus", "40 km", "1.800.000 €"),
		tableRow(now.AddDate(0, 0, -1), "103", "Kleines Projekt", "200 km", "500.000 €"),
	}
	return "<table><tbody>" + strings.Join(rows, "\n") + "</tbody></table>"
}

func testRules() []models.CriteriaRule {
	return []models.CriteriaRule{
		{
			Name: "near-large",
			Clauses: []models.Clause{
				{DistanceCmp: models.DistanceLTE, DistanceKm: 100, MinAmount: 1500000},
			},
		},
	}
}

type pipeline struct {
	browser    *fakeBrowser
	watermarks *memWatermarkStore
	runs       *memRunStorage
	service    *Service
}

func newPipeline(t *testing.T, browser *fakeBrowser) *pipeline {
	t.Helper()
	logger := arbor.NewLogger()

	extract, err := extractor.NewService(browser, "https://portal.example.com/suche", extractor.DefaultColumns(), logger)
	if err != nil {
		t.Fatal(err)
	}

	fetch := download.NewService(browser, download.Config{
		Dir:          t.TempDir(),
		PollInterval: 10 * time.Millisecond,
		Timeout:      200 * time.Millisecond,
		Targets:      download.DefaultTargets(),
	}, logger)

	upload := relay.NewService(browser, relay.Config{
		FolderURL:       "https://library.example.com/folder",
		ConfirmSelector: `div[data-uploaded="true"]`,
		PollInterval:    10 * time.Millisecond,
		SettleTimeout:   200 * time.Millisecond,
		Targets:         relay.DefaultTargets(),
	}, logger)

	watermarks := &memWatermarkStore{}
	runs := &memRunStorage{}

	service := NewService(Deps{
		Sessions:   browser,
		Extractor:  extract,
		Evaluator:  criteria.NewService(testRules(), logger),
		Downloads:  fetch,
		Relays:     upload,
		Watermarks: watermarks,
		Runs:       runs,
	}, 30, 0, logger)

	return &pipeline{browser: browser, watermarks: watermarks, runs: runs, service: service}
}

func TestRunFirstPass(t *testing.T) {
	now := time.Now()
	p := newPipeline(t, &fakeBrowser{tableHTML: fixtureTable(now), confirmUpload: true})

	summary, err := p.service.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Status != models.RunStatusCompleted {
		t.Errorf("status = %s", summary.Status)
	}
	if summary.Scanned != 6 {
		t.Errorf("scanned = %d, want 6", summary.Scanned)
	}
	if summary.Eligible != 2 {
		t.Errorf("eligible = %d, want 2", summary.Eligible)
	}
	// Three records outside the window, one inside that matches no rule.
	if summary.Skipped != 4 {
		t.Errorf("skipped = %d, want 4", summary.Skipped)
	}
	if summary.Downloaded != 2 || summary.Relayed != 2 {
		t.Errorf("downloaded/relayed = %d/%d, want 2/2", summary.Downloaded, summary.Relayed)
	}

	// Records are processed oldest first so every watermark commit is monotone.
	if len(p.browser.attached) != 2 {
		t.Fatalf("attached = %v, want 2 artifacts", p.browser.attached)
	}
	if !strings.Contains(p.browser.attached[0], "101_") || !strings.Contains(p.browser.attached[1], "102_") {
		t.Errorf("relay order = %v, want 101 before 102", p.browser.attached)
	}

	// Watermark lands on the newest relayed record.
	wantDate, _ := time.Parse(models.SubmissionDateFormat, now.AddDate(0, 0, -2).Format(models.SubmissionDateFormat))
	if !p.watermarks.watermark.LastDate.Equal(wantDate) {
		t.Errorf("watermark date = %v, want %v", p.watermarks.watermark.LastDate, wantDate)
	}
	if p.watermarks.watermark.LastProjectID != "102" {
		t.Errorf("watermark id = %q, want 102", p.watermarks.watermark.LastProjectID)
	}
	if p.watermarks.commits != 2 {
		t.Errorf("commits = %d, want one per relayed record", p.watermarks.commits)
	}

	// The target session is prepared lazily, exactly once.
	if p.browser.sourcePrepared != 1 || p.browser.targetPrepared != 1 {
		t.Errorf("sessions prepared source=%d target=%d, want 1/1", p.browser.sourcePrepared, p.browser.targetPrepared)
	}

	if len(p.runs.saved) != 1 || p.runs.saved[0].Status != models.RunStatusCompleted {
		t.Errorf("run history = %+v, want one completed run", p.runs.saved)
	}
}

func TestRunSecondPassIsIdempotent(t *testing.T) {
	now := time.Now()
	p := newPipeline(t, &fakeBrowser{tableHTML: fixtureTable(now), confirmUpload: true})

	if _, err := p.service.Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	before := p.watermarks.watermark

	summary, err := p.service.Run(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if summary.Eligible != 0 || summary.Relayed != 0 {
		t.Errorf("second run eligible/relayed = %d/%d, want 0/0", summary.Eligible, summary.Relayed)
	}
	if !p.watermarks.watermark.LastDate.Equal(before.LastDate) {
		t.Errorf("watermark moved on an idle run: %v -> %v", before.LastDate, p.watermarks.watermark.LastDate)
	}
}

func TestRunAllRelaysFailLeavesWatermark(t *testing.T) {
	now := time.Now()
	// The library never shows the confirmation element.
	p := newPipeline(t, &fakeBrowser{tableHTML: fixtureTable(now), confirmUpload: false})

	summary, err := p.service.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Relayed != 0 {
		t.Errorf("relayed = %d, want 0", summary.Relayed)
	}
	if summary.Failed != 2 {
		t.Errorf("failed = %d, want 2", summary.Failed)
	}
	if p.watermarks.commits != 0 || !p.watermarks.watermark.IsZero() {
		t.Errorf("watermark moved despite failed relays: %+v", p.watermarks.watermark)
	}
}

func TestRunDownloadTimeoutExcludesRecord(t *testing.T) {
	now := time.Now()
	p := newPipeline(t, &fakeBrowser{
		tableHTML:     fixtureTable(now),
		confirmUpload: true,
		hangDownloads: map[string]bool{"101": true},
	})

	summary, err := p.service.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Downloaded != 1 || summary.Relayed != 1 {
		t.Errorf("downloaded/relayed = %d/%d, want 1/1", summary.Downloaded, summary.Relayed)
	}
	if summary.Failed != 1 {
		t.Errorf("failed = %d, want 1", summary.Failed)
	}

	var timedOut *models.RecordResult
	for i := range summary.Records {
		if summary.Records[i].RecordID == "101" {
			timedOut = &summary.Records[i]
		}
	}
	if timedOut == nil || timedOut.Outcome != models.OutcomeDownloadTimeout {
		t.Errorf("record 101 outcome = %+v, want download_timeout", timedOut)
	}

	// Only the relayed record contributes to the watermark.
	if p.watermarks.watermark.LastProjectID != "102" {
		t.Errorf("watermark id = %q, want 102", p.watermarks.watermark.LastProjectID)
	}
}

func TestRunSourceUnreachableIsFatal(t *testing.T) {
	p := newPipeline(t, &fakeBrowser{
		tableHTML:        fixtureTable(time.Now()),
		prepareSourceErr: errors.New("login rejected"),
	})

	summary, err := p.service.Run(context.Background())
	if err == nil {
		t.Fatal("expected fatal error when the source is unreachable")
	}
	if summary.Status != models.RunStatusFailed {
		t.Errorf("status = %s, want failed", summary.Status)
	}
	if p.watermarks.commits != 0 {
		t.Error("watermark committed on a failed run")
	}
	if len(p.runs.saved) != 1 || p.runs.saved[0].Status != models.RunStatusFailed {
		t.Errorf("run history = %+v, want one failed run", p.runs.saved)
	}
}

func TestRunTargetUnreachableIsFatal(t *testing.T) {
	p := newPipeline(t, &fakeBrowser{
		tableHTML:        fixtureTable(time.Now()),
		confirmUpload:    true,
		prepareTargetErr: errors.New("library login rejected"),
	})

	summary, err := p.service.Run(context.Background())
	if err == nil {
		t.Fatal("expected fatal error when the target is unreachable")
	}
	if summary.Status != models.RunStatusFailed {
		t.Errorf("status = %s, want failed", summary.Status)
	}
	if p.watermarks.commits != 0 {
		t.Error("watermark committed despite no relays")
	}
}

func TestRunCommitFailureIsWarning(t *testing.T) {
	now := time.Now()
	p := newPipeline(t, &fakeBrowser{tableHTML: fixtureTable(now), confirmUpload: true})
	p.watermarks.commitErr = errors.New("disk full")

	summary, err := p.service.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The relay succeeded; the record is acknowledged even though the
	// watermark could not be persisted (at-least-once next run).
	if summary.Relayed != 2 {
		t.Errorf("relayed = %d, want 2", summary.Relayed)
	}
	if summary.Warnings < 2 {
		t.Errorf("warnings = %d, want at least one per failed commit", summary.Warnings)
	}
}

func TestRunAbortedBetweenRecords(t *testing.T) {
	now := time.Now()
	p := newPipeline(t, &fakeBrowser{tableHTML: fixtureTable(now), confirmUpload: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := p.service.Run(ctx)
	if err == nil {
		t.Fatal("expected error for canceled run")
	}
	if summary.Relayed != 0 {
		t.Errorf("relayed = %d on a canceled run", summary.Relayed)
	}
}
