package models

import (
	"math"
	"time"
)

// SubmissionDateFormat is the date layout used by the listing table.
const SubmissionDateFormat = "02.01.2006"

// Record represents one normalized listing entry from the results table.
// A row missing its identifier or submission date is malformed and is
// dropped at extraction time.
type Record struct {
	ID             string    `json:"id"`
	SubmissionDate time.Time `json:"submission_date"`
	Name           string    `json:"name"`
	SourceLink     string    `json:"source_link"`
	// DistanceKm is +Inf when the listing carries no distance value, so an
	// unknown distance never satisfies a "distance <= D" clause.
	DistanceKm    float64 `json:"distance_km"`
	DistanceKnown bool    `json:"distance_known"`
	// Amount defaults to 0 when absent, so an unknown amount never clears
	// a minimum-amount threshold.
	Amount      float64 `json:"amount"`
	AmountKnown bool    `json:"amount_known"`
}

// NewRecord returns a Record with the absent-value defaults applied.
func NewRecord() Record {
	return Record{DistanceKm: math.Inf(1)}
}

// Valid reports whether the record carries the fields required for processing.
func (r Record) Valid() bool {
	return r.ID != "" && !r.SubmissionDate.IsZero()
}

// Watermark is the durable incremental-scan state: the latest submission date
// (and the identifier of the record carrying it) known to have been fully
// relayed. It only ever moves forward.
type Watermark struct {
	LastDate      time.Time
	LastProjectID string
}

// IsZero reports whether no watermark has been committed yet.
func (w Watermark) IsZero() bool {
	return w.LastDate.IsZero()
}

// Advance moves the watermark forward to the given date and record id.
// Calls with a date at or before the current watermark are ignored, so the
// watermark never regresses regardless of processing order.
func (w *Watermark) Advance(date time.Time, projectID string) {
	if date.After(w.LastDate) {
		w.LastDate = date
		w.LastProjectID = projectID
	}
}

// Cutoff returns the recency-window start for a run: the watermark date when
// one exists, otherwise windowDays before now.
func (w Watermark) Cutoff(now time.Time, windowDays int) time.Time {
	if !w.IsZero() {
		return w.LastDate
	}
	return now.AddDate(0, 0, -windowDays)
}

// DownloadResult describes a completed artifact download. It is only produced
// once the file exists on disk with nonzero size inside the download timeout.
type DownloadResult struct {
	Filename    string    `json:"filename"`
	LocalPath   string    `json:"local_path"`
	SizeBytes   int64     `json:"size_bytes"`
	CompletedAt time.Time `json:"completed_at"`
}

// RecordOutcome is the terminal state of one record within a run.
// Only OutcomeRelayed contributes to watermark advancement; every other
// outcome leaves the record eligible for reprocessing on the next run.
type RecordOutcome string

const (
	OutcomeSkippedWindow   RecordOutcome = "skipped_window"
	OutcomeSkippedRule     RecordOutcome = "skipped_rule"
	OutcomeDownloadTimeout RecordOutcome = "download_timeout"
	OutcomeRelayFailed     RecordOutcome = "relay_failed"
	OutcomeRelayed         RecordOutcome = "relayed"
	OutcomeError           RecordOutcome = "error"
)

// RecordResult pairs a record with its terminal outcome for run history.
type RecordResult struct {
	RecordID       string        `json:"record_id"`
	Name           string        `json:"name"`
	SubmissionDate time.Time     `json:"submission_date"`
	Outcome        RecordOutcome `json:"outcome"`
	Detail         string        `json:"detail,omitempty"`
}

// RunStatus represents the overall state of a harvest run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunSummary is the persisted outcome of a single harvest run.
type RunSummary struct {
	RunID       string         `json:"run_id"`
	Status      RunStatus      `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Scanned     int            `json:"scanned"`
	Malformed   int            `json:"malformed"`
	Eligible    int            `json:"eligible"`
	Downloaded  int            `json:"downloaded"`
	Relayed     int            `json:"relayed"`
	Skipped     int            `json:"skipped"`
	Failed      int            `json:"failed"`
	Warnings    int            `json:"warnings"`
	Error       string         `json:"error,omitempty"`
	Records     []RecordResult `json:"records,omitempty"`
}

// RecordOutcomeFor appends a record result and updates the summary counters.
func (s *RunSummary) RecordOutcomeFor(rec Record, outcome RecordOutcome, detail string) {
	s.Records = append(s.Records, RecordResult{
		RecordID:       rec.ID,
		Name:           rec.Name,
		SubmissionDate: rec.SubmissionDate,
		Outcome:        outcome,
		Detail:         detail,
	})

	switch outcome {
	case OutcomeSkippedWindow, OutcomeSkippedRule:
		s.Skipped++
	case OutcomeRelayed:
		s.Relayed++
	case OutcomeDownloadTimeout, OutcomeRelayFailed, OutcomeError:
		s.Failed++
	}
}
