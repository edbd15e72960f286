// Package criteria decides which extracted records a run downloads.
package criteria

import (
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/models"
)

// Skip reasons reported by Evaluate.
const (
	ReasonWindow = "outside_window"
	ReasonRule   = "rule_not_matched"
)

// Service applies the two eligibility gates to a record: recency (strictly
// after the window start) and the configured rule set (any rule matching
// admits the record).
type Service struct {
	rules  []models.CriteriaRule
	logger arbor.ILogger
}

// NewService creates an evaluator over the configured rule set.
func NewService(rules []models.CriteriaRule, logger arbor.ILogger) *Service {
	return &Service{
		rules:  rules,
		logger: logger,
	}
}

// Evaluate reports whether the record is eligible for download. Both gates
// are required: the submission date must be strictly after windowStart, and
// at least one configured rule must match the record's distance and amount.
// When ineligible, the skip reason is returned.
func (s *Service) Evaluate(rec models.Record, windowStart time.Time) (bool, string) {
	if !rec.SubmissionDate.After(windowStart) {
		s.logger.Debug().
			Str("record_id", rec.ID).
			Str("submission_date", rec.SubmissionDate.Format(models.SubmissionDateFormat)).
			Msg("Record outside recency window")
		return false, ReasonWindow
	}

	for _, rule := range s.rules {
		if rule.Matches(rec.DistanceKm, rec.Amount) {
			s.logger.Debug().
				Str("record_id", rec.ID).
				Str("rule", rule.Name).
				Msg("Record matched criteria rule")
			return true, ""
		}
	}

	return false, ReasonRule
}
