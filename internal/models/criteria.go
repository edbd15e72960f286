package models

// DistanceCmp selects which side of the distance threshold a clause covers.
type DistanceCmp string

const (
	// DistanceLTE matches records at or inside the threshold distance.
	DistanceLTE DistanceCmp = "lte"
	// DistanceGT matches records beyond the threshold distance.
	DistanceGT DistanceCmp = "gt"
)

// Clause is a single distance/amount predicate. A clause matches when the
// distance comparison holds and the (adjusted) amount meets the minimum.
type Clause struct {
	DistanceCmp DistanceCmp `json:"distance_cmp"`
	DistanceKm  float64     `json:"distance_km"`
	MinAmount   float64     `json:"min_amount"`
}

func (c Clause) matches(distanceKm, amount float64) bool {
	switch c.DistanceCmp {
	case DistanceLTE:
		if distanceKm > c.DistanceKm {
			return false
		}
	case DistanceGT:
		if distanceKm <= c.DistanceKm {
			return false
		}
	default:
		return false
	}
	return amount >= c.MinAmount
}

// CriteriaRule is a named disjunction of clauses over (distance, amount).
// Rules are configuration data; the historical per-threshold script variants
// collapse into one evaluator parameterized by rules like
// "distance <= 100 and amount >= 1,500,000 OR distance > 100 and amount >= 3,000,000".
type CriteriaRule struct {
	Name string `json:"name"`
	// AmountDivisor is applied to the record amount before threshold
	// comparison (e.g. 1.19 to compare net rather than gross). Zero or one
	// leaves the amount untouched.
	AmountDivisor float64  `json:"amount_divisor,omitempty"`
	Clauses       []Clause `json:"clauses"`
}

// Matches evaluates the rule against a record's distance and amount.
// The first matching clause wins; clause order is the configured order.
func (r CriteriaRule) Matches(distanceKm, amount float64) bool {
	if r.AmountDivisor > 0 && r.AmountDivisor != 1 {
		amount = amount / r.AmountDivisor
	}
	for _, clause := range r.Clauses {
		if clause.matches(distanceKm, amount) {
			return true
		}
	}
	return false
}
