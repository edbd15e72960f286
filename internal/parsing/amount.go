// Package parsing converts locale-formatted listing values (currency amounts
// with "." thousands separators and "," decimals, distances with a " km"
// suffix) into plain numbers.
package parsing

import (
	"math"
	"strconv"
	"strings"
)

// ParseAmount converts a currency string such as "1.500.000,00 €" to a float.
// The currency symbol and whitespace are stripped, the fraction is whatever
// follows the last comma, and grouping separators ("." normally, "," in
// mixed-locale exports) are removed from the integer part. Empty or
// unparseable input yields 0 with ok=false so the caller can log a parse
// warning; it is never fatal.
func ParseAmount(text string) (float64, bool) {
	cleaned := strings.NewReplacer("€", "", "EUR", "").Replace(text)
	cleaned = strings.Join(strings.Fields(cleaned), "")
	if cleaned == "" {
		return 0, false
	}

	intPart := cleaned
	fracPart := "0"
	if i := strings.LastIndex(cleaned, ","); i >= 0 {
		intPart = cleaned[:i]
		if frac := cleaned[i+1:]; frac != "" {
			fracPart = frac
		}
	}
	intPart = strings.NewReplacer(".", "", ",", "").Replace(intPart)

	value, err := strconv.ParseFloat(intPart+"."+fracPart, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// ParseDistance converts a distance string such as "85 km" to a float.
// Absent or unparseable input yields +Inf with ok=false: an unknown distance
// never satisfies a "distance <= D" clause but always satisfies "distance > D".
func ParseDistance(text string) (float64, bool) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimSuffix(cleaned, "km")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return math.Inf(1), false
	}

	// Distances occasionally use the decimal comma as well ("85,5 km").
	cleaned = strings.ReplaceAll(cleaned, ",", ".")

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return math.Inf(1), false
	}
	return value, true
}
