// Package reconcile turns the QuickStats records for one county into a
// single value, reconstructing withheld totals from disclosed
// subcategories. Everything here is pure.
package reconcile

import (
	"strconv"
	"strings"
)

// WithheldMarker is the QuickStats token for a value suppressed to avoid
// disclosing data for individual operations.
const WithheldMarker = "(D)"

// Parsed is the result of normalizing a raw value string.
type Parsed struct {
	Value float64
	// OK reports whether Value holds a number.
	OK bool
	// Withheld is set when the raw text was empty or the withheld marker.
	// An unparseable string is neither OK nor Withheld.
	Withheld bool
}

// ParseValue normalizes a raw QuickStats value: surrounding whitespace and
// thousands separators are removed before parsing.
func ParseValue(raw string) Parsed {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if s == "" || s == WithheldMarker {
		return Parsed{Withheld: true}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Parsed{}
	}
	return Parsed{Value: v, OK: true}
}
