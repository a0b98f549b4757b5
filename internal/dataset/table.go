// Package dataset assembles per-metric county tables into one wide table
// keyed by (region, county, year).
package dataset

import (
	"cmp"
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrDuplicateKey is returned when a table holds two rows for one key.
var ErrDuplicateKey = eris.New("dataset: duplicate key")

// Key identifies a county row. Region is the requested state alpha code.
type Key struct {
	Region string
	County string
	Year   int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Region, k.County, k.Year)
}

// Compare orders keys by region, county, then year.
func (k Key) Compare(o Key) int {
	if c := cmp.Compare(k.Region, o.Region); c != 0 {
		return c
	}
	if c := cmp.Compare(k.County, o.County); c != 0 {
		return c
	}
	return cmp.Compare(k.Year, o.Year)
}

// Row is one reconciled county value.
type Row struct {
	Key
	Value         float64
	Reconstructed bool
}

// MetricTable holds the reconciled values of one metric. Counties without
// a value have no row.
type MetricTable struct {
	Metric string
	Rows   []Row
}

// Len returns the number of rows.
func (t *MetricTable) Len() int { return len(t.Rows) }

// Reconstructed returns the number of reconstructed rows.
func (t *MetricTable) Reconstructed() int {
	n := 0
	for _, r := range t.Rows {
		if r.Reconstructed {
			n++
		}
	}
	return n
}

// Validate checks that every key appears once.
func (t *MetricTable) Validate() error {
	seen := make(map[Key]struct{}, len(t.Rows))
	for _, r := range t.Rows {
		if _, dup := seen[r.Key]; dup {
			return eris.Wrapf(ErrDuplicateKey, "metric %s: %s", t.Metric, r.Key)
		}
		seen[r.Key] = struct{}{}
	}
	return nil
}
