package dataset

// ColumnStats summarizes the coverage of one column.
type ColumnStats struct {
	Column        string
	NonNull       int
	Total         int
	Reconstructed int
}

// Percent returns the share of rows with a value, 0-100.
func (s ColumnStats) Percent() float64 {
	if s.Total == 0 {
		return 0
	}
	return 100 * float64(s.NonNull) / float64(s.Total)
}

// Symbol grades coverage: ✓ above 50%, ⚠ above 10%, ✗ otherwise.
func (s ColumnStats) Symbol() string {
	switch p := s.Percent(); {
	case p > 50:
		return "✓"
	case p > 10:
		return "⚠"
	default:
		return "✗"
	}
}

// Completeness returns coverage stats for cols, or every column when cols
// is empty.
func (d *Dataset) Completeness(cols ...string) []ColumnStats {
	if len(cols) == 0 {
		cols = d.columns
	}
	out := make([]ColumnStats, 0, len(cols))
	for _, c := range cols {
		s := ColumnStats{Column: c, Total: len(d.keys)}
		for _, k := range d.keys {
			cell := d.rows[k][c]
			if !cell.Valid {
				continue
			}
			s.NonNull++
			if cell.Reconstructed {
				s.Reconstructed++
			}
		}
		out = append(out, s)
	}
	return out
}

// Regions returns the distinct regions in row order.
func (d *Dataset) Regions() []string {
	seen := map[string]bool{}
	var out []string
	for _, k := range d.keys {
		if !seen[k.Region] {
			seen[k.Region] = true
			out = append(out, k.Region)
		}
	}
	return out
}
