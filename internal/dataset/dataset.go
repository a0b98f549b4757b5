package dataset

import (
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/agcensus/internal/reconcile"
)

// Cell is one value of the wide table. A cell loaded from an external file
// may carry unparsed text in Raw until Coerce runs.
type Cell struct {
	Value         float64
	Valid         bool
	Reconstructed bool
	Raw           string
}

// Num returns a valid numeric cell.
func Num(v float64) Cell { return Cell{Value: v, Valid: true} }

// Dataset is the merged wide table. Rows are unique by Key and kept in
// first-seen order.
type Dataset struct {
	columns []string
	keys    []Key
	rows    map[Key]map[string]Cell
}

// New returns an empty dataset.
func New() *Dataset {
	return &Dataset{rows: make(map[Key]map[string]Cell)}
}

// Merge outer-joins tables in order into a new dataset.
func Merge(tables ...*MetricTable) (*Dataset, error) {
	d := New()
	for _, t := range tables {
		if err := d.Merge(t); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Merge outer-joins t into d on Key. Keys new to d are appended with nulls
// for the existing columns. If d already has t.Metric, that column is
// replaced, so merging the same table twice leaves d unchanged.
func (d *Dataset) Merge(t *MetricTable) error {
	if t.Metric == "" {
		return eris.New("dataset: merge table without metric name")
	}
	if err := t.Validate(); err != nil {
		return err
	}

	if d.HasColumn(t.Metric) {
		for _, r := range d.rows {
			delete(r, t.Metric)
		}
	} else {
		d.columns = append(d.columns, t.Metric)
	}

	for _, row := range t.Rows {
		r := d.row(row.Key)
		r[t.Metric] = Cell{Value: row.Value, Valid: true, Reconstructed: row.Reconstructed}
	}
	return nil
}

func (d *Dataset) row(k Key) map[string]Cell {
	r, ok := d.rows[k]
	if !ok {
		r = make(map[string]Cell)
		d.rows[k] = r
		d.keys = append(d.keys, k)
	}
	return r
}

// AddColumn registers a column without adding values.
func (d *Dataset) AddColumn(name string) {
	if !d.HasColumn(name) {
		d.columns = append(d.columns, name)
	}
}

// HasColumn reports whether name is a column of d.
func (d *Dataset) HasColumn(name string) bool {
	return slices.Contains(d.columns, name)
}

// Columns returns the value columns in order.
func (d *Dataset) Columns() []string { return slices.Clone(d.columns) }

// Keys returns the row keys in order.
func (d *Dataset) Keys() []Key { return slices.Clone(d.keys) }

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.keys) }

// Get returns the cell at (k, col); missing cells are invalid.
func (d *Dataset) Get(k Key, col string) Cell {
	return d.rows[k][col]
}

// Set stores a cell, adding the row and column as needed.
func (d *Dataset) Set(k Key, col string, c Cell) {
	d.AddColumn(col)
	d.row(k)[col] = c
}

// Sort orders rows by key.
func (d *Dataset) Sort() {
	slices.SortFunc(d.keys, Key.Compare)
}

// Coerce re-parses cells holding residual text. Text that does not parse
// becomes null. It returns the number of nulled cells per column.
func (d *Dataset) Coerce() map[string]int {
	nulled := make(map[string]int)
	for _, k := range d.keys {
		r := d.rows[k]
		for col, c := range r {
			if c.Raw == "" {
				continue
			}
			p := reconcile.ParseValue(c.Raw)
			if p.OK {
				r[col] = Cell{Value: p.Value, Valid: true, Reconstructed: c.Reconstructed}
				continue
			}
			r[col] = Cell{}
			nulled[col]++
		}
	}
	return nulled
}

// Derived declares a column that is the null-safe sum of components.
type Derived struct {
	Name       string
	Components []string
}

// Derive computes each derived column whose components include at least
// one existing column. Missing components and null cells count as zero,
// so every row gets a value. It returns the names of derived columns.
func (d *Dataset) Derive(defs []Derived) []string {
	var added []string
	for _, def := range defs {
		var present []string
		for _, c := range def.Components {
			if d.HasColumn(c) {
				present = append(present, c)
			}
		}
		if len(present) == 0 {
			continue
		}

		d.AddColumn(def.Name)
		for _, k := range d.keys {
			r := d.rows[k]
			sum := 0.0
			for _, c := range present {
				if cell := r[c]; cell.Valid {
					sum += cell.Value
				}
			}
			r[def.Name] = Num(sum)
		}
		added = append(added, def.Name)
	}
	return added
}
