package dataset

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/agcensus/internal/fetcher"
	"github.com/sells-group/agcensus/internal/reconcile"
)

// Key columns of the wide table.
const (
	ColRegion = "state_name"
	ColCounty = "county_name"
	ColYear   = "year"
)

// ProvenanceSuffix names the per-metric reconstructed flag column.
const ProvenanceSuffix = "_estimated"

// WriteOptions controls dataset serialization.
type WriteOptions struct {
	// Provenance adds a <metric>_estimated column after each metric.
	Provenance bool
}

// Header returns the output header for d.
func (d *Dataset) Header(opts WriteOptions) []string {
	h := []string{ColRegion, ColCounty, ColYear}
	for _, c := range d.columns {
		h = append(h, c)
		if opts.Provenance {
			h = append(h, c+ProvenanceSuffix)
		}
	}
	return h
}

// Records returns the rows of d as string records matching Header.
func (d *Dataset) Records(opts WriteOptions) [][]string {
	out := make([][]string, 0, len(d.keys))
	for _, k := range d.keys {
		rec := []string{k.Region, k.County, strconv.Itoa(k.Year)}
		r := d.rows[k]
		for _, c := range d.columns {
			cell := r[c]
			rec = append(rec, FormatCell(cell))
			if opts.Provenance {
				rec = append(rec, formatFlag(cell))
			}
		}
		out = append(out, rec)
	}
	return out
}

// FormatCell renders a cell; nulls are empty.
func FormatCell(c Cell) string {
	if !c.Valid {
		return c.Raw
	}
	return FormatFloat(c.Value)
}

// FormatFloat renders v with the fewest digits that round-trip.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatFlag(c Cell) string {
	if !c.Valid {
		return ""
	}
	return strconv.FormatBool(c.Reconstructed)
}

// WriteCSV writes d as CSV.
func WriteCSV(w io.Writer, d *Dataset, opts WriteOptions) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(d.Header(opts)); err != nil {
		return eris.Wrap(err, "dataset: write header")
	}
	if err := cw.WriteAll(d.Records(opts)); err != nil {
		return eris.Wrap(err, "dataset: write rows")
	}
	return nil
}

// WriteCSVFile writes d to path, creating parent directories.
func WriteCSVFile(path string, d *Dataset, opts WriteOptions) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "dataset: create dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "dataset: create %s", path)
	}
	if err := WriteCSV(f, d, opts); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "dataset: close %s", path)
}

// ReadCSV loads a dataset written by WriteCSV or an older export with the
// same key columns. Region and county are upper-cased so keys from hand
// edited files match QuickStats names. Numeric cells parse; other text is
// kept for Coerce.
func ReadCSV(ctx context.Context, r io.Reader) (*Dataset, error) {
	rows, err := fetcher.ReadCSV(ctx, r, fetcher.CSVOptions{TrimSpace: true})
	if err != nil {
		return nil, eris.Wrap(err, "dataset: read csv")
	}
	if len(rows) == 0 {
		return nil, eris.New("dataset: empty csv")
	}

	header := rows[0]
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	for _, req := range []string{ColRegion, ColCounty, ColYear} {
		if _, ok := idx[req]; !ok {
			return nil, eris.Errorf("dataset: csv missing column %q", req)
		}
	}

	upper := cases.Upper(language.English)
	d := New()
	var metrics []string
	for _, h := range header {
		if h == ColRegion || h == ColCounty || h == ColYear || strings.HasSuffix(h, ProvenanceSuffix) {
			continue
		}
		metrics = append(metrics, h)
		d.AddColumn(h)
	}

	for line, rec := range rows[1:] {
		get := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return rec[i]
		}
		year, err := strconv.Atoi(get(ColYear))
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: csv line %d: bad year", line+2)
		}
		k := Key{Region: upper.String(get(ColRegion)), County: upper.String(get(ColCounty)), Year: year}
		if _, dup := d.rows[k]; dup {
			return nil, eris.Wrapf(ErrDuplicateKey, "csv line %d: %s", line+2, k)
		}
		row := d.row(k)
		for _, m := range metrics {
			raw := get(m)
			p := reconcile.ParseValue(raw)
			switch {
			case p.OK:
				row[m] = Cell{Value: p.Value, Valid: true, Reconstructed: parseFlag(get(m + ProvenanceSuffix))}
			case p.Withheld:
				// null
			default:
				row[m] = Cell{Raw: raw}
			}
		}
	}
	return d, nil
}

// ReadCSVFile loads a dataset from path.
func ReadCSVFile(ctx context.Context, path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return ReadCSV(ctx, f)
}

func parseFlag(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}
