// Package locations geocodes a table of street addresses and writes the
// coordinates back out as CSV, GeoJSON or a point shapefile.
package locations

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/agcensus/internal/config"
	"github.com/sells-group/agcensus/internal/fetcher"
	"github.com/sells-group/agcensus/pkg/geocode"
)

// ErrInputNotFound is returned when the input file does not exist.
var ErrInputNotFound = eris.New("locations: input file not found")

const (
	ColLatitude  = "Latitude"
	ColLongitude = "Longitude"
)

// Options configures a geocoding run.
type Options struct {
	Input     string
	Output    string
	GeoJSON   string // optional FeatureCollection output
	Shapefile string // optional point shapefile output (.shp)
	Columns   config.GeocodeColumns
}

// Summary counts the outcome of a run.
type Summary struct {
	Total      int
	Successful int
	Failed     int
	Skipped    int // rows with no address component; counted in Failed too
}

// Table is the input rows with their geocoding results.
type Table struct {
	Header  []string
	Rows    [][]string
	Results []*geocode.Result // nil when the row was not geocoded
}

// Run reads opts.Input, geocodes each row in order and writes the outputs.
func Run(ctx context.Context, client geocode.Client, opts Options, log *zap.Logger) (*Summary, error) {
	if log == nil {
		log = zap.NewNop()
	}

	t, err := ReadTable(ctx, opts.Input)
	if err != nil {
		return nil, err
	}
	mapping, err := resolveColumns(t.Header, opts.Columns)
	if err != nil {
		return nil, err
	}

	sum := &Summary{Total: len(t.Rows)}
	log.Info("starting geocoding", zap.String("input", opts.Input), zap.Int("rows", sum.Total))

	t.Results = make([]*geocode.Result, len(t.Rows))
	for i, row := range t.Rows {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		rlog := log.With(zap.Int("row", i+1), zap.Int("total", sum.Total))

		addr := mapping.address(row)
		if addr.Empty() {
			rlog.Info("no address fields, skipped")
			sum.Skipped++
			sum.Failed++
			continue
		}

		res, err := client.Geocode(ctx, addr)
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			rlog.Warn("geocode failed", zap.Error(err))
			sum.Failed++
			continue
		}
		if !res.Matched {
			rlog.Info("no results")
			sum.Failed++
			continue
		}
		t.Results[i] = res
		sum.Successful++
		rlog.Info("geocoded",
			zap.Float64("lat", res.Latitude),
			zap.Float64("lon", res.Longitude),
			zap.String("source", res.Source),
		)
	}

	if err := WriteCSV(opts.Output, t); err != nil {
		return sum, err
	}
	if opts.GeoJSON != "" {
		if err := WriteGeoJSON(opts.GeoJSON, t); err != nil {
			return sum, err
		}
	}
	if opts.Shapefile != "" {
		if err := WriteShapefile(opts.Shapefile, t); err != nil {
			return sum, err
		}
	}

	log.Info("geocoding complete",
		zap.String("output", opts.Output),
		zap.Int("successful", sum.Successful),
		zap.Int("failed", sum.Failed),
		zap.Int("total", sum.Total),
	)
	return sum, nil
}

// ReadTable loads a CSV file, or an XLSX workbook's first sheet when the
// extension is .xlsx. The first row is the header; short rows are padded.
func ReadTable(ctx context.Context, path string) (*Table, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, eris.Wrapf(ErrInputNotFound, "%s", path)
		}
		return nil, eris.Wrapf(err, "locations: stat %s", path)
	}

	var (
		rows [][]string
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		rows, err = fetcher.ReadXLSX(path, fetcher.XLSXOptions{SkipBlank: true})
	} else {
		var f *os.File
		f, err = os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "locations: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		rows, err = fetcher.ReadCSV(ctx, f, fetcher.CSVOptions{})
	}
	if err != nil {
		return nil, eris.Wrapf(err, "locations: read %s", path)
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("locations: %s has no header row", path)
	}

	header := rows[0]
	t := &Table{Header: header}
	for _, r := range rows[1:] {
		if len(r) < len(header) {
			r = append(r, make([]string, len(header)-len(r))...)
		}
		t.Rows = append(t.Rows, r)
	}
	return t, nil
}

type columnMapping struct {
	street, city, state, postal, country int
}

// resolveColumns maps each configured header name to its index. Unmapped
// components get -1. A mapped header missing from the file is an error
// listing the available columns.
func resolveColumns(header []string, cols config.GeocodeColumns) (columnMapping, error) {
	var missing []string
	idx := func(name string) int {
		if name == "" {
			return -1
		}
		i := slices.Index(header, name)
		if i < 0 {
			missing = append(missing, name)
		}
		return i
	}
	m := columnMapping{
		street:  idx(cols.Street),
		city:    idx(cols.City),
		state:   idx(cols.State),
		postal:  idx(cols.PostalCode),
		country: idx(cols.Country),
	}
	if len(missing) > 0 {
		return m, eris.Errorf("locations: columns missing from input: %s (available columns: %s)",
			strings.Join(missing, ", "), strings.Join(header, ", "))
	}
	return m, nil
}

func (m columnMapping) address(row []string) geocode.AddressInput {
	cell := func(i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	return geocode.AddressInput{
		Street:     cell(m.street),
		City:       cell(m.city),
		State:      cell(m.state),
		PostalCode: cell(m.postal),
		Country:    cell(m.country),
	}
}
