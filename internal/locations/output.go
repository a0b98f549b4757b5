package locations

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/agcensus/pkg/geocode"
)

// maxDBFString is the widest character field a dBase file allows.
const maxDBFString = 254

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// outputHeader returns the header with Latitude and Longitude columns,
// reusing existing ones, and their indexes.
func outputHeader(header []string) ([]string, int, int) {
	out := slices.Clone(header)
	lat := slices.Index(out, ColLatitude)
	if lat < 0 {
		out = append(out, ColLatitude)
		lat = len(out) - 1
	}
	lon := slices.Index(out, ColLongitude)
	if lon < 0 {
		out = append(out, ColLongitude)
		lon = len(out) - 1
	}
	return out, lat, lon
}

// WriteCSV writes the input columns plus Latitude and Longitude. Rows that
// were not geocoded get empty coordinates.
func WriteCSV(path string, t *Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "locations: create dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "locations: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	header, lat, lon := outputHeader(t.Header)
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return eris.Wrap(err, "locations: write header")
	}
	for i, row := range t.Rows {
		rec := make([]string, len(header))
		copy(rec, row)
		rec[lat], rec[lon] = "", ""
		if r := t.result(i); r != nil {
			rec[lat], rec[lon] = formatCoord(r.Latitude), formatCoord(r.Longitude)
		}
		if err := w.Write(rec); err != nil {
			return eris.Wrapf(err, "locations: write row %d", i+1)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "locations: flush csv")
	}
	return eris.Wrapf(f.Close(), "locations: close %s", path)
}

// WriteGeoJSON writes a FeatureCollection with one point per geocoded row.
// Input columns become feature properties.
func WriteGeoJSON(path string, t *Table) error {
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	for i, row := range t.Rows {
		r := t.result(i)
		if r == nil {
			continue
		}
		props := make(map[string]any, len(t.Header)+1)
		for j, h := range t.Header {
			if h == ColLatitude || h == ColLongitude {
				continue
			}
			props[h] = row[j]
		}
		props["geocode_source"] = r.Source
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         strconv.Itoa(i + 1),
			Geometry:   geom.NewPointFlat(geom.XY, []float64{r.Longitude, r.Latitude}),
			Properties: props,
		})
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return eris.Wrap(err, "locations: encode geojson")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "locations: create dir for %s", path)
	}
	return eris.Wrapf(os.WriteFile(path, data, 0o644), "locations: write %s", path)
}

// WriteShapefile writes a point shapefile of the geocoded rows. Input
// columns become character attributes with dBase-safe names.
func WriteShapefile(path string, t *Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "locations: create dir for %s", path)
	}

	var cols []int
	for j, h := range t.Header {
		if h != ColLatitude && h != ColLongitude {
			cols = append(cols, j)
		}
	}
	names := dbfFieldNames(t.Header, cols)
	fields := make([]shp.Field, len(cols))
	for k, j := range cols {
		width := 1
		for i, row := range t.Rows {
			if t.result(i) != nil {
				width = max(width, min(len(row[j]), maxDBFString))
			}
		}
		fields[k] = shp.StringField(names[k], uint8(width))
	}

	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		return eris.Wrapf(err, "locations: create shapefile %s", path)
	}
	werr := writeShapes(w, t, cols, names, fields)
	w.Close()
	if werr != nil {
		return werr
	}

	// go-shp names the attribute table "<base>dbf"; readers look for "<base>.dbf".
	base := shapefileBase(path)
	if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
		return eris.Wrapf(err, "locations: rename attribute table for %s", path)
	}
	return nil
}

func writeShapes(w *shp.Writer, t *Table, cols []int, names []string, fields []shp.Field) error {
	if err := w.SetFields(fields); err != nil {
		return eris.Wrap(err, "locations: set shapefile fields")
	}
	for i, row := range t.Rows {
		r := t.result(i)
		if r == nil {
			continue
		}
		n := w.Write(&shp.Point{X: r.Longitude, Y: r.Latitude})
		for k, j := range cols {
			v := row[j]
			if len(v) > maxDBFString {
				v = v[:maxDBFString]
			}
			if err := w.WriteAttribute(int(n), k, v); err != nil {
				return eris.Wrapf(err, "locations: write attribute %s row %d", names[k], i+1)
			}
		}
	}
	return nil
}

// shapefileBase strips a ".shp" extension the way shp.Create does.
func shapefileBase(path string) string {
	if strings.HasSuffix(strings.ToLower(path), ".shp") {
		return path[:len(path)-len(".shp")]
	}
	return path
}

// dbfFieldNames derives unique upper-case names of at most 10 characters.
func dbfFieldNames(header []string, cols []int) []string {
	seen := map[string]bool{}
	out := make([]string, len(cols))
	for k, j := range cols {
		base := strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z':
				return r - 'a' + 'A'
			case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
				return r
			default:
				return '_'
			}
		}, header[j])
		if base == "" {
			base = "FIELD"
		}
		if len(base) > 10 {
			base = base[:10]
		}
		name := base
		for n := 1; seen[name]; n++ {
			suffix := strconv.Itoa(n)
			name = base[:min(len(base), 10-len(suffix))] + suffix
		}
		seen[name] = true
		out[k] = name
	}
	return out
}

func (t *Table) result(i int) *geocode.Result {
	if i >= len(t.Results) {
		return nil
	}
	return t.Results[i]
}
