// Package cache persists reconciled metric tables between runs. Each entry
// is <dir>/<metric>.csv plus a <metric>.meta.yaml manifest describing the
// query that produced it.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/agcensus/internal/dataset"
	"github.com/sells-group/agcensus/internal/fetcher"
)

var (
	// ErrMiss is returned when no entry exists for a metric.
	ErrMiss = eris.New("cache: miss")
	// ErrStale is returned when an entry exists but no longer matches the
	// query or has outlived the configured max age.
	ErrStale = eris.New("cache: stale")
)

const (
	tableExt    = ".csv"
	manifestExt = ".meta.yaml"
)

var tableHeader = []string{"state_name", "county_name", "year", "Value", "is_estimated"}

// Query describes what a cached table was fetched with.
type Query struct {
	Metric      string
	Description string
	Filters     map[string]string
	Regions     []string
	Year        int
	Source      string
	AggLevel    string
}

// Fingerprint is a stable hash of everything that affects the fetched rows.
func (q Query) Fingerprint() string {
	var b strings.Builder
	b.WriteString(q.Metric + "\n" + q.Description + "\n")
	keys := make([]string, 0, len(q.Filters))
	for k := range q.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k + "=" + q.Filters[k] + "\n")
	}
	b.WriteString(strings.Join(q.Regions, ",") + "\n")
	b.WriteString(strconv.Itoa(q.Year) + "\n" + q.Source + "\n" + q.AggLevel)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

// Manifest is the YAML sidecar of a cache entry.
type Manifest struct {
	Metric        string            `yaml:"metric"`
	Description   string            `yaml:"description"`
	Filters       map[string]string `yaml:"filters,omitempty"`
	Regions       []string          `yaml:"regions"`
	Year          int               `yaml:"year"`
	Source        string            `yaml:"source"`
	AggLevel      string            `yaml:"agg_level"`
	FetchedAt     time.Time         `yaml:"fetched_at"`
	Rows          int               `yaml:"rows"`
	Reconstructed int               `yaml:"reconstructed"`
	Fingerprint   string            `yaml:"fingerprint"`
	// Legacy marks a table found without a manifest.
	Legacy bool `yaml:"-"`
}

// Store is a directory of cache entries.
type Store struct {
	dir    string
	maxAge time.Duration
	now    func() time.Time
}

// New returns a store rooted at dir. A zero maxAge disables expiry.
func New(dir string, maxAge time.Duration) *Store {
	return &Store{dir: dir, maxAge: maxAge, now: time.Now}
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

// checkName rejects metric names that would resolve outside the cache dir.
func checkName(metric string) error {
	if metric == "" || metric == "." || metric == ".." || strings.ContainsAny(metric, `/\`) {
		return eris.Errorf("cache: invalid metric name %q", metric)
	}
	return nil
}

func (s *Store) tablePath(metric string) string {
	return filepath.Join(s.dir, metric+tableExt)
}

func (s *Store) manifestPath(metric string) string {
	return filepath.Join(s.dir, metric+manifestExt)
}

// Load returns the cached table for q. It returns ErrMiss when nothing is
// cached and ErrStale (with the manifest) when the entry does not match q
// or is too old. A table without a manifest is accepted as a legacy entry.
func (s *Store) Load(ctx context.Context, q Query) (*dataset.MetricTable, *Manifest, error) {
	if err := checkName(q.Metric); err != nil {
		return nil, nil, err
	}
	if _, err := os.Stat(s.tablePath(q.Metric)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrMiss
		}
		return nil, nil, eris.Wrapf(err, "cache: stat %s", q.Metric)
	}

	m, err := s.readManifest(q.Metric)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		m = &Manifest{Metric: q.Metric, Legacy: true}
	case err != nil:
		return nil, nil, err
	default:
		if m.Fingerprint != q.Fingerprint() {
			return nil, m, eris.Wrapf(ErrStale, "%s: query changed", q.Metric)
		}
		if s.maxAge > 0 && s.now().Sub(m.FetchedAt) > s.maxAge {
			return nil, m, eris.Wrapf(ErrStale, "%s: fetched %s ago", q.Metric, s.now().Sub(m.FetchedAt).Round(time.Minute))
		}
	}

	t, err := s.readTable(ctx, q.Metric)
	if err != nil {
		return nil, m, err
	}
	if m.Legacy {
		m.Rows = t.Len()
		m.Reconstructed = t.Reconstructed()
	}
	return t, m, nil
}

// Save writes t and its manifest, replacing any existing entry.
func (s *Store) Save(q Query, t *dataset.MetricTable) (*Manifest, error) {
	if err := checkName(q.Metric); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "cache: create dir %s", s.dir)
	}

	rows := make([][]string, 0, t.Len()+1)
	rows = append(rows, tableHeader)
	for _, r := range t.Rows {
		rows = append(rows, []string{
			r.Region, r.County, strconv.Itoa(r.Year),
			dataset.FormatFloat(r.Value), strconv.FormatBool(r.Reconstructed),
		})
	}
	if err := writeAtomic(s.tablePath(q.Metric), func(f *os.File) error {
		return csv.NewWriter(f).WriteAll(rows)
	}); err != nil {
		return nil, eris.Wrapf(err, "cache: write table %s", q.Metric)
	}

	m := &Manifest{
		Metric:        q.Metric,
		Description:   q.Description,
		Filters:       q.Filters,
		Regions:       q.Regions,
		Year:          q.Year,
		Source:        q.Source,
		AggLevel:      q.AggLevel,
		FetchedAt:     s.now().UTC().Truncate(time.Second),
		Rows:          t.Len(),
		Reconstructed: t.Reconstructed(),
		Fingerprint:   q.Fingerprint(),
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, eris.Wrap(err, "cache: marshal manifest")
	}
	if err := writeAtomic(s.manifestPath(q.Metric), func(f *os.File) error {
		_, err := f.Write(data)
		return err
	}); err != nil {
		return nil, eris.Wrapf(err, "cache: write manifest %s", q.Metric)
	}
	return m, nil
}

// Bust removes the entries for names, or every entry when names is empty.
// It returns the metrics removed.
func (s *Store) Bust(names ...string) ([]string, error) {
	if len(names) == 0 {
		all, err := s.metrics()
		if err != nil {
			return nil, err
		}
		names = all
	}

	for _, n := range names {
		if err := checkName(n); err != nil {
			return nil, err
		}
	}

	var removed []string
	for _, n := range names {
		found := false
		for _, p := range []string{s.tablePath(n), s.manifestPath(n)} {
			err := os.Remove(p)
			switch {
			case err == nil:
				found = true
			case errors.Is(err, fs.ErrNotExist):
			default:
				return removed, eris.Wrapf(err, "cache: remove %s", p)
			}
		}
		if found {
			removed = append(removed, n)
		}
	}
	return removed, nil
}

// List returns the manifests of every entry sorted by metric. Tables
// without a manifest are listed as legacy entries.
func (s *Store) List() ([]Manifest, error) {
	names, err := s.metrics()
	if err != nil {
		return nil, err
	}
	out := make([]Manifest, 0, len(names))
	for _, n := range names {
		m, err := s.readManifest(n)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
			m = &Manifest{Metric: n, Legacy: true}
		}
		out = append(out, *m)
	}
	return out, nil
}

func (s *Store) metrics() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "cache: read dir %s", s.dir)
	}
	seen := map[string]bool{}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		var metric string
		switch {
		case strings.HasSuffix(name, manifestExt):
			metric = strings.TrimSuffix(name, manifestExt)
		case strings.HasSuffix(name, tableExt):
			metric = strings.TrimSuffix(name, tableExt)
		default:
			continue
		}
		if !seen[metric] {
			seen[metric] = true
			names = append(names, metric)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) readManifest(metric string) (*Manifest, error) {
	data, err := os.ReadFile(s.manifestPath(metric))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, eris.Wrapf(err, "cache: read manifest %s", metric)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "cache: parse manifest %s", metric)
	}
	return &m, nil
}

func (s *Store) readTable(ctx context.Context, metric string) (*dataset.MetricTable, error) {
	f, err := os.Open(s.tablePath(metric))
	if err != nil {
		return nil, eris.Wrapf(err, "cache: open table %s", metric)
	}
	defer f.Close() //nolint:errcheck

	rows, err := fetcher.ReadCSV(ctx, f, fetcher.CSVOptions{})
	if err != nil {
		return nil, eris.Wrapf(err, "cache: read table %s", metric)
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("cache: table %s is empty", metric)
	}

	idx := map[string]int{}
	for i, h := range rows[0] {
		idx[h] = i
	}
	for _, h := range tableHeader[:4] {
		if _, ok := idx[h]; !ok {
			return nil, eris.Errorf("cache: table %s missing column %q", metric, h)
		}
	}

	t := &dataset.MetricTable{Metric: metric}
	for line, rec := range rows[1:] {
		if len(rec) < len(idx) {
			return nil, eris.Errorf("cache: table %s line %d: short row", metric, line+2)
		}
		year, err := strconv.Atoi(rec[idx["year"]])
		if err != nil {
			return nil, eris.Wrapf(err, "cache: table %s line %d: year", metric, line+2)
		}
		v, err := strconv.ParseFloat(rec[idx["Value"]], 64)
		if err != nil {
			return nil, eris.Wrapf(err, "cache: table %s line %d: value", metric, line+2)
		}
		var est bool
		if i, ok := idx["is_estimated"]; ok {
			est, _ = strconv.ParseBool(rec[i])
		}
		t.Rows = append(t.Rows, dataset.Row{
			Key:           dataset.Key{Region: rec[idx["state_name"]], County: rec[idx["county_name"]], Year: year},
			Value:         v,
			Reconstructed: est,
		})
	}
	return t, nil
}

func writeAtomic(path string, write func(f *os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path))
	if err != nil {
		return err
	}
	if err := write(tmp); err != nil {
		tmp.Close()           //nolint:errcheck
		os.Remove(tmp.Name()) //nolint:errcheck
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return err
	}
	return os.Rename(tmp.Name(), path)
}
