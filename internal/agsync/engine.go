package agsync

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/agcensus/internal/config"
	"github.com/sells-group/agcensus/internal/dataset"
	"github.com/sells-group/agcensus/internal/store"
)

// ErrNoData is returned when no selected metric produced any rows.
var ErrNoData = eris.New("agsync: no data retrieved for any metric")

// Engine orchestrates a fetch run: every selected metric is fetched in
// catalog order, merged, cleaned and written.
type Engine struct {
	cfg     *config.Config
	fetcher *Fetcher
	ledger  store.Store
	log     *zap.Logger
}

// RunOpts configures one run.
type RunOpts struct {
	Metrics   []string // restrict to these metric names, in catalog order
	Refresh   bool     // ignore cached tables
	MergeInto string   // existing dataset CSV to merge new columns into
	Output    string   // overrides cfg.Output.Path
	Format    string   // overrides cfg.Output.Format
}

// RunResult summarizes a completed run.
type RunResult struct {
	RunID        string
	Dataset      *dataset.Dataset
	Stats        []MetricStats
	Empty        []string
	Derived      []string
	Nulled       map[string]int
	Completeness []dataset.ColumnStats
	Output       string
	Elapsed      time.Duration
}

// NewEngine creates an engine. A nil ledger disables run recording.
func NewEngine(cfg *config.Config, f *Fetcher, ledger store.Store, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{cfg: cfg, fetcher: f, ledger: ledger, log: log}
}

// SelectMetrics returns the catalog entries named in names, in catalog
// order. An empty names selects the whole catalog.
func SelectMetrics(catalog []config.MetricConfig, names []string) ([]config.MetricConfig, error) {
	if len(names) == 0 {
		return catalog, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []config.MetricConfig
	for _, m := range catalog {
		if want[m.Name] {
			out = append(out, m)
			delete(want, m.Name)
		}
	}
	for _, n := range names {
		if want[n] {
			return nil, eris.Errorf("agsync: unknown metric %q", n)
		}
	}
	return out, nil
}

// Run fetches the selected metrics and writes the merged dataset.
func (e *Engine) Run(ctx context.Context, opts RunOpts) (*RunResult, error) {
	log := e.log.With(zap.String("component", "agsync.engine"))
	start := time.Now()

	metrics, err := SelectMetrics(e.cfg.Metrics, opts.Metrics)
	if err != nil {
		return nil, err
	}

	res := &RunResult{
		Output: firstNonEmpty(opts.Output, e.cfg.Output.Path),
		Nulled: map[string]int{},
	}
	format := firstNonEmpty(opts.Format, e.cfg.Output.Format)

	if e.ledger != nil {
		run, err := e.ledger.CreateRun(ctx, "fetch")
		if err != nil {
			return nil, eris.Wrap(err, "agsync: create run")
		}
		res.RunID = run.ID
		log = log.With(zap.String("run_id", run.ID))
	}

	log.Info("starting fetch",
		zap.Strings("regions", e.cfg.Regions),
		zap.Int("metrics", len(metrics)),
		zap.Bool("refresh", opts.Refresh),
	)

	if err := e.run(ctx, log, metrics, opts, format, res); err != nil {
		e.fail(log, res.RunID, err)
		return nil, err
	}

	res.Elapsed = time.Since(start)
	if e.ledger != nil {
		summary := store.RunSummary{Rows: res.Dataset.Len(), Metrics: len(res.Stats) - len(res.Empty), Output: res.Output}
		if err := e.ledger.CompleteRun(ctx, res.RunID, summary); err != nil {
			log.Error("failed to record run completion", zap.Error(err))
		}
	}
	log.Info("fetch complete",
		zap.Int("rows", res.Dataset.Len()),
		zap.Int("columns", len(res.Dataset.Columns())),
		zap.String("output", res.Output),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func (e *Engine) run(ctx context.Context, log *zap.Logger, metrics []config.MetricConfig, opts RunOpts, format string, res *RunResult) error {
	f := e.fetcher.WithRefresh(opts.Refresh)

	var tables []*dataset.MetricTable
	for i, m := range metrics {
		log.Info(fmt.Sprintf("[%d/%d] fetching", i+1, len(metrics)),
			zap.String("metric", m.Name),
			zap.String("short_desc", m.Description),
		)
		t, stats, err := f.FetchMetric(ctx, m)
		if err != nil {
			return eris.Wrapf(err, "agsync: fetch %s", m.Name)
		}
		res.Stats = append(res.Stats, stats)
		e.recordMetric(ctx, log, res.RunID, stats)

		if t.Len() == 0 {
			log.Warn("metric returned no data", zap.String("metric", m.Name))
			res.Empty = append(res.Empty, m.Name)
			continue
		}
		tables = append(tables, t)
	}

	log.Info("fetch summary",
		zap.Int("successful", len(tables)),
		zap.Int("empty", len(res.Empty)),
		zap.Strings("empty_metrics", res.Empty),
	)
	if len(tables) == 0 {
		return ErrNoData
	}

	d := dataset.New()
	if opts.MergeInto != "" {
		base, err := dataset.ReadCSVFile(ctx, opts.MergeInto)
		if err != nil {
			return eris.Wrapf(err, "agsync: load base dataset %s", opts.MergeInto)
		}
		log.Info("merging into existing dataset",
			zap.String("path", opts.MergeInto),
			zap.Int("rows", base.Len()),
			zap.Int("columns", len(base.Columns())),
		)
		d = base
	}
	for _, t := range tables {
		if err := d.Merge(t); err != nil {
			return eris.Wrapf(err, "agsync: merge %s", t.Metric)
		}
	}
	log.Info("merged tables", zap.Int("tables", len(tables)), zap.Int("rows", d.Len()))

	res.Nulled = d.Coerce()
	for col, n := range res.Nulled {
		log.Info("invalid values converted to null", zap.String("metric", col), zap.Int("count", n))
	}

	res.Derived = d.Derive(derivedDefs(e.cfg.Derived))
	d.Sort()
	res.Dataset = d

	res.Completeness = d.Completeness()
	LogCompleteness(log, res.Completeness, d.Len())

	wopts := dataset.WriteOptions{Provenance: e.cfg.Output.IncludeProvenance}
	switch format {
	case "xlsx":
		if err := dataset.WriteXLSX(res.Output, d, wopts); err != nil {
			return err
		}
	default:
		if err := dataset.WriteCSVFile(res.Output, d, wopts); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) recordMetric(ctx context.Context, log *zap.Logger, runID string, s MetricStats) {
	if e.ledger == nil {
		return
	}
	err := e.ledger.RecordMetric(ctx, store.MetricStat{
		RunID:         runID,
		Metric:        s.Metric,
		Source:        s.Source,
		Actual:        s.Actual,
		Reconstructed: s.Reconstructed,
		Missing:       s.Missing,
		RegionsFailed: s.RegionsFailed,
	})
	if err != nil {
		log.Warn("failed to record metric stats", zap.String("metric", s.Metric), zap.Error(err))
	}
}

func (e *Engine) fail(log *zap.Logger, runID string, cause error) {
	log.Error("fetch failed", zap.Error(cause))
	if e.ledger == nil || runID == "" {
		return
	}
	// The run context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.ledger.FailRun(ctx, runID, cause.Error()); err != nil {
		log.Error("failed to record run failure", zap.Error(err))
	}
}

func derivedDefs(cfg []config.DerivedConfig) []dataset.Derived {
	out := make([]dataset.Derived, len(cfg))
	for i, d := range cfg {
		out[i] = dataset.Derived{Name: d.Name, Components: d.Components}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
