// Package agsync fetches, reconciles and assembles county metrics into the
// published dataset.
package agsync

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sells-group/agcensus/internal/cache"
	"github.com/sells-group/agcensus/internal/config"
	"github.com/sells-group/agcensus/internal/dataset"
	"github.com/sells-group/agcensus/internal/quickstats"
	"github.com/sells-group/agcensus/internal/reconcile"
	"github.com/sells-group/agcensus/internal/store"
)

// MetricStats counts the outcome of one metric across all regions.
type MetricStats struct {
	Metric        string
	Source        store.MetricSource
	Actual        int
	Reconstructed int
	Missing       int
	RegionsFailed int
}

// Rows returns the number of counties with a value.
func (s MetricStats) Rows() int { return s.Actual + s.Reconstructed }

func (s *MetricStats) add(o MetricStats) {
	s.Actual += o.Actual
	s.Reconstructed += o.Reconstructed
	s.Missing += o.Missing
}

// FetcherOptions are the query parameters shared by every metric.
type FetcherOptions struct {
	Regions  []string
	Year     int
	Source   string
	AggLevel string
	// Refresh ignores cached tables and overwrites them.
	Refresh bool
}

// Fetcher produces one reconciled table per metric.
type Fetcher struct {
	client quickstats.Client
	cache  *cache.Store
	opts   FetcherOptions
	log    *zap.Logger
}

// NewFetcher creates a Fetcher. A nil cache disables caching.
func NewFetcher(client quickstats.Client, c *cache.Store, opts FetcherOptions, log *zap.Logger) *Fetcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{client: client, cache: c, opts: opts, log: log}
}

// WithRefresh returns a copy of f with the refresh flag set.
func (f *Fetcher) WithRefresh(refresh bool) *Fetcher {
	c := *f
	c.opts.Refresh = refresh
	return &c
}

func (f *Fetcher) cacheQuery(m config.MetricConfig) cache.Query {
	return cache.Query{
		Metric:      m.Name,
		Description: m.Description,
		Filters:     m.Filters,
		Regions:     f.opts.Regions,
		Year:        f.opts.Year,
		Source:      f.opts.Source,
		AggLevel:    f.opts.AggLevel,
	}
}

// FetchMetric returns the reconciled table for m. A usable cache entry is
// returned without network access. Regions that fail after retries are
// skipped. The returned table may be empty; only cancellation is an error.
func (f *Fetcher) FetchMetric(ctx context.Context, m config.MetricConfig) (*dataset.MetricTable, MetricStats, error) {
	log := f.log.With(zap.String("metric", m.Name))
	q := f.cacheQuery(m)

	if f.cache != nil && !f.opts.Refresh {
		t, man, err := f.cache.Load(ctx, q)
		switch {
		case err == nil:
			log.Info("loaded from cache",
				zap.Int("rows", t.Len()),
				zap.Int("reconstructed", t.Reconstructed()),
				zap.Bool("legacy", man.Legacy),
			)
			return t, MetricStats{
				Metric:        m.Name,
				Source:        store.SourceCache,
				Actual:        t.Len() - t.Reconstructed(),
				Reconstructed: t.Reconstructed(),
			}, nil
		case errors.Is(err, cache.ErrMiss):
		case errors.Is(err, cache.ErrStale):
			log.Info("cache entry stale, refetching", zap.Error(err))
		default:
			log.Warn("cache entry unreadable, refetching", zap.Error(err))
		}
	}

	table := &dataset.MetricTable{Metric: m.Name}
	stats := MetricStats{Metric: m.Name, Source: store.SourceAPI}

	for _, region := range f.opts.Regions {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		rlog := log.With(zap.String("region", region))
		rlog.Info("fetching")

		records, err := f.client.Fetch(ctx, quickstats.Query{
			ShortDesc:  m.Description,
			StateAlpha: region,
			Filters:    m.Filters,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, stats, ctx.Err()
			}
			rlog.Warn("region skipped", zap.Error(err))
			stats.RegionsFailed++
			continue
		}
		if len(records) == 0 {
			rlog.Warn("no data available")
			continue
		}

		rows, rs := f.reconcileRegion(region, records)
		table.Rows = append(table.Rows, rows...)
		stats.add(rs)
		rlog.Info("region complete",
			zap.Int("records", len(records)),
			zap.Int("counties", rs.Rows()),
			zap.Int("actual", rs.Actual),
			zap.Int("reconstructed", rs.Reconstructed),
			zap.Int("missing", rs.Missing),
		)
	}

	log.Info("metric summary",
		zap.Int("actual", stats.Actual),
		zap.Int("reconstructed", stats.Reconstructed),
		zap.Int("missing", stats.Missing),
		zap.Int("regions_failed", stats.RegionsFailed),
	)

	if table.Len() == 0 {
		return table, stats, nil
	}

	if f.cache != nil {
		if _, err := f.cache.Save(q, table); err != nil {
			log.Warn("failed to cache metric", zap.Error(err))
		} else {
			log.Debug("cached metric", zap.Int("rows", table.Len()))
		}
	}
	return table, stats, nil
}

// reconcileRegion groups records by county in first-seen order and
// reconciles each group. Records without a county name are dropped.
func (f *Fetcher) reconcileRegion(region string, records []quickstats.Record) ([]dataset.Row, MetricStats) {
	var order []string
	groups := make(map[string][]quickstats.Record)
	for _, r := range records {
		if r.CountyName == "" {
			continue
		}
		if _, ok := groups[r.CountyName]; !ok {
			order = append(order, r.CountyName)
		}
		groups[r.CountyName] = append(groups[r.CountyName], r)
	}

	var (
		rows  []dataset.Row
		stats MetricStats
	)
	for _, county := range order {
		res := reconcile.Reconcile(groups[county])
		switch res.Provenance {
		case reconcile.Absent:
			stats.Missing++
			continue
		case reconcile.Reconstructed:
			stats.Reconstructed++
			f.log.Debug("reconstructed from subcategories",
				zap.String("region", region),
				zap.String("county", county),
				zap.String("domain", res.Domain),
				zap.Int("members", res.Members),
			)
		default:
			stats.Actual++
		}
		rows = append(rows, dataset.Row{
			Key:           dataset.Key{Region: region, County: county, Year: f.opts.Year},
			Value:         res.Value,
			Reconstructed: res.Provenance == reconcile.Reconstructed,
		})
	}
	return rows, stats
}
