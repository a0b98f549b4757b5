package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/agcensus/internal/agsync"
	"github.com/sells-group/agcensus/internal/cache"
	"github.com/sells-group/agcensus/internal/fetcher"
	"github.com/sells-group/agcensus/internal/quickstats"
	"github.com/sells-group/agcensus/internal/resilience"
	"github.com/sells-group/agcensus/internal/store"
	"github.com/sells-group/agcensus/pkg/geocode"
)

// initStore opens and migrates the run ledger.
func initStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
}

func initCache() *cache.Store {
	return cache.New(cfg.Cache.Dir, cfg.Cache.MaxAge())
}

// initFetcher wires the QuickStats client, cache and retry policy.
func initFetcher(refresh bool) *agsync.Fetcher {
	qs := cfg.QuickStats
	hf := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Timeout:      qs.Timeout(),
		Retry:        resilience.FromRetryConfig(qs.MaxAttempts, qs.RetryDelaySecs, qs.RateLimitBackoffSecs),
		RequestDelay: qs.RequestDelay(),
		Logger:       zap.L(),
	})
	client := quickstats.NewClient(hf, quickstats.Options{
		BaseURL:      qs.BaseURL,
		APIKey:       qs.APIKey,
		SourceDesc:   qs.SourceDesc,
		Year:         qs.Year,
		AggLevelDesc: qs.AggLevelDesc,
	})
	return agsync.NewFetcher(client, initCache(), agsync.FetcherOptions{
		Regions:  cfg.Regions,
		Year:     qs.Year,
		Source:   qs.SourceDesc,
		AggLevel: qs.AggLevelDesc,
		Refresh:  refresh,
	}, zap.L())
}

func initGeocoder() geocode.Client {
	g := cfg.Geocode
	opts := []geocode.Option{
		geocode.WithAPIKey(g.APIKey),
		geocode.WithLogger(zap.L()),
	}
	if g.BaseURL != "" {
		opts = append(opts, geocode.WithBaseURL(g.BaseURL))
	}
	if g.DelayMs > 0 {
		opts = append(opts, geocode.WithRequestSpacing(g.Delay()))
	}
	if g.CensusFallback {
		opts = append(opts, geocode.WithCensusFallback(g.CensusBaseURL))
	}
	return geocode.NewClient(opts...)
}
