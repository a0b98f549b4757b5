// Package quickstats is a client for the USDA NASS QuickStats API.
package quickstats

import (
	"context"
	"net/url"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/agcensus/internal/fetcher"
)

// Record is one observation returned by QuickStats. Value holds the raw
// text exactly as served: a number with thousands separators, an empty
// string, or a non-disclosure marker such as "(D)".
type Record struct {
	StateName     string `json:"state_name"`
	StateAlpha    string `json:"state_alpha"`
	CountyName    string `json:"county_name"`
	Year          int    `json:"year"`
	DomainDesc    string `json:"domain_desc"`
	DomainCatDesc string `json:"domaincat_desc"`
	ShortDesc     string `json:"short_desc"`
	Value         string `json:"Value"`
}

// Query selects records for one metric in one state.
type Query struct {
	ShortDesc  string
	StateAlpha string
	// Filters are extra QuickStats parameters, e.g. prodn_practice_desc.
	Filters map[string]string
}

// Client fetches QuickStats records.
type Client interface {
	Fetch(ctx context.Context, q Query) ([]Record, error)
}

// Options are the parameters common to every query.
type Options struct {
	BaseURL      string
	APIKey       string
	SourceDesc   string
	Year         int
	AggLevelDesc string
}

type response struct {
	Data []Record `json:"data"`
}

// HTTPClient implements Client on top of a fetcher.
type HTTPClient struct {
	f    fetcher.Fetcher
	opts Options
}

// NewClient creates a QuickStats client. Retry and pacing are the
// fetcher's responsibility.
func NewClient(f fetcher.Fetcher, opts Options) *HTTPClient {
	return &HTTPClient{f: f, opts: opts}
}

// Fetch issues one api_GET request for q.
func (c *HTTPClient) Fetch(ctx context.Context, q Query) ([]Record, error) {
	if q.ShortDesc == "" || q.StateAlpha == "" {
		return nil, eris.New("quickstats: short_desc and state_alpha are required")
	}
	resp, err := fetcher.GetJSON[response](ctx, c.f, c.opts.BaseURL, c.Params(q))
	if err != nil {
		return nil, eris.Wrapf(err, "quickstats: fetch %s for %s", q.ShortDesc, q.StateAlpha)
	}
	return resp.Data, nil
}

// Params returns the full query string for q.
func (c *HTTPClient) Params(q Query) url.Values {
	p := url.Values{}
	p.Set("key", c.opts.APIKey)
	p.Set("source_desc", c.opts.SourceDesc)
	p.Set("year", strconv.Itoa(c.opts.Year))
	p.Set("agg_level_desc", c.opts.AggLevelDesc)
	p.Set("format", "JSON")
	p.Set("short_desc", q.ShortDesc)
	p.Set("state_alpha", q.StateAlpha)

	keys := make([]string, 0, len(q.Filters))
	for k := range q.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.Set(k, q.Filters[k])
	}
	return p
}
