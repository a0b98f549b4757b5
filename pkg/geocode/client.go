// Package geocode provides structured address geocoding via geocode.maps.co,
// with the Census Geocoder as an optional fallback.
package geocode

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultMapsCoURL  = "https://geocode.maps.co/search"
	defaultCensusURL  = "https://geocoding.geo.census.gov"
	defaultRetryWait  = 5 * time.Second
	defaultRowSpacing = 1100 * time.Millisecond
)

// Client geocodes addresses.
type Client interface {
	// Geocode geocodes a single address. An address nobody could match is
	// returned with Matched false and a nil error.
	Geocode(ctx context.Context, addr AddressInput) (*Result, error)
}

// AddressInput is a structured address. Empty fields are omitted from
// the query.
type AddressInput struct {
	Street     string
	City       string
	State      string
	PostalCode string
	Country    string
}

// Empty reports whether no field is set.
func (a AddressInput) Empty() bool {
	return a.Street == "" && a.City == "" && a.State == "" && a.PostalCode == "" && a.Country == ""
}

// Result holds the geocoding output for an address.
type Result struct {
	Latitude    float64
	Longitude   float64
	Source      string // "mapsco" or "census"
	DisplayName string
	Matched     bool
}

// Option configures the geocoder.
type Option func(*settings)

type settings struct {
	apiKey     string
	baseURL    string
	censusURL  string
	census     bool
	httpClient *http.Client
	limiter    *rate.Limiter
	retryWait  time.Duration
	log        *zap.Logger
}

// WithAPIKey sets the geocode.maps.co API key.
func WithAPIKey(key string) Option {
	return func(s *settings) { s.apiKey = key }
}

// WithBaseURL overrides the geocode.maps.co search endpoint.
func WithBaseURL(u string) Option {
	return func(s *settings) {
		if u != "" {
			s.baseURL = u
		}
	}
}

// WithCensusFallback enables the Census one-line geocoder for addresses
// the primary provider does not match. An empty baseURL keeps the default.
func WithCensusFallback(baseURL string) Option {
	return func(s *settings) {
		s.census = true
		if baseURL != "" {
			s.censusURL = baseURL
		}
	}
}

// WithHTTPClient sets a custom HTTP client for all providers.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *settings) { s.httpClient = hc }
}

// WithRequestSpacing sets the minimum pause between two primary requests.
func WithRequestSpacing(d time.Duration) Option {
	return func(s *settings) {
		if d <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		s.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithRetryWait sets how long to wait before the single retry after a 429.
func WithRetryWait(d time.Duration) Option {
	return func(s *settings) { s.retryWait = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.log = l }
}

// NewClient builds the provider cascade described by opts.
func NewClient(opts ...Option) *CascadeClient {
	s := &settings{
		baseURL:    defaultMapsCoURL,
		censusURL:  defaultCensusURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(defaultRowSpacing), 1),
		retryWait:  defaultRetryWait,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	providers := []Provider{&MapsCoProvider{
		apiKey:     s.apiKey,
		baseURL:    s.baseURL,
		httpClient: s.httpClient,
		limiter:    s.limiter,
		retryWait:  s.retryWait,
		log:        s.log,
	}}
	if s.census {
		providers = append(providers, &CensusProvider{
			baseURL:    s.censusURL,
			httpClient: s.httpClient,
			limiter:    rate.NewLimiter(50, 50),
		})
	}
	return NewCascadeClient(providers, s.log)
}
