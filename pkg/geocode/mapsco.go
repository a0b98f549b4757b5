package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/agcensus/internal/resilience"
)

// mapsCoPlace is one element of the geocode.maps.co search response.
// Coordinates are served as strings.
type mapsCoPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// MapsCoProvider geocodes via the geocode.maps.co structured search.
type MapsCoProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retryWait  time.Duration
	log        *zap.Logger
}

// Name implements Provider.
func (p *MapsCoProvider) Name() string { return "mapsco" }

// Available implements Provider.
func (p *MapsCoProvider) Available() bool { return p.apiKey != "" }

// Params returns the structured query for addr.
func (p *MapsCoProvider) Params(addr AddressInput) url.Values {
	v := url.Values{}
	for _, kv := range [][2]string{
		{"street", addr.Street},
		{"city", addr.City},
		{"state", addr.State},
		{"postalcode", addr.PostalCode},
		{"country", addr.Country},
	} {
		if kv[1] != "" {
			v.Set(kv[0], kv[1])
		}
	}
	v.Set("api_key", p.apiKey)
	return v
}

// Geocode implements Provider. A 429 is retried once after the retry wait.
func (p *MapsCoProvider) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	reqURL := p.baseURL + "?" + p.Params(addr).Encode()

	retry := resilience.FixedRetryConfig(2, p.retryWait, p.retryWait)
	retry.ShouldRetry = resilience.IsRateLimited
	retry.OnRetry = func(int, error) {
		p.log.Warn("geocode: rate limit hit, waiting", zap.Duration("wait", p.retryWait))
	}
	body, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]byte, error) {
		return getBody(ctx, p.httpClient, p.limiter, p.Name(), reqURL)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	var places []mapsCoPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, eris.Wrap(err, "geocode: mapsco parse response")
	}
	if len(places) == 0 {
		return &Result{Matched: false, Source: p.Name()}, nil
	}

	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: mapsco lat %q", places[0].Lat)
	}
	lon, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: mapsco lon %q", places[0].Lon)
	}
	return &Result{
		Latitude:    lat,
		Longitude:   lon,
		Source:      p.Name(),
		DisplayName: places[0].DisplayName,
		Matched:     true,
	}, nil
}
