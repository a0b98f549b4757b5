package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	censusOneLinePath = "/geocoder/locations/onelineaddress"
	censusBenchmark   = "Public_AR_Current"
)

// censusLookup mirrors the parts of the onelineaddress payload we read.
// X is longitude and Y is latitude.
type censusLookup struct {
	Result struct {
		AddressMatches []struct {
			MatchedAddress string `json:"matchedAddress"`
			Coordinates    struct {
				X float64 `json:"x"`
				Y float64 `json:"y"`
			} `json:"coordinates"`
		} `json:"addressMatches"`
	} `json:"result"`
}

// CensusProvider is the keyless fallback backed by the Census Bureau
// geocoder. Only US addresses resolve.
type CensusProvider struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Name implements Provider.
func (p *CensusProvider) Name() string { return "census" }

// Available implements Provider.
func (p *CensusProvider) Available() bool { return true }

// Query returns the onelineaddress request URL for addr, or "" when addr
// has no US address parts.
func (p *CensusProvider) Query(addr AddressInput) string {
	line := oneLine(addr)
	if line == "" {
		return ""
	}
	q := url.Values{}
	q.Set("address", line)
	q.Set("benchmark", censusBenchmark)
	q.Set("format", "json")
	return strings.TrimRight(p.baseURL, "/") + censusOneLinePath + "?" + q.Encode()
}

// Geocode implements Provider. The first address match wins.
func (p *CensusProvider) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	reqURL := p.Query(addr)
	if reqURL == "" {
		return &Result{Source: p.Name()}, nil
	}

	body, err := getBody(ctx, p.httpClient, p.limiter, p.Name(), reqURL)
	if err != nil {
		return nil, err
	}

	var lookup censusLookup
	if err := json.Unmarshal(body, &lookup); err != nil {
		return nil, eris.Wrap(err, "geocode: census parse response")
	}
	matches := lookup.Result.AddressMatches
	if len(matches) == 0 {
		return &Result{Source: p.Name()}, nil
	}
	return &Result{
		Latitude:    matches[0].Coordinates.Y,
		Longitude:   matches[0].Coordinates.X,
		Source:      p.Name(),
		DisplayName: matches[0].MatchedAddress,
		Matched:     true,
	}, nil
}

// oneLine joins the trimmed street, city, state and postal code with
// ", ". Country is omitted.
func oneLine(addr AddressInput) string {
	var parts []string
	for _, s := range []string{addr.Street, addr.City, addr.State, addr.PostalCode} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}
