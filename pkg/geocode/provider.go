package geocode

import (
	"context"
	"io"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/agcensus/internal/resilience"
)

// Provider represents a single geocoding backend.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, addr AddressInput) (*Result, error)
	Available() bool
}

// CascadeClient tries geocode providers in order until one matches.
type CascadeClient struct {
	providers []Provider
	log       *zap.Logger
}

// NewCascadeClient creates a CascadeClient that tries providers in order.
func NewCascadeClient(providers []Provider, log *zap.Logger) *CascadeClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &CascadeClient{providers: providers, log: log}
}

// Providers returns the names of the configured providers in order.
func (c *CascadeClient) Providers() []string {
	out := make([]string, len(c.providers))
	for i, p := range c.providers {
		out[i] = p.Name()
	}
	return out
}

// Geocode implements Client. An empty address is unmatched without any
// request. If every provider errors, the last error is returned.
func (c *CascadeClient) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	if addr.Empty() {
		return &Result{Matched: false}, nil
	}

	var (
		lastErr error
		tried   int
		source  string
	)
	for _, p := range c.providers {
		if !p.Available() {
			continue
		}
		tried++
		result, err := p.Geocode(ctx, addr)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Debug("cascade: provider error, trying next",
				zap.String("provider", p.Name()),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		if result.Matched {
			return result, nil
		}
		source = result.Source
		lastErr = nil
	}

	if tried == 0 {
		return nil, eris.New("geocode: no provider available")
	}
	if lastErr != nil && source == "" {
		return nil, lastErr
	}
	return &Result{Matched: false, Source: source}, nil
}

// getBody waits on limiter, issues a GET and returns the body. A non-200
// response is a *resilience.RequestError carrying the status.
func getBody(ctx context.Context, hc *http.Client, limiter *rate.Limiter, provider, reqURL string) ([]byte, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, eris.Wrapf(err, "geocode: %s rate limit", provider)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: %s build request", provider)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: %s request", provider)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: %s read body", provider)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.NewRequestError(
			eris.Errorf("geocode: %s returned status %d", provider, resp.StatusCode), resp.StatusCode)
	}
	return body, nil
}
