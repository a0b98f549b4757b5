package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/agcensus/internal/resilience"
)

// maxErrorSnippet bounds how much of a failed response body is logged.
const maxErrorSnippet = 200

// redactedParams are query parameters never written to logs.
var redactedParams = []string{"key", "api_key"}

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	// Timeout bounds a single request. A timed-out request is retried.
	Timeout time.Duration
	// Retry controls attempts and delays. Zero value means 3 attempts,
	// 5s apart, 10s after a 429.
	Retry resilience.RetryConfig
	// RequestDelay is the minimum spacing between any two requests issued
	// by this fetcher, retries included.
	RequestDelay time.Duration
	// Client overrides the HTTP client (tests).
	Client *http.Client
	Logger *zap.Logger
}

// HTTPFetcher implements Fetcher using net/http with fixed-delay retry and
// a politeness limiter. It is meant to be used by one goroutine at a time.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.FromRetryConfig(0, 0, 0)
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "agcensus/1.0"
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	limit := rate.Inf
	if opts.RequestDelay > 0 {
		limit = rate.Every(opts.RequestDelay)
	}

	return &HTTPFetcher{
		client:  client,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}
}

// Get implements Fetcher.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string, params url.Values, decode func([]byte) error) error {
	reqURL, err := buildURL(rawURL, params)
	if err != nil {
		return err
	}
	safeURL := redactURL(reqURL)

	retry := f.opts.Retry
	// Every failure is recoverable for these APIs; cancellation is handled by resilience.Do.
	retry.ShouldRetry = resilience.RetryAlways
	retry.OnRetry = func(attempt int, err error) {
		f.log.Warn("request failed, retrying",
			zap.String("url", safeURL),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", retry.MaxAttempts),
			zap.Int("status", resilience.StatusCode(err)),
			zap.Error(err),
		)
	}

	err = resilience.Do(ctx, retry, func(ctx context.Context) error {
		return f.attempt(ctx, reqURL, safeURL, decode)
	})
	if err != nil {
		return eris.Wrapf(err, "fetcher: all %d attempts failed for %s", retry.MaxAttempts, safeURL)
	}
	return nil
}

func (f *HTTPFetcher) attempt(ctx context.Context, reqURL, safeURL string, decode func([]byte) error) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "fetcher: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	f.log.Debug("http request", zap.String("url", safeURL))

	resp, err := f.client.Do(req)
	if err != nil {
		return resilience.NewRequestError(eris.Wrap(err, "fetcher: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resilience.NewRequestError(eris.Wrap(err, "fetcher: read body"), resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		return resilience.NewRequestError(
			eris.Errorf("fetcher: http %d: %s", resp.StatusCode, snippet(body)),
			resp.StatusCode,
		)
	}

	if err := decode(body); err != nil {
		return eris.Wrap(err, "fetcher: malformed response")
	}
	return nil
}

func buildURL(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: parse url %q", rawURL)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// redactURL masks credentials in the query string for logging.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for _, p := range redactedParams {
		if q.Has(p) {
			q.Set(p, "REDACTED")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorSnippet {
		s = s[:maxErrorSnippet]
	}
	return s
}
