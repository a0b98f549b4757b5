package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/agcensus/internal/resilience"
)

type testPayload struct {
	Data []map[string]string `json:"data"`
}

func newTestFetcher(delay time.Duration) *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		UserAgent:    "test-agent",
		Timeout:      2 * time.Second,
		Retry:        resilience.FixedRetryConfig(3, 5*time.Millisecond, 40*time.Millisecond),
		RequestDelay: delay,
	})
}

func TestGetJSON_PassesParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "OR", r.URL.Query().Get("state_alpha"))
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		_ = json.NewEncoder(w).Encode(testPayload{Data: []map[string]string{{"county_name": "MARION"}}})
	}))
	defer srv.Close()

	params := url.Values{"state_alpha": {"OR"}, "key": {"secret"}}
	out, err := GetJSON[testPayload](context.Background(), newTestFetcher(0), srv.URL, params)
	require.NoError(t, err)
	require.Len(t, out.Data, 1)
	assert.Equal(t, "MARION", out.Data[0]["county_name"])
}

func TestGet_RetriesServerErrorThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	out, err := GetJSON[testPayload](context.Background(), newTestFetcher(0), srv.URL, nil)
	require.NoError(t, err)
	assert.Empty(t, out.Data)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet_MalformedJSONIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	_, err := GetJSON[testPayload](context.Background(), newTestFetcher(0), srv.URL, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 3 attempts failed")
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet_ClientErrorIsRetriedToExhaustion(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":["bad request - invalid query"]}`))
	}))
	defer srv.Close()

	err := newTestFetcher(0).Get(context.Background(), srv.URL, nil, func([]byte) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid query")
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet_RateLimitUsesLongerBackoff(t *testing.T) {
	var calls atomic.Int32
	var mu sync.Mutex
	var first, second time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch calls.Add(1) {
		case 1:
			first = time.Now()
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			second = time.Now()
			_, _ = w.Write([]byte(`{"data":[]}`))
		}
	}))
	defer srv.Close()

	_, err := GetJSON[testPayload](context.Background(), newTestFetcher(0), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, second.Sub(first), 35*time.Millisecond)
}

func TestGet_RequestDelaySpacesCalls(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		stamps = append(stamps, time.Now())
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := newTestFetcher(50 * time.Millisecond)
	for range 3 {
		require.NoError(t, f.Get(context.Background(), srv.URL, nil, func([]byte) error { return nil }))
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stamps, 3)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[0]), 90*time.Millisecond)
}

func TestGet_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := newTestFetcher(0).Get(ctx, srv.URL, nil, func([]byte) error { return nil })
	require.Error(t, err)
}

func TestRedactURL(t *testing.T) {
	got := redactURL("https://example.test/api?key=abc&api_key=def&state_alpha=WA")
	assert.NotContains(t, got, "abc")
	assert.NotContains(t, got, "def")
	assert.Contains(t, got, "state_alpha=WA")
	assert.Contains(t, got, "key=REDACTED")
}

func TestBuildURL_MergesExistingQuery(t *testing.T) {
	got, err := buildURL("https://example.test/search?format=json", url.Values{"city": {"Salem"}})
	require.NoError(t, err)
	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "json", u.Query().Get("format"))
	assert.Equal(t, "Salem", u.Query().Get("city"))
}

func TestSnippet_Truncates(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, snippet(long), maxErrorSnippet)
}
