package fetcher

import (
	"context"
	"net/url"
)

// Fetcher defines the interface for querying remote JSON APIs.
type Fetcher interface {
	// Get requests rawURL with params and passes the body of a 200 response
	// to decode. Non-200 responses, transport failures and decode errors all
	// count as failed attempts and are retried per the fetcher's policy.
	Get(ctx context.Context, rawURL string, params url.Values, decode func(body []byte) error) error
}
