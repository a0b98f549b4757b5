package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/url"

	"github.com/rotisserie/eris"
)

// DecodeJSONObject decodes a single JSON value from a reader.
func DecodeJSONObject[T any](r io.Reader) (*T, error) {
	var obj T
	if err := json.NewDecoder(r).Decode(&obj); err != nil {
		return nil, eris.Wrap(err, "json: decode object")
	}
	return &obj, nil
}

// GetJSON fetches rawURL through f and decodes the body into T. Decoding
// happens inside each attempt, so a malformed body is retried like any
// other failure.
func GetJSON[T any](ctx context.Context, f Fetcher, rawURL string, params url.Values) (*T, error) {
	var out *T
	err := f.Get(ctx, rawURL, params, func(body []byte) error {
		v, err := DecodeJSONObject[T](bytes.NewReader(body))
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
