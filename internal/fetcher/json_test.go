package fetcher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSONObject(t *testing.T) {
	type resp struct {
		Data []struct {
			Value string `json:"Value"`
		} `json:"data"`
	}
	out, err := DecodeJSONObject[resp](strings.NewReader(`{"data":[{"Value":" (D)"}]}`))
	require.NoError(t, err)
	require.Len(t, out.Data, 1)
	assert.Equal(t, " (D)", out.Data[0].Value)
}

func TestDecodeJSONObject_Array(t *testing.T) {
	out, err := DecodeJSONObject[[]map[string]string](strings.NewReader(`[{"lat":"44.9"}]`))
	require.NoError(t, err)
	assert.Equal(t, "44.9", (*out)[0]["lat"])
}

func TestDecodeJSONObject_Invalid(t *testing.T) {
	_, err := DecodeJSONObject[map[string]any](strings.NewReader(`not json`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "json: decode object")
}
