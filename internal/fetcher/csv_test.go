package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV_IncludesHeader(t *testing.T) {
	rows, err := ReadCSV(context.Background(), strings.NewReader("x,y\n1,2\n3\n"), CSVOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"x", "y"}, rows[0])
	assert.Equal(t, []string{"3"}, rows[2])
}

func TestReadCSV_StripsByteOrderMark(t *testing.T) {
	rows, err := ReadCSV(context.Background(), strings.NewReader("\ufeffStreet Address,City\n1 Main St,Salem\n"), CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Street Address", "City"}, rows[0])
}

func TestReadCSV_TrimSpace(t *testing.T) {
	rows, err := ReadCSV(context.Background(), strings.NewReader(" a , b \n"), CSVOptions{TrimSpace: true})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}}, rows)
}

func TestReadCSV_Delimiter(t *testing.T) {
	rows, err := ReadCSV(context.Background(), strings.NewReader("a;b\n"), CSVOptions{Delimiter: ';'})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}}, rows)
}

func TestReadCSV_ContextAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ReadCSV(ctx, strings.NewReader("a\nb\n"), CSVOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "context cancelled")
}

func TestReadCSV_MalformedQuote(t *testing.T) {
	rows, err := ReadCSV(context.Background(), strings.NewReader("a,b\n\"c\nd"), CSVOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: read row 2")
	assert.Len(t, rows, 1)
}
