package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/agcensus/internal/dataset"
)

func farmsQuery() Query {
	return Query{
		Metric:      "irrigated_acres",
		Description: "AG LAND, IRRIGATED - ACRES",
		Filters:     map[string]string{"prodn_practice_desc": "IRRIGATED"},
		Regions:     []string{"OR", "WA"},
		Year:        2022,
		Source:      "CENSUS",
		AggLevel:    "COUNTY",
	}
}

func farmsTable() *dataset.MetricTable {
	return &dataset.MetricTable{Metric: "irrigated_acres", Rows: []dataset.Row{
		{Key: dataset.Key{Region: "OR", County: "MARION", Year: 2022}, Value: 61234.5},
		{Key: dataset.Key{Region: "OR", County: "WHEELER", Year: 2022}, Value: 0.1, Reconstructed: true},
		{Key: dataset.Key{Region: "WA", County: "KING", Year: 2022}, Value: 1e9},
	}}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New(t.TempDir(), 0)
	orig := farmsTable()

	m, err := s.Save(farmsQuery(), orig)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Rows)
	assert.Equal(t, 1, m.Reconstructed)

	got, gotM, err := s.Load(context.Background(), farmsQuery())
	require.NoError(t, err)
	assert.Equal(t, orig, got)
	assert.Equal(t, m.Fingerprint, gotM.Fingerprint)
	assert.Equal(t, "IRRIGATED", gotM.Filters["prodn_practice_desc"])
	assert.False(t, gotM.Legacy)
}

func TestLoadMiss(t *testing.T) {
	s := New(t.TempDir(), 0)
	_, _, err := s.Load(context.Background(), farmsQuery())
	assert.ErrorIs(t, err, ErrMiss)
}

func TestLoadStaleWhenQueryChanges(t *testing.T) {
	s := New(t.TempDir(), 0)
	_, err := s.Save(farmsQuery(), farmsTable())
	require.NoError(t, err)

	q := farmsQuery()
	q.Regions = append(q.Regions, "CA")
	_, m, err := s.Load(context.Background(), q)
	assert.ErrorIs(t, err, ErrStale)
	require.NotNil(t, m)
	assert.Equal(t, []string{"OR", "WA"}, m.Regions)
}

func TestLoadStaleWhenTooOld(t *testing.T) {
	s := New(t.TempDir(), time.Hour)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	_, err := s.Save(farmsQuery(), farmsTable())
	require.NoError(t, err)

	s.now = func() time.Time { return now.Add(30 * time.Minute) }
	_, _, err = s.Load(context.Background(), farmsQuery())
	require.NoError(t, err)

	s.now = func() time.Time { return now.Add(2 * time.Hour) }
	_, _, err = s.Load(context.Background(), farmsQuery())
	assert.ErrorIs(t, err, ErrStale)
}

func TestLoadLegacyTableWithoutManifest(t *testing.T) {
	dir := t.TempDir()
	legacy := "state_name,county_name,year,Value,is_estimated\nOR,BAKER,2022,1234.0,False\nOR,GRANT,2022,55.0,True\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "farms.csv"), []byte(legacy), 0o644))

	s := New(dir, 0)
	q := farmsQuery()
	q.Metric = "farms"
	got, m, err := s.Load(context.Background(), q)
	require.NoError(t, err)
	assert.True(t, m.Legacy)
	assert.Equal(t, 2, m.Rows)
	assert.Equal(t, 1, m.Reconstructed)
	require.Len(t, got.Rows, 2)
	assert.Equal(t, 1234.0, got.Rows[0].Value)
	assert.True(t, got.Rows[1].Reconstructed)
}

func TestLoadCorruptTable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "farms.csv"), []byte("state_name,county_name,year,Value\nOR,BAKER,x,1\n"), 0o644))

	q := farmsQuery()
	q.Metric = "farms"
	_, _, err := New(dir, 0).Load(context.Background(), q)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "year")
}

func TestBustAndList(t *testing.T) {
	s := New(t.TempDir(), 0)
	for _, name := range []string{"farms", "hay_acres", "rice_acres"} {
		q := farmsQuery()
		q.Metric = name
		tb := farmsTable()
		tb.Metric = name
		_, err := s.Save(q, tb)
		require.NoError(t, err)
	}

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "farms", list[0].Metric)

	removed, err := s.Bust("hay_acres", "missing")
	require.NoError(t, err)
	assert.Equal(t, []string{"hay_acres"}, removed)

	q := farmsQuery()
	q.Metric = "hay_acres"
	_, _, err = s.Load(context.Background(), q)
	assert.ErrorIs(t, err, ErrMiss)

	removed, err = s.Bust()
	require.NoError(t, err)
	assert.Equal(t, []string{"farms", "rice_acres"}, removed)

	list, err = s.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRejectsNamesOutsideDir(t *testing.T) {
	root := t.TempDir()
	s := New(filepath.Join(root, "cache"), 0)
	outside := filepath.Join(root, "victim.csv")
	require.NoError(t, os.WriteFile(outside, []byte("keep"), 0o644))

	q := farmsQuery()
	q.Metric = "../victim"
	_, err := s.Save(q, farmsTable())
	assert.ErrorContains(t, err, "invalid metric name")

	_, _, err = s.Load(context.Background(), q)
	assert.ErrorContains(t, err, "invalid metric name")

	removed, err := s.Bust("farms", "../victim")
	assert.ErrorContains(t, err, "invalid metric name")
	assert.Empty(t, removed)
	assert.FileExists(t, outside)
}

func TestListMissingDir(t *testing.T) {
	list, err := New(filepath.Join(t.TempDir(), "nope"), 0).List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFingerprint_StableAcrossFilterOrder(t *testing.T) {
	a := farmsQuery()
	a.Filters = map[string]string{"a": "1", "b": "2"}
	b := farmsQuery()
	b.Filters = map[string]string{"b": "2", "a": "1"}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.Year = 2017
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}
