package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://quickstats.nass.usda.gov/api/api_GET/", cfg.QuickStats.BaseURL)
	assert.Equal(t, "CENSUS", cfg.QuickStats.SourceDesc)
	assert.Equal(t, 2022, cfg.QuickStats.Year)
	assert.Equal(t, "COUNTY", cfg.QuickStats.AggLevelDesc)
	assert.Equal(t, 30*time.Second, cfg.QuickStats.Timeout())
	assert.Equal(t, 3, cfg.QuickStats.MaxAttempts)
	assert.Equal(t, 5, cfg.QuickStats.RetryDelaySecs)
	assert.Equal(t, 10, cfg.QuickStats.RateLimitBackoffSecs)
	assert.Equal(t, 2*time.Second, cfg.QuickStats.RequestDelay())
	assert.Equal(t, []string{"OR", "WA", "CA", "NV", "ID", "MT"}, cfg.Regions)
	assert.Equal(t, "cache", cfg.Cache.Dir)
	assert.Equal(t, time.Duration(0), cfg.Cache.MaxAge())
	assert.Equal(t, "public/data/ag_data.csv", cfg.Output.Path)
	assert.Equal(t, "csv", cfg.Output.Format)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "https://geocode.maps.co/search", cfg.Geocode.BaseURL)
	assert.Equal(t, 1100*time.Millisecond, cfg.Geocode.Delay())
	assert.Equal(t, "Street Address", cfg.Geocode.Columns.Street)
	assert.Equal(t, "Zip", cfg.Geocode.Columns.PostalCode)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "logs", cfg.Log.Dir)

	assert.Len(t, cfg.Metrics, 40)
	assert.Equal(t, "farms", cfg.Metrics[0].Name)
	require.Len(t, cfg.Derived, 2)
	assert.Equal(t, "land_in_farms_acres", cfg.Derived[0].Name)
	assert.Len(t, cfg.Derived[1].Components, 11)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
quickstats:
  api_key: abc
  year: 2017
regions: [or, wa]
metrics:
  - name: farms
    description: FARM OPERATIONS - NUMBER OF OPERATIONS
  - name: irrigated_acres
    description: AG LAND, IRRIGATED - ACRES
    filters:
      prodn_practice_desc: IRRIGATED
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "abc", cfg.QuickStats.APIKey)
	assert.Equal(t, 2017, cfg.QuickStats.Year)
	assert.Equal(t, []string{"OR", "WA"}, cfg.Regions)
	require.Len(t, cfg.Metrics, 2)
	assert.Equal(t, "IRRIGATED", cfg.Metrics[1].Filters["prodn_practice_desc"])
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, "CENSUS", cfg.QuickStats.SourceDesc)
	assert.Len(t, cfg.Derived, 2)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("AGCENSUS_STORE_DRIVER", "postgres")
	t.Setenv("AGCENSUS_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadAPIKeyFallbackEnv(t *testing.T) {
	chdirTemp(t)

	t.Setenv("NASS_API_KEY", "nass-key")
	t.Setenv("GEOCODING_API_KEY", "geo-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "nass-key", cfg.QuickStats.APIKey)
	assert.Equal(t, "geo-key", cfg.Geocode.APIKey)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("regions: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	log, err := InitLogger(LogConfig{Level: "debug", Format: "console"}, time.Now())
	require.NoError(t, err)
	assert.NotNil(t, log)
	assert.Equal(t, log, zap.L())
}

func TestInitLoggerWritesRunFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	started := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

	log, err := InitLogger(LogConfig{Level: "info", Format: "json", Dir: dir}, started)
	require.NoError(t, err)
	log.Info("fetching metric", zap.String("metric", "farms"))
	_ = log.Sync()

	path := filepath.Join(dir, "agcensus_20240309_140507.log")
	assert.Equal(t, path, RunLogPath(dir, started))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "fetching metric")
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	_, err := InitLogger(LogConfig{Level: "invalid", Format: "json"}, time.Now())
	assert.Error(t, err)
}

// validFetchConfig returns a Config that passes fetch validation.
func validFetchConfig() *Config {
	return &Config{
		QuickStats: QuickStatsConfig{APIKey: "k", BaseURL: "https://example.test", Year: 2022, MaxAttempts: 3},
		Regions:    []string{"OR"},
		Metrics:    DefaultMetrics(),
		Derived:    DefaultDerived(),
		Output:     OutputConfig{Path: "out.csv", Format: "csv"},
		Store:      StoreConfig{Driver: "sqlite", DatabaseURL: "agcensus.db"},
		Server:     ServerConfig{Port: 8080},
	}
}

func TestValidateFetch_Valid(t *testing.T) {
	assert.NoError(t, validFetchConfig().Validate("fetch"))
}

func TestValidateFetch_MissingFields(t *testing.T) {
	cfg := validFetchConfig()
	cfg.QuickStats.APIKey = ""
	cfg.Regions = nil
	cfg.Output.Format = "parquet"

	err := cfg.Validate("fetch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quickstats.api_key is required")
	assert.Contains(t, err.Error(), "regions must not be empty")
	assert.Contains(t, err.Error(), `output.format "parquet"`)
}

func TestValidateFetch_DuplicateMetric(t *testing.T) {
	cfg := validFetchConfig()
	cfg.Metrics = append(cfg.Metrics, MetricConfig{Name: "farms", Description: "X"})
	cfg.Derived = append(cfg.Derived, DerivedConfig{Name: "empty"})

	err := cfg.Validate("fetch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"farms" is duplicated`)
	assert.Contains(t, err.Error(), "derived[2].components must not be empty")
}

func TestValidateFetch_ReservedMetricNames(t *testing.T) {
	cfg := validFetchConfig()
	cfg.Metrics = append(cfg.Metrics,
		MetricConfig{Name: "../escape", Description: "X"},
		MetricConfig{Name: "county_name", Description: "X"},
		MetricConfig{Name: "hay_estimated", Description: "X"},
	)
	cfg.Derived = append(cfg.Derived, DerivedConfig{Name: "sub/dir", Components: []string{"farms"}})

	err := cfg.Validate("fetch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"../escape" must not contain path separators`)
	assert.Contains(t, err.Error(), `"county_name" collides with a key column`)
	assert.Contains(t, err.Error(), `"hay_estimated" must not end in _estimated`)
	assert.Contains(t, err.Error(), `derived[2].name "sub/dir" must not contain path separators`)
}

func TestValidateFetch_OutputExtensionMatchesFormat(t *testing.T) {
	cfg := validFetchConfig()
	cfg.Output.Format = "xlsx"

	err := cfg.Validate("fetch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `output.path "out.csv" must end in .xlsx`)

	cfg.Output.Path = "public/data/ag_data.XLSX"
	assert.NoError(t, cfg.Validate("fetch"))
}

func TestValidateGeocode(t *testing.T) {
	cfg := validFetchConfig()
	err := cfg.Validate("geocode")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "geocode.api_key is required")

	cfg.Geocode = GeocodeConfig{APIKey: "g", Input: "in.csv", Output: "out.csv"}
	assert.NoError(t, cfg.Validate("geocode"))
}

func TestValidatePublish_FallsBackToStoreURL(t *testing.T) {
	cfg := validFetchConfig()
	assert.Error(t, cfg.Validate("publish"))

	cfg.Store = StoreConfig{Driver: "postgres", DatabaseURL: "postgres://localhost/ag"}
	assert.Equal(t, "postgres://localhost/ag", cfg.PublishURL())
	assert.NoError(t, cfg.Validate("publish"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validFetchConfig()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validFetchConfig().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestMetricLookup(t *testing.T) {
	cfg := validFetchConfig()
	m, ok := cfg.Metric("farms_2000_plus_acres")
	require.True(t, ok)
	assert.Equal(t, "AREA OPERATED: (2,000 OR MORE ACRES)", m.Filters["domaincat_desc"])

	_, ok = cfg.Metric("nope")
	assert.False(t, ok)
}

func TestDefaultMetrics_UniqueNames(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range DefaultMetrics() {
		assert.False(t, seen[m.Name], m.Name)
		seen[m.Name] = true
	}
}
