package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/agcensus/internal/dataset"
)

// DefaultRegions are the state alpha codes fetched when none are configured.
var DefaultRegions = []string{"OR", "WA", "CA", "NV", "ID", "MT"}

// Config holds the full application configuration.
type Config struct {
	QuickStats QuickStatsConfig `yaml:"quickstats" mapstructure:"quickstats"`
	Regions    []string         `yaml:"regions" mapstructure:"regions"`
	Metrics    []MetricConfig   `yaml:"metrics" mapstructure:"metrics"`
	Derived    []DerivedConfig  `yaml:"derived" mapstructure:"derived"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Publish    PublishConfig    `yaml:"publish" mapstructure:"publish"`
	Geocode    GeocodeConfig    `yaml:"geocode" mapstructure:"geocode"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// QuickStatsConfig configures the USDA NASS QuickStats API client.
type QuickStatsConfig struct {
	APIKey               string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL              string `yaml:"base_url" mapstructure:"base_url"`
	SourceDesc           string `yaml:"source_desc" mapstructure:"source_desc"`
	Year                 int    `yaml:"year" mapstructure:"year"`
	AggLevelDesc         string `yaml:"agg_level_desc" mapstructure:"agg_level_desc"`
	TimeoutSecs          int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts          int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryDelaySecs       int    `yaml:"retry_delay_secs" mapstructure:"retry_delay_secs"`
	RateLimitBackoffSecs int    `yaml:"rate_limit_backoff_secs" mapstructure:"rate_limit_backoff_secs"`
	RequestDelayMs       int    `yaml:"request_delay_ms" mapstructure:"request_delay_ms"`
}

// Timeout returns the per-request timeout.
func (q QuickStatsConfig) Timeout() time.Duration {
	return time.Duration(q.TimeoutSecs) * time.Second
}

// RequestDelay returns the politeness pause between requests.
func (q QuickStatsConfig) RequestDelay() time.Duration {
	return time.Duration(q.RequestDelayMs) * time.Millisecond
}

// MetricConfig declares one QuickStats metric: the output column name, the
// short_desc it is queried by, and any extra query filters.
type MetricConfig struct {
	Name        string            `yaml:"name" mapstructure:"name"`
	Description string            `yaml:"description" mapstructure:"description"`
	Filters     map[string]string `yaml:"filters,omitempty" mapstructure:"filters"`
}

// DerivedConfig declares a column computed as the null-safe sum of others.
type DerivedConfig struct {
	Name       string   `yaml:"name" mapstructure:"name"`
	Components []string `yaml:"components" mapstructure:"components"`
}

// CacheConfig configures the per-metric on-disk cache.
type CacheConfig struct {
	Dir         string `yaml:"dir" mapstructure:"dir"`
	MaxAgeHours int    `yaml:"max_age_hours" mapstructure:"max_age_hours"`
}

// MaxAge returns the cache entry lifetime; zero means entries never expire.
func (c CacheConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeHours) * time.Hour
}

// OutputConfig configures the merged dataset artifact.
type OutputConfig struct {
	Path              string `yaml:"path" mapstructure:"path"`
	Format            string `yaml:"format" mapstructure:"format"`
	IncludeProvenance bool   `yaml:"include_provenance" mapstructure:"include_provenance"`
}

// StoreConfig configures the run ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// PublishConfig configures the Postgres target for `publish`.
type PublishConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// GeocodeConfig configures the address geocoding utility.
type GeocodeConfig struct {
	APIKey         string         `yaml:"api_key" mapstructure:"api_key"`
	BaseURL        string         `yaml:"base_url" mapstructure:"base_url"`
	CensusBaseURL  string         `yaml:"census_base_url" mapstructure:"census_base_url"`
	Input          string         `yaml:"input" mapstructure:"input"`
	Output         string         `yaml:"output" mapstructure:"output"`
	GeoJSON        string         `yaml:"geojson" mapstructure:"geojson"`
	Shapefile      string         `yaml:"shapefile" mapstructure:"shapefile"`
	DelayMs        int            `yaml:"delay_ms" mapstructure:"delay_ms"`
	CensusFallback bool           `yaml:"census_fallback" mapstructure:"census_fallback"`
	Columns        GeocodeColumns `yaml:"columns" mapstructure:"columns"`
}

// Delay returns the pause between geocoded rows.
func (g GeocodeConfig) Delay() time.Duration {
	return time.Duration(g.DelayMs) * time.Millisecond
}

// GeocodeColumns maps address components to input header names. An empty
// mapping means the component is not sent.
type GeocodeColumns struct {
	Street     string `yaml:"street" mapstructure:"street"`
	City       string `yaml:"city" mapstructure:"city"`
	State      string `yaml:"state" mapstructure:"state"`
	PostalCode string `yaml:"postalcode" mapstructure:"postalcode"`
	Country    string `yaml:"country" mapstructure:"country"`
}

// ServerConfig configures the read-only dataset API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	// Dir receives one log file per run. Empty disables file logging.
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("AGCENSUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Conventional unprefixed names are honored as fallbacks.
	_ = v.BindEnv("quickstats.api_key", "AGCENSUS_QUICKSTATS_API_KEY", "NASS_API_KEY")
	_ = v.BindEnv("geocode.api_key", "AGCENSUS_GEOCODE_API_KEY", "GEOCODING_API_KEY")

	// Defaults
	v.SetDefault("quickstats.base_url", "https://quickstats.nass.usda.gov/api/api_GET/")
	v.SetDefault("quickstats.source_desc", "CENSUS")
	v.SetDefault("quickstats.year", 2022)
	v.SetDefault("quickstats.agg_level_desc", "COUNTY")
	v.SetDefault("quickstats.timeout_secs", 30)
	v.SetDefault("quickstats.max_attempts", 3)
	v.SetDefault("quickstats.retry_delay_secs", 5)
	v.SetDefault("quickstats.rate_limit_backoff_secs", 10)
	v.SetDefault("quickstats.request_delay_ms", 2000)
	v.SetDefault("regions", DefaultRegions)
	v.SetDefault("cache.dir", "cache")
	v.SetDefault("cache.max_age_hours", 0)
	v.SetDefault("output.path", "public/data/ag_data.csv")
	v.SetDefault("output.format", "csv")
	v.SetDefault("output.include_provenance", false)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "agcensus.db")
	v.SetDefault("geocode.base_url", "https://geocode.maps.co/search")
	v.SetDefault("geocode.census_base_url", "https://geocoding.geo.census.gov")
	v.SetDefault("geocode.input", "locations.csv")
	v.SetDefault("geocode.output", "locations_geocoded.csv")
	v.SetDefault("geocode.delay_ms", 1100)
	v.SetDefault("geocode.census_fallback", false)
	v.SetDefault("geocode.columns.street", "Street Address")
	v.SetDefault("geocode.columns.city", "City")
	v.SetDefault("geocode.columns.state", "State")
	v.SetDefault("geocode.columns.postalcode", "Zip")
	v.SetDefault("geocode.columns.country", "Country")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.dir", "logs")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	// List-of-struct defaults are applied here rather than through viper so
	// a configured catalog replaces the default one wholesale.
	if len(cfg.Metrics) == 0 {
		cfg.Metrics = DefaultMetrics()
	}
	if len(cfg.Derived) == 0 {
		cfg.Derived = DefaultDerived()
	}
	for i, r := range cfg.Regions {
		cfg.Regions[i] = strings.ToUpper(strings.TrimSpace(r))
	}

	return &cfg, nil
}

// Metric returns the metric named name.
func (c *Config) Metric(name string) (MetricConfig, bool) {
	for _, m := range c.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return MetricConfig{}, false
}

// Validate checks that the fields required by mode are present.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "fetch":
		if c.QuickStats.APIKey == "" {
			errs = append(errs, "quickstats.api_key is required")
		}
		if c.QuickStats.BaseURL == "" {
			errs = append(errs, "quickstats.base_url is required")
		}
		if c.QuickStats.Year <= 0 {
			errs = append(errs, "quickstats.year must be > 0")
		}
		if c.QuickStats.MaxAttempts < 1 {
			errs = append(errs, "quickstats.max_attempts must be >= 1")
		}
		if len(c.Regions) == 0 {
			errs = append(errs, "regions must not be empty")
		}
		errs = append(errs, c.validateCatalog()...)
		switch c.Output.Format {
		case "csv", "xlsx":
			if ext := strings.ToLower(filepath.Ext(c.Output.Path)); ext != "."+c.Output.Format {
				errs = append(errs, fmt.Sprintf("output.path %q must end in .%s for output.format %s",
					c.Output.Path, c.Output.Format, c.Output.Format))
			}
		default:
			errs = append(errs, fmt.Sprintf("output.format %q must be csv or xlsx", c.Output.Format))
		}
		errs = append(errs, c.validateStore()...)
	case "geocode":
		if c.Geocode.APIKey == "" {
			errs = append(errs, "geocode.api_key is required")
		}
		if c.Geocode.Input == "" {
			errs = append(errs, "geocode.input is required")
		}
		if c.Geocode.Output == "" {
			errs = append(errs, "geocode.output is required")
		}
	case "publish":
		if c.PublishURL() == "" {
			errs = append(errs, "publish.database_url is required (or store.driver=postgres with store.database_url)")
		}
		if c.Output.Path == "" {
			errs = append(errs, "output.path is required")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Output.Path == "" {
			errs = append(errs, "output.path is required")
		}
	case "runs":
		errs = append(errs, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed for %s: %s", mode, strings.Join(errs, "; "))
	}
	return nil
}

// PublishURL returns the Postgres URL for publish, falling back to the
// run ledger's database when it is Postgres.
func (c *Config) PublishURL() string {
	if c.Publish.DatabaseURL != "" {
		return c.Publish.DatabaseURL
	}
	if c.Store.Driver == "postgres" {
		return c.Store.DatabaseURL
	}
	return ""
}

func (c *Config) validateCatalog() []string {
	var errs []string
	if len(c.Metrics) == 0 {
		errs = append(errs, "metrics must not be empty")
	}
	seen := make(map[string]bool, len(c.Metrics))
	for i, m := range c.Metrics {
		switch {
		case m.Name == "":
			errs = append(errs, fmt.Sprintf("metrics[%d].name is required", i))
		case seen[m.Name]:
			errs = append(errs, fmt.Sprintf("metrics[%d].name %q is duplicated", i, m.Name))
		}
		seen[m.Name] = true
		if reason := reservedName(m.Name); reason != "" {
			errs = append(errs, fmt.Sprintf("metrics[%d].name %q %s", i, m.Name, reason))
		}
		if m.Description == "" {
			errs = append(errs, fmt.Sprintf("metrics[%d].description is required", i))
		}
	}
	for i, d := range c.Derived {
		if d.Name == "" {
			errs = append(errs, fmt.Sprintf("derived[%d].name is required", i))
		} else if reason := reservedName(d.Name); reason != "" {
			errs = append(errs, fmt.Sprintf("derived[%d].name %q %s", i, d.Name, reason))
		}
		if len(d.Components) == 0 {
			errs = append(errs, fmt.Sprintf("derived[%d].components must not be empty", i))
		}
	}
	return errs
}

// reservedName explains why name cannot be a metric column, or returns "".
// Names become cache file names and wide-table headers.
func reservedName(name string) string {
	switch {
	case name == "." || name == ".." || strings.ContainsAny(name, `/\`):
		return "must not contain path separators or be a relative path"
	case name == dataset.ColRegion || name == dataset.ColCounty || name == dataset.ColYear:
		return "collides with a key column"
	case strings.HasSuffix(name, dataset.ProvenanceSuffix):
		return "must not end in " + dataset.ProvenanceSuffix
	}
	return ""
}

func (c *Config) validateStore() []string {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return []string{fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver)}
	}
	if c.Store.DatabaseURL == "" {
		return []string{"store.database_url is required"}
	}
	return nil
}

// RunLogPath returns the per-run log file path under dir.
func RunLogPath(dir string, started time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("agcensus_%s.log", started.Format("20060102_150405")))
}

// InitLogger builds the process logger, writing to stderr and, when
// cfg.Dir is set, to a per-run log file. The logger also replaces the zap
// globals for command-level code.
func InitLogger(cfg LogConfig, started time.Time) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	zapCfg.OutputPaths = []string{"stderr"}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "config: create log dir %s", cfg.Dir)
		}
		zapCfg.OutputPaths = append(zapCfg.OutputPaths, RunLogPath(cfg.Dir, started))
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return logger, nil
}
