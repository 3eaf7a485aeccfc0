package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"sonarharvest/aggregate"
	"sonarharvest/db"
	"sonarharvest/discovery"
	"sonarharvest/fetcher"
	"sonarharvest/report"
)

// maxPageSize is the largest page the issue search endpoint accepts.
const maxPageSize = 500

// Config holds all configuration for the application
type Config struct {
	SonarURL       string
	SonarToken     string
	PageSize       int
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RequestTimeout time.Duration
	Concurrency    int
	MetricKeys     []string

	DBBackend string
	DBDSN     string

	LogLevel         string
	RepositoriesFile string
	SummaryFile      string
	SummaryFormat    string
	ParquetFile      string
	MetricsAddr      string
	Progress         bool

	TopN      int
	RuleMode  string
	RuleShare float64

	Filter discovery.Thresholds
}

// NewConfig creates a new Config instance
func NewConfig() *Config {
	return &Config{}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PAGE_SIZE", fetcher.DefaultPageSize)
	v.SetDefault("MAX_RETRIES", 3)
	v.SetDefault("RETRY_BASE_DELAY", "1s")
	v.SetDefault("RETRY_MAX_DELAY", "30s")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("CONCURRENCY", 1)
	v.SetDefault("METRIC_KEYS", strings.Join(fetcher.DefaultMetricKeys, ","))
	v.SetDefault("DB_BACKEND", string(db.BackendSQLite))
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REPOSITORIES_FILE", "repositories.json")
	v.SetDefault("SUMMARY_FORMAT", report.FormatJSON)
	v.SetDefault("TOP_N", 10)
	v.SetDefault("RULE_MODE", string(aggregate.ModeTopK))
	v.SetDefault("RULE_SHARE", 0.8)
}

// Load loads configuration from environment variables and, when path is not
// empty, from a config file (.env, .yaml, .json, ...). Environment wins.
func (c *Config) Load(path string) error {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	c.SonarURL = v.GetString("SONAR_URL")
	c.SonarToken = v.GetString("SONAR_TOKEN")
	c.PageSize = v.GetInt("PAGE_SIZE")
	c.MaxRetries = v.GetInt("MAX_RETRIES")
	c.RetryBaseDelay = v.GetDuration("RETRY_BASE_DELAY")
	c.RetryMaxDelay = v.GetDuration("RETRY_MAX_DELAY")
	c.RequestTimeout = v.GetDuration("REQUEST_TIMEOUT")
	c.Concurrency = v.GetInt("CONCURRENCY")
	c.MetricKeys = splitList(v.GetString("METRIC_KEYS"))

	c.DBBackend = strings.ToLower(v.GetString("DB_BACKEND"))
	c.DBDSN = v.GetString("DB_DSN")

	c.LogLevel = v.GetString("LOG_LEVEL")
	c.RepositoriesFile = v.GetString("REPOSITORIES_FILE")
	c.SummaryFile = v.GetString("SUMMARY_FILE")
	c.SummaryFormat = strings.ToLower(v.GetString("SUMMARY_FORMAT"))
	c.ParquetFile = v.GetString("PARQUET_FILE")
	c.MetricsAddr = v.GetString("METRICS_ADDR")
	c.Progress = v.GetBool("PROGRESS")

	c.TopN = v.GetInt("TOP_N")
	c.RuleMode = strings.ToLower(v.GetString("RULE_MODE"))
	c.RuleShare = v.GetFloat64("RULE_SHARE")

	c.Filter = discovery.Thresholds{
		MinStars:           v.GetInt("FILTER_MIN_STARS"),
		MinForks:           v.GetInt("FILTER_MIN_FORKS"),
		MinCommits:         v.GetInt("FILTER_MIN_COMMITS"),
		MinWatchers:        v.GetInt("FILTER_MIN_WATCHERS"),
		MinOpenIssues:      v.GetInt("FILTER_MIN_OPEN_ISSUES"),
		MinContributors:    v.GetInt("FILTER_MIN_CONTRIBUTORS"),
		MaxLastCommitYears: v.GetInt("FILTER_MAX_LAST_COMMIT_YEARS"),
	}

	return c.Validate()
}

// Validate checks values that every command depends on.
func (c *Config) Validate() error {
	if c.PageSize < 1 || c.PageSize > maxPageSize {
		return fmt.Errorf("PAGE_SIZE must be between 1 and %d, got %d", maxPageSize, c.PageSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES cannot be negative")
	}
	if c.RetryBaseDelay < 0 || c.RetryMaxDelay < 0 {
		return fmt.Errorf("retry delays cannot be negative")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("CONCURRENCY must be at least 1, got %d", c.Concurrency)
	}
	switch db.Backend(c.DBBackend) {
	case db.BackendPostgres:
		if c.DBDSN == "" {
			return fmt.Errorf("DB_DSN is required for the postgres backend")
		}
	case db.BackendSQLite:
	default:
		return fmt.Errorf("unsupported DB_BACKEND %q", c.DBBackend)
	}
	switch c.SummaryFormat {
	case report.FormatJSON, report.FormatYAML, report.FormatText:
	default:
		return fmt.Errorf("unsupported SUMMARY_FORMAT %q", c.SummaryFormat)
	}
	if err := c.Truncation().Validate(); err != nil {
		return fmt.Errorf("invalid rule truncation: %w", err)
	}
	return nil
}

// ValidateHarvest checks the settings needed to talk to the analysis service.
func (c *Config) ValidateHarvest() error {
	if c.SonarURL == "" {
		return fmt.Errorf("SONAR_URL is required")
	}
	if c.RepositoriesFile == "" {
		return fmt.Errorf("REPOSITORIES_FILE is required")
	}
	return nil
}

// DatabaseOptions returns the connection settings for the db package.
func (c *Config) DatabaseOptions() db.Options {
	opts := db.DefaultOptions()
	opts.Backend = db.Backend(c.DBBackend)
	opts.DSN = c.DBDSN
	return opts
}

// Retry returns the backoff policy for service requests.
func (c *Config) Retry() fetcher.RetryConfig {
	return fetcher.RetryConfig{
		MaxRetries: c.MaxRetries,
		BaseDelay:  c.RetryBaseDelay,
		MaxDelay:   c.RetryMaxDelay,
	}
}

// Truncation returns the rule histogram truncation.
func (c *Config) Truncation() aggregate.Truncation {
	return aggregate.Truncation{
		Mode:  aggregate.Mode(c.RuleMode),
		K:     c.TopN,
		Share: c.RuleShare,
	}
}

// AggregateOptions returns the options passed to aggregate.Summarize.
func (c *Config) AggregateOptions() aggregate.Options {
	opts := aggregate.DefaultOptions()
	opts.TopComponents = c.TopN
	opts.Rules = c.Truncation()
	return opts
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
