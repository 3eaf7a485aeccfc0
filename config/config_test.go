package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sonarharvest/aggregate"
	"sonarharvest/db"
	"sonarharvest/fetcher"
)

func TestLoadDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Load(""))

	assert.Equal(t, fetcher.DefaultPageSize, cfg.PageSize)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 1, cfg.Concurrency)
	assert.Equal(t, fetcher.DefaultMetricKeys, cfg.MetricKeys)
	assert.Equal(t, string(db.BackendSQLite), cfg.DBBackend)
	assert.Equal(t, "json", cfg.SummaryFormat)
	assert.Equal(t, aggregate.Truncation{Mode: aggregate.ModeTopK, K: 10, Share: 0.8}, cfg.Truncation())

	assert.EqualError(t, cfg.ValidateHarvest(), "SONAR_URL is required")
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SONAR_URL", "http://sonar.local:9000")
	t.Setenv("SONAR_TOKEN", "squ_abc")
	t.Setenv("PAGE_SIZE", "500")
	t.Setenv("CONCURRENCY", "4")
	t.Setenv("METRIC_KEYS", "ncloc, complexity,,")
	t.Setenv("DB_BACKEND", "Postgres")
	t.Setenv("DB_DSN", "postgres://u:p@localhost/sonar?sslmode=disable")
	t.Setenv("RULE_MODE", "cumulative")
	t.Setenv("RULE_SHARE", "0.9")
	t.Setenv("FILTER_MIN_STARS", "50")
	t.Setenv("FILTER_MAX_LAST_COMMIT_YEARS", "2")
	t.Setenv("PROGRESS", "true")

	cfg := NewConfig()
	require.NoError(t, cfg.Load(""))
	require.NoError(t, cfg.ValidateHarvest())

	assert.Equal(t, "squ_abc", cfg.SonarToken)
	assert.Equal(t, 500, cfg.PageSize)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, []string{"ncloc", "complexity"}, cfg.MetricKeys)
	assert.True(t, cfg.Progress)
	assert.Equal(t, 50, cfg.Filter.MinStars)
	assert.Equal(t, 2, cfg.Filter.MaxLastCommitYears)

	opts := cfg.DatabaseOptions()
	assert.Equal(t, db.BackendPostgres, opts.Backend)
	assert.Equal(t, "postgres://u:p@localhost/sonar?sslmode=disable", opts.DSN)

	agg := cfg.AggregateOptions()
	assert.Equal(t, aggregate.ModeCumulative, agg.Rules.Mode)
	assert.InDelta(t, 0.9, agg.Rules.Share, 1e-12)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sonarharvest.env")
	content := "SONAR_URL=http://from-file:9000\nMAX_RETRIES=5\nRETRY_BASE_DELAY=250ms\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("MAX_RETRIES", "7")

	cfg := NewConfig()
	require.NoError(t, cfg.Load(path))
	assert.Equal(t, "http://from-file:9000", cfg.SonarURL)
	assert.Equal(t, 7, cfg.MaxRetries, "environment overrides the file")
	assert.Equal(t, 250*time.Millisecond, cfg.Retry().BaseDelay)
}

func TestLoadMissingFile(t *testing.T) {
	cfg := NewConfig()
	assert.Error(t, cfg.Load(filepath.Join(t.TempDir(), "absent.yaml")))
}

func TestLoadValidation(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
	}{
		{"page size too large", map[string]string{"PAGE_SIZE": "501"}},
		{"page size zero", map[string]string{"PAGE_SIZE": "0"}},
		{"negative retries", map[string]string{"MAX_RETRIES": "-1"}},
		{"zero concurrency", map[string]string{"CONCURRENCY": "0"}},
		{"unknown backend", map[string]string{"DB_BACKEND": "oracle"}},
		{"postgres without dsn", map[string]string{"DB_BACKEND": "postgres"}},
		{"unknown format", map[string]string{"SUMMARY_FORMAT": "xml"}},
		{"bad rule share", map[string]string{"RULE_MODE": "cumulative", "RULE_SHARE": "1.5"}},
		{"unknown rule mode", map[string]string{"RULE_MODE": "median"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			assert.Error(t, NewConfig().Load(""))
		})
	}
}
