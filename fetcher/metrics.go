package fetcher

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"go.uber.org/zap"

	"sonarharvest/logger"
	"sonarharvest/models"
	"sonarharvest/sonar"
)

// DefaultMetricKeys are the summary measures requested for every repository.
var DefaultMetricKeys = []string{
	"ncloc",
	"complexity",
	"cognitive_complexity",
	"duplicated_lines_density",
	"duplicated_lines",
	"sqale_index",
	"code_smells",
	"functions",
	"classes",
	"comment_lines_density",
}

// MeasureSource is the measures endpoint.
type MeasureSource interface {
	FetchMeasures(ctx context.Context, componentKey string, metricKeys []string) ([]sonar.Measure, error)
}

// MetricsFetcher fetches a fixed set of summary measures per repository.
type MetricsFetcher struct {
	source MeasureSource
	keys   []string
	retry  retrier
}

// NewMetricsFetcher creates a fetcher requesting keys, or DefaultMetricKeys when keys is empty.
func NewMetricsFetcher(source MeasureSource, keys []string, retry RetryConfig) *MetricsFetcher {
	if len(keys) == 0 {
		keys = DefaultMetricKeys
	}
	return &MetricsFetcher{
		source: source,
		keys:   append([]string(nil), keys...),
		retry:  newRetrier(retry),
	}
}

// Fetch returns the repository's metrics. Metrics the service omitted or
// reported with a non-numeric value are absent from the set. On failure it
// returns an empty set alongside an error wrapping ErrMetricsUnavailable.
func (f *MetricsFetcher) Fetch(ctx context.Context, projectKey string) (models.MetricSet, error) {
	log := logger.ForRepository(projectKey)
	metrics := models.MetricSet{}

	var measures []sonar.Measure
	err := f.retry.do(ctx, log, func() error {
		var err error
		measures, err = f.source.FetchMeasures(ctx, projectKey, f.keys)
		return err
	})
	if err != nil {
		return metrics, fmt.Errorf("%w for %s: %w", ErrMetricsUnavailable, projectKey, err)
	}

	wanted := make(map[string]bool, len(f.keys))
	for _, k := range f.keys {
		wanted[k] = true
	}
	for _, m := range measures {
		if !wanted[m.Metric] {
			continue
		}
		v, err := strconv.ParseFloat(m.Value, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			log.Debug("Skipping non-numeric measure",
				zap.String("metric", m.Metric),
				zap.String("value", m.Value))
			continue
		}
		metrics[m.Metric] = v
	}

	log.Info("Fetched metrics",
		zap.Int("requested", len(f.keys)),
		zap.Int("available", len(metrics)))
	return metrics, nil
}
