// Package service wires configuration, storage and the analysis service
// client into the harvest and analyze commands.
package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"sonarharvest/aggregate"
	"sonarharvest/config"
	"sonarharvest/dataset"
	"sonarharvest/db"
	"sonarharvest/discovery"
	"sonarharvest/fetcher"
	"sonarharvest/logger"
	"sonarharvest/report"
	"sonarharvest/sonar"
)

// Service errors
var (
	ErrServiceInit     = fmt.Errorf("service initialization error")
	ErrServiceShutdown = fmt.Errorf("service shutdown error")
)

// Service represents the main application service
type Service struct {
	config   *config.Config
	database *db.DB
	metrics  *Metrics
}

// NewService migrates the schema and opens the database described by cfg.
func NewService(cfg *config.Config) (*Service, error) {
	opts := cfg.DatabaseOptions()
	if _, err := db.Migrate(opts, db.LatestVersion); err != nil {
		return nil, fmt.Errorf("%w: failed to migrate database: %v", ErrServiceInit, err)
	}

	database, err := db.New(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize database: %v", ErrServiceInit, err)
	}

	logger.Info("Service initialized successfully",
		zap.String("db_backend", cfg.DBBackend),
		zap.Int("concurrency", cfg.Concurrency),
		zap.Int("page_size", cfg.PageSize))

	return &Service{
		config:   cfg,
		database: database,
		metrics:  NewMetrics(),
	}, nil
}

// MetricsHandler serves the run's Prometheus collectors.
func (s *Service) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

// Harvest loads and filters the repository list, harvests every repository
// and writes the summary. With reset the crawl ledger is cleared first.
func (s *Service) Harvest(ctx context.Context, reset bool) (aggregate.Summary, error) {
	cfg := s.config
	if err := cfg.ValidateHarvest(); err != nil {
		return aggregate.Summary{}, err
	}

	repos, err := discovery.Load(cfg.RepositoriesFile)
	if err != nil {
		return aggregate.Summary{}, err
	}
	selected := discovery.Filter(repos, cfg.Filter, time.Now())
	logger.Info("Repositories selected",
		zap.Int("loaded", len(repos)),
		zap.Int("selected", len(selected)))

	if reset {
		if err := s.database.ResetLedger(ctx); err != nil {
			return aggregate.Summary{}, err
		}
	}

	client, err := sonar.NewClient(cfg.SonarURL, cfg.SonarToken, cfg.RequestTimeout)
	if err != nil {
		return aggregate.Summary{}, fmt.Errorf("%w: %v", ErrServiceInit, err)
	}
	issues := fetcher.NewIssueHarvester(client, fetcher.HarvesterConfig{
		PageSize: cfg.PageSize,
		Retry:    cfg.Retry(),
	})
	measures := fetcher.NewMetricsFetcher(client, cfg.MetricKeys, cfg.Retry())

	driver := NewDriver(s.database, issues, measures, DriverOptions{
		Concurrency: cfg.Concurrency,
		Progress:    cfg.Progress,
		Metrics:     s.metrics,
	})
	result, err := driver.Run(ctx, selected)
	if err != nil {
		return aggregate.Summary{}, err
	}

	summary, err := s.publish(result.Dataset.Snapshot())
	if err != nil {
		return aggregate.Summary{}, err
	}
	summary.Failures = result.Failures
	return summary, s.writeSummary(summary)
}

// Analyze rebuilds the dataset and the failure list from the database and
// writes the summary without contacting the analysis service.
func (s *Service) Analyze(ctx context.Context) (aggregate.Summary, error) {
	records, err := s.database.LoadRecords(ctx)
	if err != nil {
		return aggregate.Summary{}, err
	}

	ds := dataset.New()
	for _, rec := range records {
		if err := ds.Put(rec); err != nil {
			return aggregate.Summary{}, fmt.Errorf("stored record of %s is inconsistent: %w", rec.Repository.ProjectKey, err)
		}
	}
	logger.Info("Dataset loaded from database", zap.Int("repositories", ds.Len()))

	failures, err := s.database.LoadFailures(ctx)
	if err != nil {
		return aggregate.Summary{}, err
	}

	summary, err := s.publish(ds.Snapshot())
	if err != nil {
		return aggregate.Summary{}, err
	}
	summary.Failures = failures
	return summary, s.writeSummary(summary)
}

// publish summarizes snap and writes the optional Parquet export.
func (s *Service) publish(snap dataset.Snapshot) (aggregate.Summary, error) {
	summary, err := aggregate.Summarize(snap, s.config.AggregateOptions())
	if err != nil {
		return aggregate.Summary{}, err
	}

	if s.config.ParquetFile != "" {
		n, err := report.WriteIssuesParquet(s.config.ParquetFile, snap)
		if err != nil {
			return aggregate.Summary{}, err
		}
		logger.Info("Wrote Parquet issue export", zap.String("file", s.config.ParquetFile), zap.Int("rows", n))
	}
	return summary, nil
}

func (s *Service) writeSummary(summary aggregate.Summary) error {
	if err := report.WriteFile(s.config.SummaryFile, summary, s.config.SummaryFormat); err != nil {
		return err
	}
	if s.config.SummaryFile != "" {
		logger.Info("Wrote summary", zap.String("file", s.config.SummaryFile), zap.String("format", s.config.SummaryFormat))
	}
	return nil
}

// Close performs cleanup operations
func (s *Service) Close() error {
	logger.Info("Closing service")
	if err := s.database.Close(); err != nil {
		return fmt.Errorf("%w: failed to close database: %v", ErrServiceShutdown, err)
	}
	return nil
}
