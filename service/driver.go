package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sonarharvest/dataset"
	"sonarharvest/fetcher"
	"sonarharvest/logger"
	"sonarharvest/models"
)

// ErrLedgerWrite aborts a run when a completed harvest cannot be recorded.
var ErrLedgerWrite = errors.New("crawl ledger write failed")

// Store abstracts the durable storage the driver needs
// (for testability)
type Store interface {
	LoadLedger(ctx context.Context) (map[string]bool, error)
	MarkHarvested(ctx context.Context, projectKey string) error
	StoreHarvest(ctx context.Context, rec dataset.Record) error
	LoadRecord(ctx context.Context, projectKey string) (dataset.Record, error)
	RecordFailures(ctx context.Context, projectKey string, failures []models.HarvestFailure) error
}

// IssueHarvester abstracts paginated issue harvesting
type IssueHarvester interface {
	Harvest(ctx context.Context, projectKey string) (*fetcher.HarvestResult, error)
	HarvestFrom(ctx context.Context, projectKey string, page int) (*fetcher.HarvestResult, error)
}

// MetricsFetcher abstracts the per-repository measures request
type MetricsFetcher interface {
	Fetch(ctx context.Context, projectKey string) (models.MetricSet, error)
}

// DriverOptions configures a Driver.
type DriverOptions struct {
	// Concurrency is the number of repositories harvested at once.
	Concurrency int
	Progress    bool
	// ProgressWriter defaults to stderr.
	ProgressWriter io.Writer
	Metrics        *Metrics
}

// RunResult is the outcome of one harvest run.
type RunResult struct {
	Dataset   *dataset.Dataset
	Failures  []models.HarvestFailure
	Harvested int
	Partial   int
	Skipped   int
	Failed    int

	mu sync.Mutex
}

func (r *RunResult) record(outcome string, failures ...models.HarvestFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failures = append(r.Failures, failures...)
	switch outcome {
	case OutcomeHarvested:
		r.Harvested++
	case OutcomePartial:
		r.Partial++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
}

// Driver harvests a list of repositories into a dataset, skipping those the
// crawl ledger already marks as complete.
type Driver struct {
	store   Store
	issues  IssueHarvester
	metrics MetricsFetcher
	opts    DriverOptions
}

// NewDriver creates a driver.
func NewDriver(store Store, issues IssueHarvester, metrics MetricsFetcher, opts DriverOptions) *Driver {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.ProgressWriter == nil {
		opts.ProgressWriter = os.Stderr
	}
	return &Driver{store: store, issues: issues, metrics: metrics, opts: opts}
}

// Run harvests repos. Per-repository problems are collected in the result;
// an error is returned only for cancellation, ledger failures or a broken
// record. The result is returned in every case.
func (d *Driver) Run(ctx context.Context, repos []models.Repository) (*RunResult, error) {
	result := &RunResult{Dataset: dataset.New()}

	ledger, err := d.store.LoadLedger(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to load crawl ledger: %w", err)
	}

	logger.Info("Starting harvest",
		zap.Int("repositories", len(repos)),
		zap.Int("already_harvested", len(ledger)),
		zap.Int("concurrency", d.opts.Concurrency))

	bar := d.newProgress(len(repos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)
	for _, repo := range repos {
		harvested := ledger[repo.ProjectKey]
		g.Go(func() error {
			defer bar.step(repo.ProjectKey)
			return d.processRepository(gctx, repo, harvested, result)
		})
	}
	err = g.Wait()
	bar.finish()

	sort.SliceStable(result.Failures, func(i, j int) bool {
		if result.Failures[i].ProjectKey != result.Failures[j].ProjectKey {
			return result.Failures[i].ProjectKey < result.Failures[j].ProjectKey
		}
		return result.Failures[i].Stage < result.Failures[j].Stage
	})

	logger.Info("Harvest finished",
		zap.Int("harvested", result.Harvested),
		zap.Int("partial", result.Partial),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Error(err))
	return result, err
}

// processRepository handles a single repository
func (d *Driver) processRepository(ctx context.Context, repo models.Repository, harvested bool, result *RunResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := repo.ProjectKey
	log := logger.ForRepository(key)

	if harvested {
		rec, err := d.store.LoadRecord(ctx, key)
		if err == nil {
			rec.Repository.Harvested = true
			if err := result.Dataset.Put(rec); err != nil {
				return fmt.Errorf("stored record of %s is inconsistent: %w", key, err)
			}
			log.Info("Skipping repository already harvested", zap.Int("issues", rec.IssueCount()))
			result.record(OutcomeSkipped)
			d.opts.Metrics.observeOutcome(OutcomeSkipped)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("Harvested repository missing from store, harvesting again", zap.Error(err))
	}

	start := time.Now()
	var failures []models.HarvestFailure

	issues, err := d.harvestIssues(ctx, log, key)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		failure := models.HarvestFailure{ProjectKey: key, Stage: models.StageIssues, Error: err.Error()}
		var herr *fetcher.HarvestError
		if errors.As(err, &herr) {
			failure.Page = herr.Page
		}
		if issues != nil {
			failure.Fetched = len(issues.Issues)
			failure.Declared = issues.DeclaredTotal
		}
		if issues == nil || !errors.Is(err, fetcher.ErrRetriesExhausted) {
			log.Error("Failed to harvest issues", zap.Int("page", failure.Page), zap.Error(err))
			d.fail(ctx, result, failure)
			return nil
		}
		// keep what arrived, the ledger stays unmarked so the next run retries
		log.Warn("Keeping partial issue harvest",
			zap.Int("page", failure.Page),
			zap.Int("fetched", failure.Fetched),
			zap.Int("declared", failure.Declared),
			zap.Error(err))
		failure.Partial = true
		issues.Partial = true
		failures = append(failures, failure)
	} else if issues.Partial {
		failures = append(failures, models.HarvestFailure{
			ProjectKey: key,
			Stage:      models.StageIssues,
			Partial:    true,
			Fetched:    len(issues.Issues),
			Declared:   issues.DeclaredTotal,
		})
	}
	d.opts.Metrics.observeIssues(len(issues.Issues))

	metrics, err := d.metrics.Fetch(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("Continuing without metrics", zap.Error(err))
		failures = append(failures, models.HarvestFailure{ProjectKey: key, Stage: models.StageMetrics, Error: err.Error()})
		metrics = models.MetricSet{}
	}

	rec := dataset.Record{
		Repository: repo,
		Issues:     issues.Issues,
		Metrics:    metrics,
		Partial:    issues.Partial,
	}

	stored := true
	if err := d.store.StoreHarvest(ctx, rec); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("Failed to store harvest", zap.Error(err))
		failures = append(failures, models.HarvestFailure{ProjectKey: key, Stage: models.StageStore, Error: err.Error()})
		stored = false
	}
	d.recordFailures(ctx, key, failures)

	// only complete, durable harvests are skipped next time
	if stored && !rec.Partial {
		if err := d.store.MarkHarvested(ctx, key); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s: %v", ErrLedgerWrite, key, err)
		}
		rec.Repository.Harvested = true
	}

	if err := result.Dataset.Put(rec); err != nil {
		return fmt.Errorf("harvested record of %s is inconsistent: %w", key, err)
	}

	outcome := OutcomeHarvested
	if rec.Partial {
		outcome = OutcomePartial
	}
	for _, f := range failures {
		d.opts.Metrics.observeFailure(f.Stage)
	}
	result.record(outcome, failures...)
	d.opts.Metrics.observeOutcome(outcome)
	d.opts.Metrics.observeDuration(time.Since(start).Seconds())

	log.Info("Successfully processed repository",
		zap.Int("issues", len(rec.Issues)),
		zap.Int("metrics", len(rec.Metrics)),
		zap.Bool("partial", rec.Partial))
	return nil
}

// harvestIssues harvests key's issues. When retries run out part way the
// harvest resumes once from the failed page and the two parts are merged.
// A harvest that still stops short is returned with its error.
func (d *Driver) harvestIssues(ctx context.Context, log *zap.Logger, key string) (*fetcher.HarvestResult, error) {
	first, err := d.issues.Harvest(ctx, key)
	var herr *fetcher.HarvestError
	if err == nil || first == nil || !errors.Is(err, fetcher.ErrRetriesExhausted) || !errors.As(err, &herr) || ctx.Err() != nil {
		return first, err
	}

	log.Warn("Resuming issue harvest from failed page",
		zap.Int("page", herr.Page),
		zap.Int("fetched", len(first.Issues)))
	rest, err := d.issues.HarvestFrom(ctx, key, herr.Page)
	return mergeHarvest(first, rest, err != nil), err
}

// mergeHarvest appends rest to first, skipping issues already present.
func mergeHarvest(first, rest *fetcher.HarvestResult, failed bool) *fetcher.HarvestResult {
	merged := &fetcher.HarvestResult{
		ProjectKey:    first.ProjectKey,
		Issues:        append([]models.Issue(nil), first.Issues...),
		DeclaredTotal: first.DeclaredTotal,
		Pages:         first.Pages,
		Partial:       true,
	}
	if rest == nil {
		return merged
	}

	seen := make(map[string]bool, len(merged.Issues))
	for _, issue := range merged.Issues {
		seen[issue.Key] = true
	}
	for _, issue := range rest.Issues {
		if !seen[issue.Key] {
			seen[issue.Key] = true
			merged.Issues = append(merged.Issues, issue)
		}
	}
	if rest.Pages > 0 {
		merged.DeclaredTotal = rest.DeclaredTotal
	}
	merged.Pages += rest.Pages
	merged.Partial = failed || rest.Partial
	return merged
}

// recordFailures persists this attempt's failures for key. Losing them only
// costs the analyze summary its failure list, so errors are logged.
func (d *Driver) recordFailures(ctx context.Context, key string, failures []models.HarvestFailure) {
	if err := d.store.RecordFailures(ctx, key, failures); err != nil && ctx.Err() == nil {
		logger.ForRepository(key).Warn("Failed to record harvest failures", zap.Error(err))
	}
}

func (d *Driver) fail(ctx context.Context, result *RunResult, f models.HarvestFailure) {
	d.recordFailures(ctx, f.ProjectKey, []models.HarvestFailure{f})
	result.record(OutcomeFailed, f)
	d.opts.Metrics.observeFailure(f.Stage)
	d.opts.Metrics.observeOutcome(OutcomeFailed)
}

type progress struct {
	bar *progressbar.ProgressBar
}

func (d *Driver) newProgress(total int) *progress {
	if !d.opts.Progress || total == 0 {
		return &progress{}
	}
	return &progress{bar: progressbar.NewOptions(total,
		progressbar.OptionSetWriter(d.opts.ProgressWriter),
		progressbar.OptionSetDescription("harvesting"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
	)}
}

func (p *progress) step(projectKey string) {
	if p.bar == nil {
		return
	}
	p.bar.Describe(projectKey)
	_ = p.bar.Add(1)
}

func (p *progress) finish() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
}
