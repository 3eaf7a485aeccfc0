package fetcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sonarharvest/logger"
	"sonarharvest/models"
	"sonarharvest/sonar"
)

// IssueSource is the issue search endpoint the harvester pages through.
type IssueSource interface {
	SearchIssues(ctx context.Context, q sonar.IssueQuery) (*sonar.IssueResponse, error)
}

// HarvesterConfig configures an IssueHarvester.
type HarvesterConfig struct {
	PageSize int
	Retry    RetryConfig
}

// HarvestResult is the outcome of harvesting one repository's issues.
type HarvestResult struct {
	ProjectKey string
	Issues     []models.Issue
	// DeclaredTotal is the total reported on the last page received.
	DeclaredTotal int
	Pages         int
	// Partial is set when the stream ended before DeclaredTotal was reached.
	Partial bool
}

// IssueHarvester pulls the full unresolved code-smell list for a repository.
type IssueHarvester struct {
	source   IssueSource
	pageSize int
	retry    retrier
}

// NewIssueHarvester creates a harvester over source.
func NewIssueHarvester(source IssueSource, cfg HarvesterConfig) *IssueHarvester {
	if cfg.PageSize < 1 {
		cfg.PageSize = DefaultPageSize
	}
	return &IssueHarvester{
		source:   source,
		pageSize: cfg.PageSize,
		retry:    newRetrier(cfg.Retry),
	}
}

// Harvest fetches every page of issues for projectKey starting from page 1.
func (h *IssueHarvester) Harvest(ctx context.Context, projectKey string) (*HarvestResult, error) {
	return h.HarvestFrom(ctx, projectKey, 1)
}

// HarvestFrom fetches issues for projectKey starting at page. On failure it
// returns a *HarvestError together with a result holding whatever was
// collected before the failing page.
func (h *IssueHarvester) HarvestFrom(ctx context.Context, projectKey string, page int) (*HarvestResult, error) {
	log := logger.ForRepository(projectKey)
	cursor := NewCursorAt(h.pageSize, page)
	result := &HarvestResult{ProjectKey: projectKey}

	fail := func(err error) (*HarvestResult, error) {
		result.Partial = true
		return result, &HarvestError{
			ProjectKey: projectKey,
			Page:       cursor.Page(),
			Fetched:    len(result.Issues),
			Err:        err,
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		query := sonar.IssueQuery{
			ComponentKey: projectKey,
			Page:         cursor.Page(),
			PageSize:     cursor.PageSize(),
		}
		var resp *sonar.IssueResponse
		err := h.retry.do(ctx, log.With(zap.Int("page", query.Page)), func() error {
			var err error
			resp, err = h.source.SearchIssues(ctx, query)
			return err
		})
		if err != nil {
			log.Error("Failed to fetch issues page", zap.Int("page", query.Page), zap.Error(err))
			return fail(err)
		}

		if resp == nil || resp.Paging.Total == nil {
			return fail(fmt.Errorf("%w: page %d has no declared total", sonar.ErrServiceProtocol, query.Page))
		}
		for _, rec := range resp.Issues {
			result.Issues = append(result.Issues, toIssue(projectKey, rec))
		}
		result.Pages++
		result.DeclaredTotal = *resp.Paging.Total

		log.Debug("Issues page fetched",
			zap.Int("page", query.Page),
			zap.Int("items", len(resp.Issues)),
			zap.Int("fetched", cursor.Fetched()+len(resp.Issues)),
			zap.Int("total", result.DeclaredTotal))

		done, err := cursor.Advance(len(resp.Issues), result.DeclaredTotal)
		if err != nil {
			return fail(err)
		}
		if done {
			break
		}
	}

	if cursor.Fetched() < result.DeclaredTotal {
		result.Partial = true
		log.Warn("Service returned fewer issues than declared",
			zap.Int("fetched", cursor.Fetched()),
			zap.Int("declared", result.DeclaredTotal))
	}

	log.Info("Harvested issues",
		zap.Int("issues", len(result.Issues)),
		zap.Int("pages", result.Pages),
		zap.Bool("partial", result.Partial))
	return result, nil
}

// toIssue converts a service record into the stored issue model.
func toIssue(projectKey string, rec sonar.IssueRecord) models.Issue {
	issue := models.Issue{
		Key:        rec.Key,
		ProjectKey: projectKey,
		Rule:       rec.Rule,
		Severity:   models.ParseSeverity(rec.Severity),
		Component:  rec.Component,
		Status:     rec.Status,
		Author:     rec.Author,
		Message:    rec.Message,
		Line:       rec.Line,
		CreatedAt:  parseTime(rec.CreationDate),
		UpdatedAt:  parseTime(rec.UpdateDate),
		ClosedAt:   parseTime(rec.CloseDate),
	}
	if m, ok := models.ParseDurationMinutes(rec.Effort); ok {
		issue.EffortMinutes = &m
	}
	if m, ok := models.ParseDurationMinutes(rec.Debt); ok {
		issue.DebtMinutes = &m
	}
	return issue
}

func parseTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range []string{sonar.TimeLayout, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}
