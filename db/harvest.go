package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sonarharvest/dataset"
	"sonarharvest/logger"
	"sonarharvest/models"
)

const insertIssueQuery = `
		INSERT INTO issues (
			project_key, issue_key, rule, severity, component,
			effort_minutes, debt_minutes, status, author, message, line,
			created_at, updated_at, closed_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

const insertMeasureQuery = `
		INSERT INTO measures (project_key, metric, value)
		VALUES (?, ?, ?)
	`

const (
	loadIssuesQuery = `
		SELECT project_key, issue_key, rule, severity, component,
			effort_minutes, debt_minutes, status, author, message, line,
			created_at, updated_at, closed_at
		FROM issues
		WHERE project_key = ?
		ORDER BY issue_key
	`
	loadMeasuresQuery = `SELECT metric, value FROM measures WHERE project_key = ?`
	loadPartialQuery  = `SELECT partial FROM repositories WHERE project_key = ?`
)

// StoreHarvest replaces everything stored for rec's repository in a single
// transaction: the repository row, its issues and its measures.
func (db *DB) StoreHarvest(ctx context.Context, rec dataset.Record) error {
	key := rec.Repository.ProjectKey
	if key == "" {
		return fmt.Errorf("%w: repository project key cannot be empty", ErrInvalidInput)
	}

	log := logger.ForRepository(key)
	log.Debug("Storing harvest",
		zap.Int("issues", len(rec.Issues)),
		zap.Int("metrics", len(rec.Metrics)),
		zap.Bool("partial", rec.Partial))

	// prepared before the transaction takes the connection
	insertIssue, err := db.prepared(ctx, insertIssueQuery)
	if err != nil {
		return err
	}
	insertMeasure, err := db.prepared(ctx, insertMeasureQuery)
	if err != nil {
		return err
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertRepository(ctx, tx, db.rebind(upsertRepositoryQuery), rec.Repository, rec.Partial); err != nil {
		return fmt.Errorf("failed to store repository %s: %w", key, err)
	}

	if _, err := tx.ExecContext(ctx, db.rebind(`DELETE FROM issues WHERE project_key = ?`), key); err != nil {
		return fmt.Errorf("failed to clear issues of %s: %w", key, err)
	}
	issueStmt := tx.StmtxContext(ctx, insertIssue)
	for _, issue := range rec.Issues {
		if _, err := issueStmt.ExecContext(ctx,
			key, issue.Key, issue.Rule, string(issue.Severity), issue.Component,
			issue.EffortMinutes, issue.DebtMinutes, issue.Status, issue.Author, issue.Message, issue.Line,
			issue.CreatedAt, issue.UpdatedAt, issue.ClosedAt,
		); err != nil {
			return fmt.Errorf("failed to insert issue %s: %w", issue.Key, err)
		}
	}

	if _, err := tx.ExecContext(ctx, db.rebind(`DELETE FROM measures WHERE project_key = ?`), key); err != nil {
		return fmt.Errorf("failed to clear measures of %s: %w", key, err)
	}
	measureStmt := tx.StmtxContext(ctx, insertMeasure)
	for _, name := range rec.Metrics.Names() {
		if _, err := measureStmt.ExecContext(ctx, key, name, rec.Metrics[name]); err != nil {
			return fmt.Errorf("failed to insert measure %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %v", ErrTransactionFailed, err)
	}

	log.Debug("Harvest stored", zap.Int("issues", len(rec.Issues)))
	return nil
}

// LoadIssues returns the stored issues of a repository ordered by issue key
func (db *DB) LoadIssues(ctx context.Context, projectKey string) ([]models.Issue, error) {
	if projectKey == "" {
		return nil, fmt.Errorf("%w: project key cannot be empty", ErrInvalidInput)
	}

	stmt, err := db.prepared(ctx, loadIssuesQuery)
	if err != nil {
		return nil, err
	}

	var issues []models.Issue
	if err := stmt.SelectContext(ctx, &issues, projectKey); err != nil {
		return nil, fmt.Errorf("failed to load issues of %s: %w", projectKey, err)
	}
	return issues, nil
}

// LoadMetrics returns the stored measures of a repository
func (db *DB) LoadMetrics(ctx context.Context, projectKey string) (models.MetricSet, error) {
	if projectKey == "" {
		return nil, fmt.Errorf("%w: project key cannot be empty", ErrInvalidInput)
	}

	stmt, err := db.prepared(ctx, loadMeasuresQuery)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Metric string  `db:"metric"`
		Value  float64 `db:"value"`
	}
	if err := stmt.SelectContext(ctx, &rows, projectKey); err != nil {
		return nil, fmt.Errorf("failed to load measures of %s: %w", projectKey, err)
	}

	metrics := make(models.MetricSet, len(rows))
	for _, r := range rows {
		metrics[r.Metric] = r.Value
	}
	return metrics, nil
}

// LoadRecord rebuilds the dataset record of a stored repository
func (db *DB) LoadRecord(ctx context.Context, projectKey string) (dataset.Record, error) {
	repo, err := db.GetByProjectKey(ctx, projectKey)
	if err != nil {
		return dataset.Record{}, err
	}

	stmt, err := db.prepared(ctx, loadPartialQuery)
	if err != nil {
		return dataset.Record{}, err
	}
	var partial bool
	if err := stmt.GetContext(ctx, &partial, projectKey); err != nil {
		return dataset.Record{}, fmt.Errorf("failed to get partial flag of %s: %w", projectKey, err)
	}

	issues, err := db.LoadIssues(ctx, projectKey)
	if err != nil {
		return dataset.Record{}, err
	}
	metrics, err := db.LoadMetrics(ctx, projectKey)
	if err != nil {
		return dataset.Record{}, err
	}

	return dataset.Record{
		Repository: *repo,
		Issues:     issues,
		Metrics:    metrics,
		Partial:    partial,
	}, nil
}

// LoadRecords rebuilds the dataset records of every stored repository
func (db *DB) LoadRecords(ctx context.Context) ([]dataset.Record, error) {
	repos, err := db.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]dataset.Record, 0, len(repos))
	for _, repo := range repos {
		rec, err := db.LoadRecord(ctx, repo.ProjectKey)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
