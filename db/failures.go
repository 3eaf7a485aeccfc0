package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sonarharvest/logger"
	"sonarharvest/models"
)

const (
	insertFailureQuery = `
		INSERT INTO harvest_failures (
			project_key, stage, page, partial, fetched, declared, message, recorded_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	loadFailuresQuery = `
		SELECT project_key, stage, page, partial, fetched, declared, message
		FROM harvest_failures
		ORDER BY project_key, stage
	`
)

// RecordFailures replaces the failures stored for projectKey with failures.
// An empty list clears them.
func (db *DB) RecordFailures(ctx context.Context, projectKey string, failures []models.HarvestFailure) error {
	if projectKey == "" {
		return fmt.Errorf("%w: project key cannot be empty", ErrInvalidInput)
	}

	insert, err := db.prepared(ctx, insertFailureQuery)
	if err != nil {
		return err
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, db.rebind(`DELETE FROM harvest_failures WHERE project_key = ?`), projectKey); err != nil {
		return fmt.Errorf("failed to clear failures of %s: %w", projectKey, err)
	}

	now := time.Now().UTC()
	stmt := tx.StmtxContext(ctx, insert)
	for _, f := range failures {
		if _, err := stmt.ExecContext(ctx,
			projectKey, f.Stage, f.Page, f.Partial, f.Fetched, f.Declared, f.Error, now,
		); err != nil {
			return fmt.Errorf("failed to record %s failure of %s: %w", f.Stage, projectKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %v", ErrTransactionFailed, err)
	}
	logger.Debug("Failures recorded", zap.String("project_key", projectKey), zap.Int("failures", len(failures)))
	return nil
}

// LoadFailures returns every recorded failure ordered by project key and stage
func (db *DB) LoadFailures(ctx context.Context) ([]models.HarvestFailure, error) {
	stmt, err := db.prepared(ctx, loadFailuresQuery)
	if err != nil {
		return nil, err
	}

	var failures []models.HarvestFailure
	if err := stmt.SelectContext(ctx, &failures); err != nil {
		return nil, fmt.Errorf("failed to load harvest failures: %w", err)
	}
	return failures, nil
}
