package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sonarharvest/logger"
)

const (
	loadLedgerQuery    = `SELECT project_key FROM crawl_ledger WHERE harvested`
	markHarvestedQuery = `
		INSERT INTO crawl_ledger (project_key, harvested, harvested_at)
		VALUES (?, ?, ?)
		ON CONFLICT (project_key) DO UPDATE SET
			harvested = EXCLUDED.harvested,
			harvested_at = EXCLUDED.harvested_at
	`
)

// LoadLedger returns the set of project keys already harvested to completion
func (db *DB) LoadLedger(ctx context.Context) (map[string]bool, error) {
	stmt, err := db.prepared(ctx, loadLedgerQuery)
	if err != nil {
		return nil, err
	}

	var keys []string
	if err := stmt.SelectContext(ctx, &keys); err != nil {
		return nil, fmt.Errorf("failed to load crawl ledger: %w", err)
	}

	ledger := make(map[string]bool, len(keys))
	for _, k := range keys {
		ledger[k] = true
	}
	logger.Debug("Crawl ledger loaded", zap.Int("harvested", len(ledger)))
	return ledger, nil
}

// MarkHarvested records that a repository's harvest completed and was stored
func (db *DB) MarkHarvested(ctx context.Context, projectKey string) error {
	if projectKey == "" {
		return fmt.Errorf("%w: project key cannot be empty", ErrInvalidInput)
	}

	stmt, err := db.prepared(ctx, markHarvestedQuery)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, projectKey, true, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to mark %s harvested: %w", projectKey, err)
	}
	return nil
}

// ResetLedger forgets every harvested mark so the next run starts over
func (db *DB) ResetLedger(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM crawl_ledger`); err != nil {
		return fmt.Errorf("failed to reset crawl ledger: %w", err)
	}
	logger.Info("Crawl ledger reset")
	return nil
}
