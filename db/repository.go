package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"sonarharvest/logger"
	"sonarharvest/models"
)

const repositoryColumns = `project_key, owner, name, stars, forks, commits,
			contributors, watchers, open_issues, last_commit_date, clone_url`

const getRepositoryQuery = `
		SELECT ` + repositoryColumns + `
		FROM repositories
		WHERE project_key = ?
	`

const upsertRepositoryQuery = `
		INSERT INTO repositories (
			project_key, owner, name, stars, forks, commits,
			contributors, watchers, open_issues, last_commit_date, clone_url, partial
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_key) DO UPDATE SET
			owner = EXCLUDED.owner,
			name = EXCLUDED.name,
			stars = EXCLUDED.stars,
			forks = EXCLUDED.forks,
			commits = EXCLUDED.commits,
			contributors = EXCLUDED.contributors,
			watchers = EXCLUDED.watchers,
			open_issues = EXCLUDED.open_issues,
			last_commit_date = EXCLUDED.last_commit_date,
			clone_url = EXCLUDED.clone_url,
			partial = EXCLUDED.partial
	`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertRepository(ctx context.Context, ex execer, query string, repo models.Repository, partial bool) error {
	_, err := ex.ExecContext(ctx, query,
		repo.ProjectKey, repo.Owner, repo.Name, repo.Stars, repo.Forks, repo.Commits,
		repo.Contributors, repo.Watchers, repo.OpenIssues, repo.LastCommitDate, repo.CloneURL,
		partial,
	)
	return err
}

// StoreRepository stores a repository in the database
func (db *DB) StoreRepository(ctx context.Context, repo models.Repository) error {
	if repo.ProjectKey == "" {
		return fmt.Errorf("%w: repository project key cannot be empty", ErrInvalidInput)
	}

	logger.Debug("Storing repository", zap.String("project_key", repo.ProjectKey))
	if err := upsertRepository(ctx, db.conn, db.rebind(upsertRepositoryQuery), repo, false); err != nil {
		return fmt.Errorf("failed to store repository %s: %w", repo.ProjectKey, err)
	}
	return nil
}

// GetByProjectKey retrieves a repository by its analysis project key
func (db *DB) GetByProjectKey(ctx context.Context, projectKey string) (*models.Repository, error) {
	if projectKey == "" {
		return nil, fmt.Errorf("%w: project key cannot be empty", ErrInvalidInput)
	}

	stmt, err := db.prepared(ctx, getRepositoryQuery)
	if err != nil {
		return nil, err
	}

	var repo models.Repository
	if err := stmt.GetContext(ctx, &repo, projectKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: repository %s not found", ErrRepositoryNotFound, projectKey)
		}
		return nil, fmt.Errorf("failed to get repository %s: %w", projectKey, err)
	}
	return &repo, nil
}

// ListRepositories returns every stored repository ordered by project key
func (db *DB) ListRepositories(ctx context.Context) ([]models.Repository, error) {
	var repos []models.Repository
	query := `
		SELECT ` + repositoryColumns + `
		FROM repositories
		ORDER BY project_key
	`
	if err := db.conn.SelectContext(ctx, &repos, query); err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	return repos, nil
}
