package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"sonarharvest/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// LatestVersion migrates to the newest embedded schema when passed to Migrate.
const LatestVersion = -1

// MigrationResult reports the schema version before and after a migration.
type MigrationResult struct {
	From    uint
	To      uint
	Changed bool
}

// Migrate brings the schema to targetVersion.
// A negative target migrates to the latest version, zero rolls everything back.
func Migrate(opts Options, targetVersion int) (MigrationResult, error) {
	driverName, err := opts.driverName()
	if err != nil {
		return MigrationResult{}, err
	}

	// the migrate driver closes its connection, so it gets its own
	conn, err := sql.Open(driverName, opts.dsn())
	if err != nil {
		return MigrationResult{}, fmt.Errorf("%w: %v", ErrDatabaseConnection, err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.Ping(); err != nil {
		return MigrationResult{}, fmt.Errorf("%w: %v", ErrDatabaseConnection, err)
	}

	driver, err := migrateDriver(opts.Backend, conn)
	if err != nil {
		return MigrationResult{}, err
	}

	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return MigrationResult{}, fmt.Errorf("failed to access migrations directory: %w", err)
	}
	source, err := iofs.New(migrations, ".")
	if err != nil {
		return MigrationResult{}, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, string(opts.Backend), driver)
	if err != nil {
		return MigrationResult{}, fmt.Errorf("%w: %v", ErrMigration, err)
	}

	from, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return MigrationResult{}, fmt.Errorf("%w: failed to read schema version: %v", ErrMigration, err)
	}
	if dirty {
		return MigrationResult{}, fmt.Errorf("%w: schema is dirty at version %d", ErrMigration, from)
	}

	switch {
	case targetVersion < 0:
		err = m.Up()
	case targetVersion == 0:
		err = m.Down()
	default:
		err = m.Migrate(uint(targetVersion))
	}
	result := MigrationResult{From: from, To: from}
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("Schema already up to date", zap.Uint("version", from))
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrMigration, err)
	}

	to, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return result, fmt.Errorf("%w: failed to read schema version: %v", ErrMigration, err)
	}
	result.To = to
	result.Changed = true
	logger.Info("Schema migrated", zap.Uint("from", from), zap.Uint("to", to))
	return result, nil
}

func migrateDriver(backend Backend, conn *sql.DB) (database.Driver, error) {
	switch backend {
	case BackendPostgres:
		driver, err := postgres.WithInstance(conn, &postgres.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL migrate driver: %w", err)
		}
		return driver, nil
	case BackendSQLite:
		driver, err := sqlite.WithInstance(conn, &sqlite.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite migrate driver: %w", err)
		}
		return driver, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, backend)
	}
}
