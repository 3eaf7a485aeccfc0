// Package db persists harvested repositories, issues, measures and the crawl
// ledger in PostgreSQL or SQLite.
package db

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"sonarharvest/logger"
)

// Backend names a supported database engine.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
)

// DefaultSQLitePath is used when the sqlite backend is selected without a DSN.
const DefaultSQLitePath = "sonarharvest.db"

// Options configures the database connection.
type Options struct {
	Backend         Backend
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultOptions returns a local SQLite configuration.
func DefaultOptions() Options {
	return Options{
		Backend:         BackendSQLite,
		DSN:             DefaultSQLitePath,
		MaxOpenConns:    25,
		MaxIdleConns:    25,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// driverName maps a backend to its database/sql driver.
func (o Options) driverName() (string, error) {
	switch o.Backend {
	case BackendPostgres:
		return "postgres", nil
	case BackendSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedBackend, o.Backend)
	}
}

func (o Options) dsn() string {
	if o.DSN == "" && o.Backend == BackendSQLite {
		return DefaultSQLitePath
	}
	return o.DSN
}

// DB is the harvest store: repositories, their issues and measures, the
// crawl ledger and recorded failures.
type DB struct {
	conn *sqlx.DB
	// statements prepared once per rebound query and shared by every
	// ledger, harvest and load call
	stmts struct {
		sync.RWMutex
		byQuery map[string]*sqlx.Stmt
	}
}

// New opens and pings a database connection
func New(opts Options) (*DB, error) {
	driver, err := opts.driverName()
	if err != nil {
		return nil, err
	}

	logger.Info("Connecting to database", zap.String("backend", string(opts.Backend)))
	conn, err := sqlx.Connect(driver, opts.dsn())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseConnection, err)
	}

	maxOpen := opts.MaxOpenConns
	if opts.Backend == BackendSQLite {
		// a single writer avoids "database is locked"
		maxOpen = 1
	}
	if maxOpen > 0 {
		conn.SetMaxOpenConns(maxOpen)
	}
	if opts.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	logger.Info("Database connection established",
		zap.String("backend", string(opts.Backend)),
		zap.Int("max_open_conns", maxOpen),
		zap.Int("max_idle_conns", opts.MaxIdleConns),
		zap.Duration("conn_max_lifetime", opts.ConnMaxLifetime))
	return newDB(conn), nil
}

func newDB(conn *sqlx.DB) *DB {
	database := &DB{conn: conn}
	database.stmts.byQuery = make(map[string]*sqlx.Stmt)
	return database
}

// rebind converts ? placeholders to the connection's bind style
func (db *DB) rebind(query string) string {
	return db.conn.Rebind(query)
}

// prepared returns the cached statement for query, preparing it on first use.
func (db *DB) prepared(ctx context.Context, query string) (*sqlx.Stmt, error) {
	query = db.rebind(query)

	db.stmts.RLock()
	stmt, ok := db.stmts.byQuery[query]
	db.stmts.RUnlock()
	if ok {
		return stmt, nil
	}

	db.stmts.Lock()
	defer db.stmts.Unlock()
	if stmt, ok = db.stmts.byQuery[query]; ok {
		return stmt, nil
	}

	stmt, err := db.conn.PreparexContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare %q: %w", firstLine(query), err)
	}
	db.stmts.byQuery[query] = stmt
	return stmt, nil
}

func firstLine(query string) string {
	query = strings.TrimSpace(query)
	if i := strings.IndexByte(query, '\n'); i >= 0 {
		return query[:i]
	}
	return query
}

// Close releases the cached statements and the connection pool
func (db *DB) Close() error {
	db.stmts.Lock()
	for query, stmt := range db.stmts.byQuery {
		if err := stmt.Close(); err != nil {
			logger.Warn("Failed to close prepared statement", zap.String("query", firstLine(query)), zap.Error(err))
		}
	}
	db.stmts.byQuery = make(map[string]*sqlx.Stmt)
	db.stmts.Unlock()

	return db.conn.Close()
}
