// Package store is the local relational cache of crowdsync.
//
// The cache is a single embedded SQLite file opened in WAL mode, so readers
// never block while a sync writes. All statements are generated from the
// declarative tables in package schema:
//
//   - CreateTable/CreateTables: CREATE TABLE IF NOT EXISTS with a composite key
//   - Select/SelectFirst: tagged conditions, ordered sort keys, limit/offset
//   - Save: upsert by key, or insert when the key is not assigned yet
//   - Remove/RemoveDeploymentCascade: deletes, the cascade in one transaction
//   - TestSchema: zero-row probe that detects a changed table shape
//
// Open the store once per process and inject it into the repositories:
//
//	st, err := store.Open("~/.crowdsync/cache.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//	if err := st.Bootstrap(ctx); err != nil {
//	    // errors.Is(err, errs.ErrSchema): ask the user, then st.Reset(ctx)
//	}
package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/crowdmap/crowdsync/internal/errs"
	"github.com/crowdmap/crowdsync/internal/schema"
)

// Store wraps the SQLite connection pool. Writes are serialized through mu
// so concurrent saves of the same key resolve as last-write-wins instead of
// surfacing SQLITE_BUSY.
type Store struct {
	conn   *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for statement tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock used for the saved column.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open creates or opens the cache database at path.
//
// The caller MUST call Close() when done to checkpoint the WAL.
func Open(path string, opts ...Option) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn:   conn,
		path:   path,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	pragmas := []struct {
		stmt string
		what string
	}{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
		{"PRAGMA foreign_keys=ON", "enable foreign keys"},
	}
	for _, p := range pragmas {
		if _, err := s.conn.Exec(p.stmt); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close checkpoints the WAL and closes the connection pool.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("failed to checkpoint WAL", "error", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// CreateTable creates the table if it does not exist. Idempotent.
func (s *Store) CreateTable(ctx context.Context, t *schema.Table) error {
	stmt := createStatement(t)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create table %s: %w", t.Name, &errs.StorageError{Statement: stmt, Err: err})
	}
	return nil
}

// CreateTables creates every table in order.
func (s *Store) CreateTables(ctx context.Context, tables ...*schema.Table) error {
	for _, t := range tables {
		if err := s.CreateTable(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// TestSchema probes the table with a zero-row select of every declared
// column. A missing table or column yields a *errs.SchemaError.
func (s *Store) TestSchema(ctx context.Context, t *schema.Table) error {
	stmt := fmt.Sprintf("SELECT %s FROM %s LIMIT 0", strings.Join(t.ColumnNames(), ", "), t.Name)
	rows, err := s.conn.QueryContext(ctx, stmt)
	if err != nil {
		return &errs.SchemaError{Table: t.Name, Err: err}
	}
	defer rows.Close()
	if err := rows.Err(); err != nil {
		return &errs.SchemaError{Table: t.Name, Err: err}
	}
	return nil
}

// Bootstrap creates every registered table and tests its shape. It is run
// once at startup; a *errs.SchemaError means the cache predates the current
// schema and must be reset.
func (s *Store) Bootstrap(ctx context.Context) error {
	tables := schema.Tables()
	if err := s.CreateTables(ctx, tables...); err != nil {
		return err
	}
	for _, t := range tables {
		if err := s.TestSchema(ctx, t); err != nil {
			return err
		}
	}
	s.logger.Debug("cache ready", "path", s.path, "tables", len(tables))
	return nil
}

// Reset drops every registered table and recreates it empty. All cached
// data is lost; callers confirm with the user first.
func (s *Store) Reset(ctx context.Context) error {
	tables := schema.Tables()

	s.mu.Lock()
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, t := range tables {
		stmt := "DROP TABLE IF EXISTS " + t.Name
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			s.mu.Unlock()
			return fmt.Errorf("failed to drop table %s: %w", t.Name, &errs.StorageError{Statement: stmt, Err: err})
		}
	}
	if err := tx.Commit(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.mu.Unlock()

	s.logger.Info("cache reset", "path", s.path)
	return s.CreateTables(ctx, tables...)
}

// Count returns the number of rows matching the conditions.
func (s *Store) Count(ctx context.Context, t *schema.Table, conds ...Condition) (int, error) {
	where, args, err := whereClause(t, conds)
	if err != nil {
		return 0, err
	}
	stmt := "SELECT COUNT(*) FROM " + t.Name + where

	var count int
	if err := s.conn.QueryRowContext(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", t.Name, &errs.StorageError{Statement: stmt, Err: err})
	}
	return count, nil
}

// Min returns the smallest value of an integer column, or 0 when the table
// has no matching rows.
func (s *Store) Min(ctx context.Context, t *schema.Table, column string, conds ...Condition) (int64, error) {
	if !t.HasColumn(column) {
		return 0, errs.Invalid("column", "%s has no column %s", t.Name, column)
	}
	where, args, err := whereClause(t, conds)
	if err != nil {
		return 0, err
	}
	stmt := fmt.Sprintf("SELECT MIN(%s) FROM %s%s", column, t.Name, where)

	var lowest sql.NullInt64
	if err := s.conn.QueryRowContext(ctx, stmt, args...).Scan(&lowest); err != nil {
		return 0, fmt.Errorf("failed to read minimum of %s.%s: %w", t.Name, column, &errs.StorageError{Statement: stmt, Err: err})
	}
	return lowest.Int64, nil
}
