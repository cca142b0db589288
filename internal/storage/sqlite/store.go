// Package sqlite provides the SQLite invocation store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/storage"
)

// Store is a SQLite implementation of storage.Store.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
}

// New opens (or creates) the database at dsn and initializes the schema.
func New(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS invocations (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL DEFAULT '',
			service TEXT NOT NULL,
			operation TEXT NOT NULL,
			account TEXT NOT NULL DEFAULT '',
			region TEXT NOT NULL DEFAULT '',
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			status INTEGER NOT NULL,
			error_type TEXT NOT NULL DEFAULT '',
			duration_ns INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invocations_created ON invocations(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_invocations_service ON invocations(service)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}

	if err := s.runMigrations(); err != nil {
		return err
	}

	_, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_invocations_request ON invocations(request_id)`)
	return err
}

// runMigrations adds columns missing from databases created by older versions.
func (s *Store) runMigrations() error {
	migrations := []struct {
		table  string
		column string
		ddl    string
	}{
		{"invocations", "request_id", "ALTER TABLE invocations ADD COLUMN request_id TEXT NOT NULL DEFAULT ''"},
	}

	for _, m := range migrations {
		exists, err := s.columnExists(m.table, m.column)
		if err != nil {
			return fmt.Errorf("failed to check column %s.%s: %w", m.table, m.column, err)
		}
		if !exists {
			if _, err := s.db.Exec(m.ddl); err != nil {
				return fmt.Errorf("failed to add column %s.%s: %w", m.table, m.column, err)
			}
		}
	}

	return nil
}

func (s *Store) columnExists(table, column string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Record stores an invocation. Recording the same ID twice replaces it; IDs
// are assigned by the gateway, so only retries of one record collide.
func (s *Store) Record(ctx context.Context, inv *storage.Invocation) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO invocations
			(id, request_id, service, operation, account, region, method, path, status, error_type, duration_ns, created_at)
		VALUES
			(:id, :request_id, :service, :operation, :account, :region, :method, :path, :status, :error_type, :duration_ns, :created_at)`,
		inv)
	if err != nil {
		return fmt.Errorf("record invocation %s: %w", inv.ID, err)
	}
	return nil
}

// Get retrieves an invocation by ID.
func (s *Store) Get(ctx context.Context, id string) (*storage.Invocation, error) {
	var inv storage.Invocation
	err := s.db.GetContext(ctx, &inv, `SELECT * FROM invocations WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get invocation %s: %w", id, err)
	}
	return &inv, nil
}

// List returns invocations, newest first.
func (s *Store) List(ctx context.Context, opts storage.ListOptions) ([]*storage.Invocation, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	var where []string
	var args []any
	if opts.Service != "" {
		where = append(where, `service = ?`)
		args = append(args, opts.Service)
	}
	if opts.RequestID != "" {
		where = append(where, `request_id = ?`)
		args = append(args, opts.RequestID)
	}

	query := `SELECT * FROM invocations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	var out []*storage.Invocation
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
