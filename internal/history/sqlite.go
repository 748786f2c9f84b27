package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/psantana5/hpoprun/internal/report"
)

// SQLiteStore keeps results in a local SQLite file
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates if needed) the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL so `history list` can read while a run is being written
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer for SQLite to avoid SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		source TEXT NOT NULL,
		executable TEXT NOT NULL,
		args TEXT NOT NULL,
		pid INTEGER NOT NULL DEFAULT 0,
		start_time DATETIME NOT NULL,
		end_time DATETIME NOT NULL,
		duration_ns INTEGER NOT NULL DEFAULT 0,
		exit_code INTEGER NOT NULL,
		exit_reason TEXT NOT NULL,
		signal TEXT NOT NULL DEFAULT '',
		signal_num INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		lines_forwarded INTEGER NOT NULL DEFAULT 0,
		peak_rss_bytes INTEGER NOT NULL DEFAULT 0,
		cpu_seconds REAL NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_reason ON runs(exit_reason);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Save inserts a result
func (s *SQLiteStore) Save(ctx context.Context, r *report.Result) error {
	w, err := toRow(r)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs
		(`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.values()...)

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %s", ErrExists, r.RunID)
	}
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", r.RunID, err)
	}
	return nil
}

// Get retrieves a result by run ID or unique run ID prefix
func (s *SQLiteStore) Get(ctx context.Context, runID string) (*report.Result, error) {
	r, err := s.get(ctx, runID)
	if !errors.Is(err, ErrNotFound) {
		return r, err
	}

	id, err := resolvePrefix(ctx, s.db,
		`SELECT run_id FROM runs WHERE run_id LIKE ? ORDER BY seq DESC LIMIT 2`, runID)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, id)
}

func (s *SQLiteStore) get(ctx context.Context, runID string) (*report.Result, error) {
	r, err := scanResult(s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM runs WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return r, nil
}

// List returns results newest first
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]*report.Result, error) {
	query := `SELECT ` + selectColumns + ` FROM runs`
	var args []interface{}
	if opts.Reason != "" {
		query += ` WHERE exit_reason = ?`
		args = append(args, string(opts.Reason))
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, opts.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var results []*report.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// HealthCheck pings the database
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
