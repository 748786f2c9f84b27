package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/psantana5/hpoprun/internal/report"
)

// uniqueViolation is the SQLSTATE for a duplicate key
const uniqueViolation = pq.ErrorCode("23505")

// PostgreSQLStore keeps results in PostgreSQL, for hosts that share history
type PostgreSQLStore struct {
	db *sql.DB
}

// NewPostgreSQLStore connects and creates the schema
func NewPostgreSQLStore(config Config) (*PostgreSQLStore, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	} else {
		db.SetConnMaxIdleTime(1 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgreSQLStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *PostgreSQLStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		seq BIGSERIAL PRIMARY KEY,
		run_id TEXT NOT NULL UNIQUE,
		source TEXT NOT NULL,
		executable TEXT NOT NULL,
		args JSONB NOT NULL,
		pid INTEGER NOT NULL DEFAULT 0,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		duration_ns BIGINT NOT NULL DEFAULT 0,
		exit_code INTEGER NOT NULL,
		exit_reason TEXT NOT NULL,
		signal TEXT NOT NULL DEFAULT '',
		signal_num INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		lines_forwarded INTEGER NOT NULL DEFAULT 0,
		peak_rss_bytes BIGINT NOT NULL DEFAULT 0,
		cpu_seconds DOUBLE PRECISION NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_reason ON runs(exit_reason);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Save inserts a result
func (s *PostgreSQLStore) Save(ctx context.Context, r *report.Result) error {
	w, err := toRow(r)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs
		(`+selectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, w.values()...)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrExists, r.RunID)
	}
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", r.RunID, err)
	}
	return nil
}

// Get retrieves a result by run ID or unique run ID prefix
func (s *PostgreSQLStore) Get(ctx context.Context, runID string) (*report.Result, error) {
	r, err := s.get(ctx, runID)
	if !errors.Is(err, ErrNotFound) {
		return r, err
	}

	id, err := resolvePrefix(ctx, s.db,
		`SELECT run_id FROM runs WHERE run_id LIKE $1 ORDER BY seq DESC LIMIT 2`, runID)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, id)
}

func (s *PostgreSQLStore) get(ctx context.Context, runID string) (*report.Result, error) {
	r, err := scanResult(s.db.QueryRowContext(ctx,
		`SELECT `+pgSelectColumns+` FROM runs WHERE run_id = $1`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return r, nil
}

// List returns results newest first
func (s *PostgreSQLStore) List(ctx context.Context, opts ListOptions) ([]*report.Result, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if opts.Reason != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+pgSelectColumns+` FROM runs WHERE exit_reason = $1 ORDER BY seq DESC LIMIT $2`,
			string(opts.Reason), opts.limit())
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+pgSelectColumns+` FROM runs ORDER BY seq DESC LIMIT $1`, opts.limit())
	}
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
func (s *PostgreSQLStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *PostgreSQLStore) Close() error {
	return s.db.Close()
}

// args is JSONB; read it back as text so scanResult stays driver-neutral
const pgSelectColumns = `run_id, source, executable, args::text, pid, start_time, end_time, duration_ns,
	exit_code, exit_reason, signal, signal_num, error, lines_forwarded, peak_rss_bytes, cpu_seconds`
