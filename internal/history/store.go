// Package history keeps finished run results so they can be listed and
// inspected after the child is gone.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/psantana5/hpoprun/internal/report"
)

var (
	ErrNotFound            = errors.New("run not found")
	ErrExists              = errors.New("run already recorded")
	ErrAmbiguous           = errors.New("run ID prefix matches more than one run")
	ErrUnsupportedDatabase = errors.New("unsupported history database")
)

// Store persists run results. Results are written once and never updated.
//
// Get accepts a full run ID or a unique prefix of at least MinPrefixLen
// characters, such as the short IDs `history list` prints.
type Store interface {
	Save(ctx context.Context, r *report.Result) error
	Get(ctx context.Context, runID string) (*report.Result, error)
	List(ctx context.Context, opts ListOptions) ([]*report.Result, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// ListOptions filters List. Results come newest first.
type ListOptions struct {
	Limit  int               // 0 means DefaultListLimit
	Reason report.ExitReason // empty means any
}

// DefaultListLimit caps List when no limit is given
const DefaultListLimit = 50

// MinPrefixLen is the shortest run ID prefix Get resolves
const MinPrefixLen = 4

// validPrefix accepts hex digits and dashes only, so a prefix can never
// carry LIKE wildcards.
func validPrefix(prefix string) bool {
	if len(prefix) < MinPrefixLen {
		return false
	}
	for _, c := range prefix {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F', c == '-':
		default:
			return false
		}
	}
	return true
}

// resolvePrefix returns the single run ID starting with prefix. query takes
// one LIKE pattern argument and selects run_id with LIMIT 2.
func resolvePrefix(ctx context.Context, db *sql.DB, query, prefix string) (string, error) {
	if !validPrefix(prefix) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, prefix)
	}

	rows, err := db.QueryContext(ctx, query, strings.ToLower(prefix)+"%")
	if err != nil {
		return "", fmt.Errorf("failed to resolve run %s: %w", prefix, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("failed to resolve run %s: %w", prefix, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to resolve run %s: %w", prefix, err)
	}

	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguous, prefix)
	}
}

func (o ListOptions) limit() int {
	if o.Limit <= 0 {
		return DefaultListLimit
	}
	return o.Limit
}

// Config holds database configuration
type Config struct {
	Type string // "sqlite", "postgres" or "memory"
	DSN  string

	// PostgreSQL specific
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Memory specific
	Capacity int
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "postgres", "postgresql":
		return NewPostgreSQLStore(config)
	case "sqlite", "sqlite3", "":
		if config.DSN == "" {
			return nil, fmt.Errorf("%w: sqlite needs a database path", ErrUnsupportedDatabase)
		}
		return NewSQLiteStore(config.DSN)
	case "memory":
		return NewMemoryStore(config.Capacity), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDatabase, config.Type)
	}
}

// ParseDSN maps a history.dsn value to a Config.
//
//	sqlite:///var/lib/hpoprun/runs.db   SQLite file
//	postgres://user:pw@host/db          PostgreSQL (postgresql:// also works)
//	memory:                             in-process ring buffer
//	runs.db                             bare path, SQLite
func ParseDSN(dsn string) (Config, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return Config{}, fmt.Errorf("%w: empty DSN", ErrUnsupportedDatabase)
	case dsn == "memory" || strings.HasPrefix(dsn, "memory:"):
		return Config{Type: "memory"}, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return Config{Type: "postgres", DSN: dsn}, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return Config{Type: "sqlite", DSN: strings.TrimPrefix(dsn, "sqlite://")}, nil
	case strings.Contains(dsn, "://"):
		return Config{}, fmt.Errorf("%w: %q", ErrUnsupportedDatabase, dsn)
	default:
		return Config{Type: "sqlite", DSN: dsn}, nil
	}
}

// Open parses dsn and opens the matching store
func Open(dsn string) (Store, error) {
	config, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return NewStore(config)
}

// row is the column layout shared by the SQL stores
type row struct {
	RunID          string
	Source         string
	Executable     string
	ArgsJSON       string
	PID            int
	StartTime      time.Time
	EndTime        time.Time
	DurationNS     int64
	ExitCode       int
	ExitReason     string
	Signal         string
	SignalNum      int
	Error          string
	LinesForwarded int
	PeakRSSBytes   int64
	CPUSeconds     float64
}

func toRow(r *report.Result) (row, error) {
	args, err := json.Marshal(r.Args)
	if err != nil {
		return row{}, fmt.Errorf("failed to marshal args: %w", err)
	}
	return row{
		RunID:          r.RunID,
		Source:         r.Source,
		Executable:     r.Executable,
		ArgsJSON:       string(args),
		PID:            r.PID,
		StartTime:      r.StartTime.UTC(),
		EndTime:        r.EndTime.UTC(),
		DurationNS:     int64(r.Duration),
		ExitCode:       r.ExitCode,
		ExitReason:     string(r.ExitReason),
		Signal:         r.Signal,
		SignalNum:      r.SignalNum,
		Error:          r.Error,
		LinesForwarded: r.LinesForwarded,
		PeakRSSBytes:   int64(r.PeakRSSBytes),
		CPUSeconds:     r.CPUSeconds,
	}, nil
}

func (w row) values() []interface{} {
	return []interface{}{
		w.RunID, w.Source, w.Executable, w.ArgsJSON, w.PID,
		w.StartTime, w.EndTime, w.DurationNS,
		w.ExitCode, w.ExitReason, w.Signal, w.SignalNum, w.Error,
		w.LinesForwarded, w.PeakRSSBytes, w.CPUSeconds,
	}
}

const selectColumns = `run_id, source, executable, args, pid, start_time, end_time, duration_ns,
	exit_code, exit_reason, signal, signal_num, error, lines_forwarded, peak_rss_bytes, cpu_seconds`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanResult(s scanner) (*report.Result, error) {
	var w row
	if err := s.Scan(&w.RunID, &w.Source, &w.Executable, &w.ArgsJSON, &w.PID,
		&w.StartTime, &w.EndTime, &w.DurationNS,
		&w.ExitCode, &w.ExitReason, &w.Signal, &w.SignalNum, &w.Error,
		&w.LinesForwarded, &w.PeakRSSBytes, &w.CPUSeconds); err != nil {
		return nil, err
	}

	r := &report.Result{
		RunID:          w.RunID,
		Source:         w.Source,
		Executable:     w.Executable,
		PID:            w.PID,
		StartTime:      w.StartTime.UTC(),
		EndTime:        w.EndTime.UTC(),
		Duration:       time.Duration(w.DurationNS),
		ExitCode:       w.ExitCode,
		ExitReason:     report.ExitReason(w.ExitReason),
		Signal:         w.Signal,
		SignalNum:      w.SignalNum,
		Error:          w.Error,
		LinesForwarded: w.LinesForwarded,
		PeakRSSBytes:   uint64(w.PeakRSSBytes),
		CPUSeconds:     w.CPUSeconds,
	}
	if err := json.Unmarshal([]byte(w.ArgsJSON), &r.Args); err != nil {
		return nil, fmt.Errorf("failed to unmarshal args of %s: %w", w.RunID, err)
	}
	return r, nil
}
