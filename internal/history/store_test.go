package history

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/hpoprun/internal/report"
)

func sampleResult(reason report.ExitReason, code int) *report.Result {
	r := report.NewResult("cli", "./build/hpop_executable",
		[]string{"scene_edit", "Walker", "7000.0", "0.001", "53", "0", "0", "0", "3", "4", "1"})
	start := time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)
	r.PID = 4242
	r.LinesForwarded = 17
	r.PeakRSSBytes = 48 << 20
	r.CPUSeconds = 1.25
	if reason == report.ExitReasonSignal {
		r.Signal = "SIGKILL"
		r.SignalNum = 9
	}
	r.Finish(start, start.Add(2500*time.Millisecond), code, reason)
	return r
}

// testStoreContract exercises behavior every Store must share
func testStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("SaveGet", func(t *testing.T) {
		want := sampleResult(report.ExitReasonError, 3)
		require.NoError(t, store.Save(ctx, want))

		got, err := store.Get(ctx, want.RunID)
		require.NoError(t, err)

		assert.Equal(t, want.RunID, got.RunID)
		assert.Equal(t, want.Args, got.Args)
		assert.Equal(t, want.ExitCode, got.ExitCode)
		assert.Equal(t, want.ExitReason, got.ExitReason)
		assert.Equal(t, want.Duration, got.Duration)
		assert.Equal(t, want.PeakRSSBytes, got.PeakRSSBytes)
		assert.Equal(t, want.LinesForwarded, got.LinesForwarded)
		assert.InDelta(t, want.CPUSeconds, got.CPUSeconds, 1e-9)
		assert.True(t, want.StartTime.Equal(got.StartTime), "start %v != %v", want.StartTime, got.StartTime)
		assert.True(t, want.EndTime.Equal(got.EndTime), "end %v != %v", want.EndTime, got.EndTime)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.Get(ctx, "does-not-exist")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("GetByPrefix", func(t *testing.T) {
		shared := uuid.NewString()[:8]
		unique := uuid.NewString()[:8]
		ids := []string{
			shared + "-0000-4000-8000-000000000001",
			shared + "-0000-4000-8000-000000000002",
			unique + "-0000-4000-8000-000000000003",
		}
		for _, id := range ids {
			r := sampleResult(report.ExitReasonSuccess, 0)
			r.RunID = id
			require.NoError(t, store.Save(ctx, r))
		}

		got, err := store.Get(ctx, unique)
		require.NoError(t, err)
		assert.Equal(t, ids[2], got.RunID)

		got, err = store.Get(ctx, strings.ToUpper(unique))
		require.NoError(t, err)
		assert.Equal(t, ids[2], got.RunID)

		got, err = store.Get(ctx, ids[1])
		require.NoError(t, err)
		assert.Equal(t, ids[1], got.RunID)

		_, err = store.Get(ctx, shared)
		assert.ErrorIs(t, err, ErrAmbiguous)

		_, err = store.Get(ctx, unique[:MinPrefixLen-1])
		assert.ErrorIs(t, err, ErrNotFound, "prefixes shorter than MinPrefixLen are not resolved")

		_, err = store.Get(ctx, unique[:MinPrefixLen]+"%")
		assert.ErrorIs(t, err, ErrNotFound, "wildcards are not patterns")
	})

	t.Run("SaveDuplicate", func(t *testing.T) {
		r := sampleResult(report.ExitReasonSuccess, 0)
		require.NoError(t, store.Save(ctx, r))
		assert.ErrorIs(t, store.Save(ctx, r), ErrExists)
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		var ids []string
		for i := 0; i < 3; i++ {
			r := sampleResult(report.ExitReasonSuccess, 0)
			require.NoError(t, store.Save(ctx, r))
			ids = append(ids, r.RunID)
		}

		got, err := store.List(ctx, ListOptions{Limit: 3})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, ids[2], got[0].RunID)
		assert.Equal(t, ids[1], got[1].RunID)
		assert.Equal(t, ids[0], got[2].RunID)
	})

	t.Run("ListByReason", func(t *testing.T) {
		killed := sampleResult(report.ExitReasonSignal, -1)
		require.NoError(t, store.Save(ctx, killed))
		require.NoError(t, store.Save(ctx, sampleResult(report.ExitReasonSuccess, 0)))

		got, err := store.List(ctx, ListOptions{Limit: 1, Reason: report.ExitReasonSignal})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, killed.RunID, got[0].RunID)
		assert.Equal(t, "SIGKILL", got[0].Signal)
	})

	t.Run("HealthCheck", func(t *testing.T) {
		assert.NoError(t, store.HealthCheck(ctx))
	})
}

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, NewMemoryStore(0))
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(2)

	first := sampleResult(report.ExitReasonSuccess, 0)
	second := sampleResult(report.ExitReasonSuccess, 0)
	third := sampleResult(report.ExitReasonError, 1)
	for _, r := range []*report.Result{first, second, third} {
		require.NoError(t, store.Save(ctx, r))
	}

	_, err := store.Get(ctx, first.RunID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, third.RunID, got[0].RunID)
	assert.Equal(t, second.RunID, got[1].RunID)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(4)

	r := sampleResult(report.ExitReasonSuccess, 0)
	require.NoError(t, store.Save(ctx, r))
	r.Args[0] = "mutated"

	got, err := store.Get(ctx, r.RunID)
	require.NoError(t, err)
	assert.Equal(t, "scene_edit", got.Args[0])
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	testStoreContract(t, store)
}

func TestSQLiteStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	r := sampleResult(report.ExitReasonTimeout, -1)
	require.NoError(t, store.Save(ctx, r))
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Get(ctx, r.RunID)
	require.NoError(t, err)
	assert.Equal(t, report.ExitReasonTimeout, got.ExitReason)
}

// Set HPOPRUN_TEST_POSTGRES_DSN to run: export HPOPRUN_TEST_POSTGRES_DSN="postgresql://..."
func TestPostgreSQLStore(t *testing.T) {
	dsn := os.Getenv("HPOPRUN_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("Skipping PostgreSQL integration test: HPOPRUN_TEST_POSTGRES_DSN not set")
	}

	store, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	testStoreContract(t, store)
}

func TestParseDSN(t *testing.T) {
	tests := []struct {
		dsn      string
		wantType string
		wantDSN  string
		wantErr  bool
	}{
		{"sqlite:///var/lib/hpoprun/runs.db", "sqlite", "/var/lib/hpoprun/runs.db", false},
		{"sqlite://runs.db", "sqlite", "runs.db", false},
		{"runs.db", "sqlite", "runs.db", false},
		{"postgres://u:p@db:5432/hpop?sslmode=disable", "postgres", "postgres://u:p@db:5432/hpop?sslmode=disable", false},
		{"postgresql://db/hpop", "postgres", "postgresql://db/hpop", false},
		{"memory:", "memory", "", false},
		{"memory", "memory", "", false},
		{"", "", "", true},
		{"mysql://db/hpop", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			config, err := ParseDSN(tt.dsn)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedDatabase)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, config.Type)
			assert.Equal(t, tt.wantDSN, config.DSN)
		})
	}
}

func TestOpenMemory(t *testing.T) {
	store, err := Open("memory:")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)
}
