package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenInMemory(t *testing.T) {
	ctx := context.Background()
	db, err := OpenInMemory(ctx)
	require.NoError(t, err)
	defer db.Close()

	// База работоспособна
	_, err = db.Exec(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)
	_, err = db.Exec(ctx, "INSERT INTO t DEFAULT VALUES")
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(ctx, "SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestOpen_AppliesPragmas(t *testing.T) {
	tdb := NewTestDBFile(t)
	ctx := context.Background()

	var fk int
	require.NoError(t, tdb.QueryRow(ctx, "PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk, "foreign keys must be enabled by default")

	var journal string
	require.NoError(t, tdb.QueryRow(ctx, "PRAGMA journal_mode").Scan(&journal))
	assert.Equal(t, "wal", journal, "file databases default to WAL mode")
}

func TestOpenWithOptions_DisabledPragmas(t *testing.T) {
	ctx := context.Background()
	opts := DefaultDBOptions()
	opts.WALMode = false
	opts.ForeignKeys = false

	db, err := OpenWithOptions(ctx, ":memory:", opts)
	require.NoError(t, err)
	defer db.Close()

	var fk int
	require.NoError(t, db.QueryRow(ctx, "PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 0, fk)
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		opts     DBOptions
		expected string
	}{
		{
			name:     "no params",
			path:     "app.db",
			opts:     DBOptions{},
			expected: "app.db",
		},
		{
			name:     "busy timeout",
			path:     "app.db",
			opts:     DBOptions{BusyTimeout: 5 * time.Second},
			expected: "app.db?_busy_timeout=5000",
		},
		{
			name:     "read only mode",
			path:     "app.db",
			opts:     DBOptions{AccessMode: AccessModeReadOnly},
			expected: "app.db?mode=ro",
		},
		{
			name:     "default rw mode omitted",
			path:     "app.db",
			opts:     DBOptions{AccessMode: AccessModeReadWrite, BusyTimeout: time.Second},
			expected: "app.db?_busy_timeout=1000",
		},
		{
			name:     "mode and timeout",
			path:     "data/app.db",
			opts:     DBOptions{AccessMode: AccessModeReadWriteCreate, BusyTimeout: 2 * time.Second},
			expected: "data/app.db?mode=rwc&_busy_timeout=2000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, buildDSN(tt.path, tt.opts))
		})
	}
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := Open(ctx, dir+"/nested/app.db")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)
}
