package journal

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table'`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	for _, table := range []string{"challenges", "accounts", "trades", "equity_snapshots", "violations", "phase_transitions"} {
		assert.True(t, found[table], table)
	}
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)
	seedAccount(t, j, "A1", "ACTIVE")
	require.NoError(t, j.Close())

	j, err = NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	a, err := j.GetAccount(context.Background(), "A1")
	require.NoError(t, err)
	assert.Equal(t, 10000.0, a.InitialBalance)
}

func TestNanosZeroTime(t *testing.T) {
	t.Parallel()
	assert.Equal(t, int64(0), nanos(time.Time{}))
	assert.Equal(t, t0, fromNanos(nanos(t0)))
}
