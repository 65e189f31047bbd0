package db

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.db")

	store, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	_, err = store.Exec(`CREATE TABLE uploads (id INTEGER PRIMARY KEY, path TEXT)`)
	require.NoError(t, err)
	_, err = store.Exec(`INSERT INTO users (name) VALUES ('ada'), ('grace'), ('linus')`)
	require.NoError(t, err)
	_, err = store.Exec(`INSERT INTO uploads (path) VALUES ('a.png')`)
	require.NoError(t, err)

	return path
}

func newSqliteAdapter(path string) *SqliteAdapter {
	return &SqliteAdapter{params: Params{Engine: "sqlite", Path: path}}
}

func TestOpenFactory(t *testing.T) {
	for engine, want := range map[string]string{
		"sqlite":     "sqlite",
		"SQLite3":    "sqlite",
		"postgres":   "postgres",
		"postgresql": "postgres",
		"mysql":      "mysql",
		"mariadb":    "mysql",
	} {
		a, err := Open(Params{Engine: engine, Path: "x", DSN: "y"})
		require.NoError(t, err, engine)
		assert.Equal(t, want, a.Name())
	}

	_, err := Open(Params{Engine: "mssql"})
	require.Error(t, err)
}

func TestSqlitePing(t *testing.T) {
	path := newTestStore(t)
	a := newSqliteAdapter(path)
	require.NoError(t, a.Ping(context.Background()))
}

func TestSqliteTables(t *testing.T) {
	path := newTestStore(t)
	a := newSqliteAdapter(path)

	tables, err := a.Tables(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 2)

	// sqlite_master ordering puts uploads after users alphabetically.
	assert.Equal(t, "uploads", tables[0].Name)
	assert.Equal(t, int64(1), tables[0].Rows)
	assert.Equal(t, "users", tables[1].Name)
	assert.Equal(t, int64(3), tables[1].Rows)
}

func TestSqliteSnapshotIsOpenableCopy(t *testing.T) {
	path := newTestStore(t)
	a := newSqliteAdapter(path)

	var buf bytes.Buffer
	require.NoError(t, a.Snapshot(context.Background(), &buf))
	require.Greater(t, buf.Len(), 0)

	// The snapshot must itself be a valid sqlite store with the same rows.
	copyPath := filepath.Join(t.TempDir(), "snapshot.db")
	require.NoError(t, os.WriteFile(copyPath, buf.Bytes(), 0644))

	store, err := sql.Open("sqlite3", copyPath)
	require.NoError(t, err)
	defer store.Close()

	var n int
	require.NoError(t, store.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n))
	assert.Equal(t, 3, n)
}

func TestSqliteRestore(t *testing.T) {
	path := newTestStore(t)
	a := newSqliteAdapter(path)

	var snapshot bytes.Buffer
	require.NoError(t, a.Snapshot(context.Background(), &snapshot))

	// Mutate the live store after the snapshot.
	store, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = store.Exec(`DELETE FROM users`)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	requiresRestart, err := a.Restore(context.Background(), bytes.NewReader(snapshot.Bytes()))
	require.NoError(t, err)
	assert.True(t, requiresRestart, "embedded store restore always needs a reconnect")

	store, err = sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer store.Close()

	var n int
	require.NoError(t, store.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n))
	assert.Equal(t, 3, n, "restore brings the deleted rows back")
}

func TestSqliteEntryName(t *testing.T) {
	a := newSqliteAdapter("/srv/app/data/app.db")
	assert.Equal(t, "app.db", a.EntryName())
}

func TestSqliteMissingPath(t *testing.T) {
	a := newSqliteAdapter("")
	require.Error(t, a.Ping(context.Background()))
	_, err := a.Restore(context.Background(), bytes.NewReader(nil))
	require.Error(t, err)
}
