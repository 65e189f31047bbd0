package backup

import (
	"context"
	"database/sql"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arlberg/backstop/internal/config"
	apperrors "github.com/arlberg/backstop/internal/errors"
	"github.com/arlberg/backstop/internal/logger"
	"github.com/arlberg/backstop/internal/manifest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Storage.Local.Path = t.TempDir()
	cfg.Database.Retention = config.Retention{Daily: 7}
	return cfg
}

// withSqlite points the config at a fresh sqlite store seeded with a users
// and an uploads table.
func withSqlite(t *testing.T, cfg *config.Config) string {
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

	cfg.Database.Enabled = true
	cfg.Database.Engine = "sqlite"
	cfg.Database.Path = path
	cfg.Database.Compress = true
	return path
}

func newTestEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	e, err := New(cfg, Options{Logger: logger.New(logger.Config{Writer: io.Discard})})
	require.NoError(t, err)
	return e
}

func TestProducerConflict(t *testing.T) {
	cfg := testConfig(t)
	cfg.Files.Directories = []string{t.TempDir()}
	e := newTestEngine(t, cfg)

	e.locks[manifest.TypeFiles].Lock()
	defer e.locks[manifest.TypeFiles].Unlock()

	_, err := e.CreateFilesBackup(context.Background())
	require.ErrorIs(t, err, apperrors.ErrAlreadyRunning)

	_, err = e.RestoreFiles(context.Background(), "whatever.zip", t.TempDir())
	require.ErrorIs(t, err, apperrors.ErrRestoreConflict)
}

func TestTypesLockIndependently(t *testing.T) {
	cfg := testConfig(t)
	withSqlite(t, cfg)
	e := newTestEngine(t, cfg)

	// A held files lock must not block a database backup.
	e.locks[manifest.TypeFiles].Lock()
	defer e.locks[manifest.TypeFiles].Unlock()

	_, err := e.CreateDatabaseBackup(context.Background())
	require.NoError(t, err)
}

func TestDatabaseBackupDisabled(t *testing.T) {
	cfg := testConfig(t)
	e := newTestEngine(t, cfg)

	_, err := e.CreateDatabaseBackup(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.TypeConfig))

	_, err = e.RestoreDatabase(context.Background(), "x.db.zip")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.TypeConfig))
}

func TestListBackups(t *testing.T) {
	cfg := testConfig(t)
	withSqlite(t, cfg)
	e := newTestEngine(t, cfg)

	res, err := e.CreateDatabaseBackup(context.Background())
	require.NoError(t, err)

	infos, err := e.ListBackups(context.Background(), manifest.TypeDatabase)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, filepath.Base(res.ArtifactPath), infos[0].Name)
	require.NotNil(t, infos[0].Sidecar)
	assert.Equal(t, res.Sidecar.Checksum, infos[0].Sidecar.Checksum)

	infos, err = e.ListBackups(context.Background(), manifest.TypeFiles)
	require.NoError(t, err)
	assert.Empty(t, infos)
}
