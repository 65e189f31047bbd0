package backup

import (
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arlberg/backstop/internal/db"
	apperrors "github.com/arlberg/backstop/internal/errors"
	"github.com/arlberg/backstop/internal/logger"
	"github.com/arlberg/backstop/internal/manifest"
)

var dbArtifactRe = regexp.MustCompile(`^database_backup_\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}\.db\.zip$`)

func TestCreateDatabaseBackup(t *testing.T) {
	cfg := testConfig(t)
	withSqlite(t, cfg)
	e := newTestEngine(t, cfg)

	res, err := e.CreateDatabaseBackup(context.Background())
	require.NoError(t, err)

	assert.Regexp(t, dbArtifactRe, filepath.Base(res.ArtifactPath))
	assert.Equal(t, 1, res.FileCount)
	assert.Greater(t, res.Size, int64(0))

	info, err := os.Stat(res.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), res.Size)

	// The sidecar seals the artifact.
	require.NotNil(t, res.Sidecar)
	sc, err := manifest.Read(res.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, manifest.TypeDatabase, sc.Type)
	assert.Regexp(t, `^[0-9a-f]{64}$`, sc.Checksum)
	assert.Equal(t, res.Size, sc.Size)

	want, err := manifest.Checksum(res.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, want, sc.Checksum)

	require.NotNil(t, sc.Database)
	assert.Equal(t, "sqlite", sc.Database.Engine)
	assert.ElementsMatch(t, []string{"users", "uploads"}, sc.Database.Tables)
	assert.Equal(t, int64(3), sc.Database.RecordCounts["users"])
	assert.Equal(t, int64(0), sc.Database.RecordCounts["uploads"])
}

func TestDatabaseBackupLeavesNoPartial(t *testing.T) {
	cfg := testConfig(t)
	withSqlite(t, cfg)
	e := newTestEngine(t, cfg)

	_, err := e.CreateDatabaseBackup(context.Background())
	require.NoError(t, err)

	dirents, err := os.ReadDir(cfg.Storage.Local.Path)
	require.NoError(t, err)
	for _, de := range dirents {
		assert.NotContains(t, de.Name(), ".partial")
	}
}

func TestDatabaseRestoreRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	dbPath := withSqlite(t, cfg)
	e := newTestEngine(t, cfg)

	res, err := e.CreateDatabaseBackup(context.Background())
	require.NoError(t, err)

	// Lose data after the backup.
	store, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = store.Exec(`DELETE FROM users`)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	rr, err := e.RestoreDatabase(context.Background(), res.ArtifactPath)
	require.NoError(t, err)
	assert.True(t, rr.Success)
	assert.True(t, rr.RequiresRestart)

	store, err = sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer store.Close()
	var n int
	require.NoError(t, store.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n))
	assert.Equal(t, 3, n)
}

func TestDatabaseRestoreByArtifactName(t *testing.T) {
	cfg := testConfig(t)
	withSqlite(t, cfg)
	e := newTestEngine(t, cfg)

	res, err := e.CreateDatabaseBackup(context.Background())
	require.NoError(t, err)

	// A bare name resolves inside the storage directory.
	rr, err := e.RestoreDatabase(context.Background(), filepath.Base(res.ArtifactPath))
	require.NoError(t, err)
	assert.True(t, rr.Success)
}

func TestDatabaseRestoreRefusesTamperedArtifact(t *testing.T) {
	cfg := testConfig(t)
	withSqlite(t, cfg)
	e := newTestEngine(t, cfg)

	res, err := e.CreateDatabaseBackup(context.Background())
	require.NoError(t, err)

	// Flip one byte of the artifact; the sidecar digest no longer matches.
	data, err := os.ReadFile(res.ArtifactPath)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, os.WriteFile(res.ArtifactPath, data, 0644))

	_, err = e.RestoreDatabase(context.Background(), res.ArtifactPath)
	require.ErrorIs(t, err, apperrors.ErrChecksumMismatch)
}

// endlessAdapter streams snapshot bytes until the write side errors, like a
// dump of a store far larger than any pipe buffering.
type endlessAdapter struct{}

func (endlessAdapter) Name() string               { return "stub" }
func (endlessAdapter) Ping(context.Context) error { return nil }
func (endlessAdapter) EntryName() string          { return "store.db" }
func (endlessAdapter) SetLogger(*logger.Logger)   {}

func (endlessAdapter) Tables(context.Context) ([]db.TableCount, error) { return nil, nil }

func (endlessAdapter) Restore(context.Context, io.Reader) (bool, error) { return false, nil }

func (endlessAdapter) Snapshot(ctx context.Context, w io.Writer) error {
	chunk := make([]byte, 32*1024)
	for {
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
}

func TestDatabaseBackupAbortedMidStreamReturns(t *testing.T) {
	cfg := testConfig(t)
	e := newTestEngine(t, cfg)
	e.adapter = endlessAdapter{}

	// The archive write aborts on the first read while the snapshot
	// goroutine is parked inside a pipe write.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := e.CreateDatabaseBackup(ctx)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("backup never returned after the archive write aborted mid-stream")
	}

	// The run lock is free again and no partial artifact lingers.
	require.True(t, e.locks[manifest.TypeDatabase].TryLock())
	e.locks[manifest.TypeDatabase].Unlock()

	dirents, err := os.ReadDir(cfg.Storage.Local.Path)
	require.NoError(t, err)
	assert.Empty(t, dirents)
}

func TestDatabaseRestoreMissingArtifact(t *testing.T) {
	cfg := testConfig(t)
	withSqlite(t, cfg)
	e := newTestEngine(t, cfg)

	_, err := e.RestoreDatabase(context.Background(), "database_backup_2026-01-01_00-00-00.db.zip")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.TypeSource))
}
