package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/arlberg/backstop/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backstop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: ./app.db
files:
  directories: ["./data"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "sqlite", cfg.Database.Engine)
	assert.Equal(t, "0 2 * * *", cfg.Database.Schedule)
	assert.Equal(t, "0 4 * * *", cfg.Database.CleanupSchedule)
	assert.True(t, cfg.Database.Compress)
	assert.Equal(t, 7, cfg.Database.Retention.Daily)
	assert.Equal(t, 4, cfg.Database.Retention.Weekly)
	assert.Equal(t, 12, cfg.Database.Retention.Monthly)

	assert.Equal(t, "0 3 * * *", cfg.Files.Schedule)
	assert.Equal(t, "30 4 * * *", cfg.Files.CleanupSchedule)
	assert.Equal(t, "./backups", cfg.Storage.Local.Path)
	assert.True(t, cfg.Notifications.OnFailure)
	assert.False(t, cfg.Notifications.OnSuccess)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
database:
  engine: postgres
  host: db.internal
  port: 5432
  user: app
  password: hunter2
  name: appdb
  schedule: "15 1 * * *"
files:
  directories: ["./data", "./uploads"]
  exclusions: ["*.tmp", "*.log"]
  retention:
    daily: 14
storage:
  local:
    path: /var/backups
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Engine)
	assert.Equal(t, "15 1 * * *", cfg.Database.Schedule)
	assert.Equal(t, []string{"*.tmp", "*.log"}, cfg.Files.Exclusions)
	assert.Equal(t, "/var/backups", cfg.Storage.Local.Path)
	assert.Equal(t, 14, cfg.Files.Retention.Daily)
}

func TestValidateRejectsBadCadence(t *testing.T) {
	path := writeConfig(t, `
database:
  path: ./app.db
  schedule: "not a cron line"
files:
  enabled: false
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.TypeConfig))
	assert.Contains(t, err.Error(), "database.schedule")
}

func TestValidateRejectsSqliteWithoutPath(t *testing.T) {
	path := writeConfig(t, `
database:
  engine: sqlite
files:
  enabled: false
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path")
}

func TestValidateRejectsUnknownEngine(t *testing.T) {
	path := writeConfig(t, `
database:
  engine: oracle
  path: ./app.db
files:
  enabled: false
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle")
}

func TestValidateRejectsIncompleteClientServer(t *testing.T) {
	path := writeConfig(t, `
database:
  engine: postgres
  host: db.internal
files:
  enabled: false
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database connection is incomplete")
}

func TestValidateRejectsEmptyFileDirectories(t *testing.T) {
	path := writeConfig(t, `
database:
  enabled: false
files:
  directories: []
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "files.directories")
}

func TestValidateRejectsBadExclusionPattern(t *testing.T) {
	path := writeConfig(t, `
database:
  enabled: false
files:
  directories: ["./data"]
  exclusions: ["[unclosed"]
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exclusion pattern")
}

func TestValidateRejectsNegativeRetention(t *testing.T) {
	path := writeConfig(t, `
database:
  path: ./app.db
  retention:
    daily: -1
files:
  enabled: false
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative")
}

func TestFilesRetentionFallback(t *testing.T) {
	cfg := &Config{}
	cfg.Database.Retention = Retention{Daily: 9, Weekly: 4, Monthly: 12}

	// No files policy: only the database daily tier applies.
	got := cfg.FilesRetention()
	assert.Equal(t, Retention{Daily: 9}, got)

	cfg.Files.Retention = Retention{Daily: 3, Weekly: 1}
	assert.Equal(t, Retention{Daily: 3, Weekly: 1}, cfg.FilesRetention())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.TypeConfig))
}
