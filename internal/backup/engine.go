// Package backup implements the backup/restore engine: the database snapshot
// producer, the file tree archiver, verification, retention cleanup, and the
// restore paths. One Engine is constructed by the host's startup routine and
// injected wherever needed; there is no process-wide instance.
package backup

import (
	"context"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"

	"github.com/arlberg/backstop/internal/config"
	"github.com/arlberg/backstop/internal/db"
	apperrors "github.com/arlberg/backstop/internal/errors"
	"github.com/arlberg/backstop/internal/logger"
	"github.com/arlberg/backstop/internal/manifest"
	"github.com/arlberg/backstop/internal/notify"
	"github.com/arlberg/backstop/internal/storage"
)

type Engine struct {
	cfg      *config.Config
	store    *storage.Local
	log      *logger.Logger
	notifier notify.Notifier
	adapter  db.Adapter
	progress *mpb.Progress

	// One lock per artifact type. Producers and restores contend on the same
	// lock, so a restore can never run concurrently with a backup of the same
	// type; an attempt while the lock is held is dropped, never queued.
	locks map[manifest.BackupType]*sync.Mutex
}

type Options struct {
	Logger   *logger.Logger
	Notifier notify.Notifier
	Progress *mpb.Progress // optional, interactive runs only
}

// Result summarizes one successful producer run.
type Result struct {
	ArtifactPath string
	Size         int64
	Duration     time.Duration
	FileCount    int
	Skipped      []string
	Sidecar      *manifest.Sidecar
}

// RestoreResult reports a finished restore. RequiresRestart tells the caller
// the data-access layer must be reconnected before the store is used again.
type RestoreResult struct {
	Success         bool
	RequiresRestart bool
	ExtractedFiles  int
}

// CleanupResult reports retention cleanup: per-item failures are collected,
// they never abort the remaining deletions.
type CleanupResult struct {
	Deleted int
	Errors  []error
}

// BackupInfo pairs an artifact on disk with its sidecar, if one exists.
type BackupInfo struct {
	storage.ArtifactInfo
	Sidecar *manifest.Sidecar
}

func New(cfg *config.Config, opts Options) (*Engine, error) {
	l := opts.Logger
	if l == nil {
		l = logger.New(logger.Config{})
	}

	store := storage.NewLocal(cfg.Storage.Local.Path)
	if err := store.EnsureWritable(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		store:    store,
		log:      l,
		notifier: opts.Notifier,
		progress: opts.Progress,
		locks: map[manifest.BackupType]*sync.Mutex{
			manifest.TypeDatabase: {},
			manifest.TypeFiles:    {},
		},
	}

	if cfg.Database.Enabled {
		adapter, err := db.Open(db.Params{
			Engine:   cfg.Database.Engine,
			Path:     cfg.Database.Path,
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.Name,
		})
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.TypeConfig, "failed to set up database adapter", "")
		}
		adapter.SetLogger(l)
		e.adapter = adapter
	}

	return e, nil
}

func (e *Engine) Storage() *storage.Local { return e.store }

// acquire takes the per-type run lock without blocking. Producers get
// ErrAlreadyRunning when it is held, restores get ErrRestoreConflict.
func (e *Engine) acquire(typ manifest.BackupType, restore bool) (func(), error) {
	mu := e.locks[typ]
	if !mu.TryLock() {
		if restore {
			return nil, apperrors.ErrRestoreConflict
		}
		return nil, apperrors.ErrAlreadyRunning
	}
	return mu.Unlock, nil
}

// ListBackups returns the artifacts of the given type (or all types for an
// empty type), newest first, each with its sidecar when one can be read.
func (e *Engine) ListBackups(ctx context.Context, typ manifest.BackupType) ([]BackupInfo, error) {
	artifacts, err := e.store.List(typ)
	if err != nil {
		return nil, err
	}

	infos := make([]BackupInfo, 0, len(artifacts))
	for _, a := range artifacts {
		info := BackupInfo{ArtifactInfo: a}
		if sc, err := manifest.Read(a.Path); err == nil {
			info.Sidecar = sc
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Notify forwards a job outcome to the configured notifier. Failures are
// logged and swallowed; the collaborator can never fail a backup job.
func (e *Engine) Notify(ctx context.Context, ev notify.Event) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.log.Warn("notification delivery failed", "job", ev.JobName, "error", err)
	}
}
