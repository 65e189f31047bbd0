package backup

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/arlberg/backstop/internal/archive"
	apperrors "github.com/arlberg/backstop/internal/errors"
	"github.com/arlberg/backstop/internal/manifest"
)

// CreateDatabaseBackup captures a transactionally consistent snapshot of the
// relational store, compresses it into a zip artifact, seals it with a
// SHA-256 sidecar, and returns summary statistics. On any failure or
// cancellation the partial artifact is deleted; retry policy belongs to the
// scheduler, not this call.
func (e *Engine) CreateDatabaseBackup(ctx context.Context) (*Result, error) {
	if e.adapter == nil {
		return nil, apperrors.New(apperrors.TypeConfig, "database backups are disabled", "Enable database.enabled in the configuration.")
	}

	release, err := e.acquire(manifest.TypeDatabase, false)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()

	if err := e.adapter.Ping(ctx); err != nil {
		return nil, err
	}

	tables, err := e.adapter.Tables(ctx)
	if err != nil {
		// Degraded metadata only; the snapshot itself is unaffected.
		e.log.Warn("table enumeration failed, sidecar metadata will be incomplete", "error", err)
	}

	name := manifest.ArtifactName(manifest.TypeDatabase, start)
	path := e.store.ArtifactPath(name)
	e.log.Info("database backup started", "engine", e.adapter.Name(), "artifact", name)

	aw, err := archive.Create(path, e.cfg.Database.Compress)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	snapErr := make(chan error, 1)
	go func() {
		err := e.adapter.Snapshot(ctx, pw)
		pw.CloseWithError(err)
		snapErr <- err
	}()

	rawSize, err := aw.AddFile(ctx, e.adapter.EntryName(), start, e.wrapProgress(pr, "database"))
	// Closing the read side unblocks a snapshot goroutine still sitting in
	// pw.Write when the archive write aborted mid-stream.
	pr.CloseWithError(err)
	if serr := <-snapErr; serr != nil {
		err = serr
	}
	if err != nil {
		aw.Abort()
		return nil, apperrors.Wrap(err, apperrors.TypeIO, "database snapshot failed", "The partial artifact was deleted.")
	}

	if err := aw.Commit(); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		os.Remove(path)
		return nil, apperrors.Wrap(err, apperrors.TypeIO, "failed to stat finished artifact", "")
	}

	checksum, err := manifest.Checksum(path)
	if err != nil {
		os.Remove(path)
		return nil, apperrors.Wrap(err, apperrors.TypeIO, "failed to checksum artifact", "")
	}

	sc := manifest.New(manifest.TypeDatabase, path)
	sc.Timestamp = start
	sc.Checksum = checksum
	sc.Size = info.Size()
	sc.Database = &manifest.DatabaseMeta{
		Engine:       e.adapter.Name(),
		Tables:       make([]string, 0, len(tables)),
		RecordCounts: make(map[string]int64, len(tables)),
	}
	for _, t := range tables {
		sc.Database.Tables = append(sc.Database.Tables, t.Name)
		sc.Database.RecordCounts[t.Name] = t.Rows
	}

	if err := sc.Write(); err != nil {
		os.Remove(path)
		return nil, apperrors.Wrap(err, apperrors.TypeIO, "failed to write sidecar", "")
	}

	duration := time.Since(start)
	e.log.Info("database backup finished",
		"artifact", name,
		"size", info.Size(),
		"raw_size", rawSize,
		"tables", len(tables),
		"duration", duration.String(),
	)

	return &Result{
		ArtifactPath: path,
		Size:         info.Size(),
		Duration:     duration,
		FileCount:    1,
		Sidecar:      sc,
	}, nil
}
