package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/arlberg/backstop/internal/errors"
	"github.com/arlberg/backstop/internal/logger"
)

// SqliteAdapter snapshots an embedded sqlite store by copying its backing
// file while holding a write transaction, so no writer can leave the file
// torn mid-copy.
type SqliteAdapter struct {
	params Params
	logger *logger.Logger
}

func (sq *SqliteAdapter) Name() string { return "sqlite" }

func (sq *SqliteAdapter) SetLogger(l *logger.Logger) { sq.logger = l }

func (sq *SqliteAdapter) EntryName() string {
	return filepath.Base(sq.params.Path)
}

func (sq *SqliteAdapter) open() (*sql.DB, error) {
	if sq.params.Path == "" {
		return nil, apperrors.New(apperrors.TypeConfig, "sqlite path is empty", "Set database.path to the store's backing file.")
	}
	db, err := sql.Open("sqlite3", sq.params.Path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeConfig, "failed to open sqlite store", "Verify the file path and permissions.")
	}
	return db, nil
}

func (sq *SqliteAdapter) Ping(ctx context.Context) error {
	db, err := sq.open()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.TypeSource, "failed to ping sqlite store", "Ensure the file is a valid sqlite database.")
	}
	return nil
}

func (sq *SqliteAdapter) Tables(ctx context.Context) ([]TableCount, error) {
	db, err := sq.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeSource, "failed to enumerate tables", "")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	counts := make([]TableCount, 0, len(names))
	for _, name := range names {
		var n int64
		q := fmt.Sprintf(`SELECT COUNT(*) FROM %q`, name)
		if err := db.QueryRowContext(ctx, q).Scan(&n); err != nil {
			if sq.logger != nil {
				sq.logger.Warn("failed to count rows, skipping table", "table", name, "error", err)
			}
			continue
		}
		counts = append(counts, TableCount{Name: name, Rows: n})
	}
	return counts, nil
}

// Snapshot copies the backing file into w. A wal checkpoint folds pending
// pages into the main file first, then BEGIN IMMEDIATE keeps every writer out
// for the duration of the copy.
func (sq *SqliteAdapter) Snapshot(ctx context.Context, w io.Writer) error {
	db, err := sq.open()
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		if sq.logger != nil {
			sq.logger.Debug("wal checkpoint failed, store likely not in WAL mode", "error", err)
		}
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeSource, "failed to acquire sqlite connection", "")
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return apperrors.Wrap(err, apperrors.TypeConflict, "could not lock sqlite store for snapshot", "A write transaction holds the store. Retry once it finishes.")
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), `ROLLBACK`)

	src, err := os.Open(sq.params.Path)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeIO, "failed to open sqlite backing file", "")
	}
	defer src.Close()

	if _, err := io.Copy(w, src); err != nil {
		return apperrors.Wrap(err, apperrors.TypeIO, "failed to copy sqlite backing file", "")
	}
	return nil
}

// Restore writes the snapshot beside the live file and renames it into place.
// The live store may still be open in the host process, so the caller must
// reconnect the data-access layer afterwards.
func (sq *SqliteAdapter) Restore(ctx context.Context, r io.Reader) (bool, error) {
	if sq.params.Path == "" {
		return false, apperrors.New(apperrors.TypeConfig, "sqlite path is empty", "Set database.path to the store's backing file.")
	}

	dir := filepath.Dir(sq.params.Path)
	tmp, err := os.CreateTemp(dir, ".restore-*")
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.TypeIO, "failed to create restore temp file", "")
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return false, apperrors.Wrap(err, apperrors.TypeIO, "failed to write restored store", "")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return false, apperrors.Wrap(err, apperrors.TypeIO, "failed to close restored store", "")
	}

	if err := os.Rename(tmpName, sq.params.Path); err != nil {
		os.Remove(tmpName)
		return false, apperrors.Wrap(err, apperrors.TypeIO, "failed to replace live store", "")
	}

	// Stale WAL/SHM files would shadow the restored data on next open.
	os.Remove(sq.params.Path + "-wal")
	os.Remove(sq.params.Path + "-shm")

	return true, nil
}
