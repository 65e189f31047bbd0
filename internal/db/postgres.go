package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/url"
	"time"

	_ "github.com/lib/pq"

	apperrors "github.com/arlberg/backstop/internal/errors"
	"github.com/arlberg/backstop/internal/logger"
)

// PostgresAdapter enumerates tables through lib/pq and streams dumps through
// pg_dump, which takes its own consistent snapshot server-side.
type PostgresAdapter struct {
	params Params
	logger *logger.Logger
}

func (pa *PostgresAdapter) Name() string { return "postgres" }

func (pa *PostgresAdapter) SetLogger(l *logger.Logger) { pa.logger = l }

func (pa *PostgresAdapter) EntryName() string { return "dump.sql" }

func (pa *PostgresAdapter) dsn() (string, error) {
	if pa.params.DSN != "" {
		return pa.params.DSN, nil
	}

	if pa.params.Host == "" || pa.params.User == "" || pa.params.DBName == "" {
		return "", apperrors.New(apperrors.TypeConfig, "missing required postgres connection fields", "Set database.dsn or host, user, and name.")
	}

	port := pa.params.Port
	if port == 0 {
		port = 5432
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(pa.params.User, pa.params.Password),
		Host:   fmt.Sprintf("%s:%d", pa.params.Host, port),
		Path:   pa.params.DBName,
	}
	q := u.Query()
	q.Set("sslmode", "disable")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (pa *PostgresAdapter) open() (*sql.DB, error) {
	dsn, err := pa.dsn()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeConfig, "failed to open postgres connection", "Check the connection string.")
	}
	return db, nil
}

func (pa *PostgresAdapter) Ping(ctx context.Context) error {
	db, err := pa.open()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.TypeSource, "failed to ping postgres", "Verify host, port, and credentials.")
	}
	return nil
}

func (pa *PostgresAdapter) Tables(ctx context.Context) ([]TableCount, error) {
	db, err := pa.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		 ORDER BY table_name`)
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
			if pa.logger != nil {
				pa.logger.Warn("failed to count rows, skipping table", "table", name, "error", err)
			}
			continue
		}
		counts = append(counts, TableCount{Name: name, Rows: n})
	}
	return counts, nil
}

func (pa *PostgresAdapter) Snapshot(ctx context.Context, w io.Writer) error {
	dsn, err := pa.dsn()
	if err != nil {
		return err
	}
	if pa.logger != nil {
		pa.logger.Info("running pg_dump", "database", pa.params.DBName)
	}
	return runCommand(ctx, "pg_dump", []string{"--dbname=" + dsn, "--no-owner"}, nil, w)
}

func (pa *PostgresAdapter) Restore(ctx context.Context, r io.Reader) (bool, error) {
	dsn, err := pa.dsn()
	if err != nil {
		return false, err
	}
	if pa.logger != nil {
		pa.logger.Info("restoring through psql", "database", pa.params.DBName)
	}
	if err := runCommand(ctx, "psql", []string{"--dbname=" + dsn, "--quiet"}, r, nil); err != nil {
		return false, err
	}
	// Server-side restore; the host only needs fresh connections, not a restart.
	return false, nil
}
