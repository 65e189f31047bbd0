package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	_ "github.com/go-sql-driver/mysql"

	apperrors "github.com/arlberg/backstop/internal/errors"
	"github.com/arlberg/backstop/internal/logger"
)

// MysqlAdapter enumerates tables through the mysql driver and streams dumps
// through mysqldump with --single-transaction for a consistent view.
type MysqlAdapter struct {
	params Params
	logger *logger.Logger
}

func (ma *MysqlAdapter) Name() string { return "mysql" }

func (ma *MysqlAdapter) SetLogger(l *logger.Logger) { ma.logger = l }

func (ma *MysqlAdapter) EntryName() string { return "dump.sql" }

func (ma *MysqlAdapter) dsn() (string, error) {
	if ma.params.DSN != "" {
		return ma.params.DSN, nil
	}

	if ma.params.Host == "" || ma.params.User == "" || ma.params.DBName == "" {
		return "", apperrors.New(apperrors.TypeConfig, "missing required mysql connection fields", "Set database.dsn or host, user, and name.")
	}

	port := ma.params.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", ma.params.User, ma.params.Password, ma.params.Host, port, ma.params.DBName), nil
}

func (ma *MysqlAdapter) open() (*sql.DB, error) {
	dsn, err := ma.dsn()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeConfig, "failed to open mysql connection", "Check the connection string.")
	}
	return db, nil
}

func (ma *MysqlAdapter) Ping(ctx context.Context) error {
	db, err := ma.open()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.TypeSource, "failed to ping mysql", "Verify host, port, and credentials.")
	}
	return nil
}

func (ma *MysqlAdapter) Tables(ctx context.Context) ([]TableCount, error) {
	db, err := ma.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SHOW FULL TABLES WHERE Table_type = 'BASE TABLE'`)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeSource, "failed to enumerate tables", "")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name, kind string
		if err := rows.Scan(&name, &kind); err != nil {
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
		q := fmt.Sprintf("SELECT COUNT(*) FROM `%s`", name)
		if err := db.QueryRowContext(ctx, q).Scan(&n); err != nil {
			if ma.logger != nil {
				ma.logger.Warn("failed to count rows, skipping table", "table", name, "error", err)
			}
			continue
		}
		counts = append(counts, TableCount{Name: name, Rows: n})
	}
	return counts, nil
}

func (ma *MysqlAdapter) execArgs() ([]string, error) {
	if ma.params.Host == "" || ma.params.User == "" || ma.params.DBName == "" {
		return nil, apperrors.New(apperrors.TypeConfig, "missing required mysql connection fields", "mysqldump needs host, user, password, and name.")
	}

	port := ma.params.Port
	if port == 0 {
		port = 3306
	}
	return []string{
		fmt.Sprintf("--host=%s", ma.params.Host),
		fmt.Sprintf("--port=%d", port),
		fmt.Sprintf("--user=%s", ma.params.User),
		fmt.Sprintf("--password=%s", ma.params.Password),
	}, nil
}

func (ma *MysqlAdapter) Snapshot(ctx context.Context, w io.Writer) error {
	args, err := ma.execArgs()
	if err != nil {
		return err
	}
	args = append(args, "--single-transaction", "--quick", "--skip-lock-tables", ma.params.DBName)

	if ma.logger != nil {
		ma.logger.Info("running mysqldump", "database", ma.params.DBName)
	}
	return runCommand(ctx, "mysqldump", args, nil, w)
}

func (ma *MysqlAdapter) Restore(ctx context.Context, r io.Reader) (bool, error) {
	args, err := ma.execArgs()
	if err != nil {
		return false, err
	}
	args = append(args, ma.params.DBName)

	if ma.logger != nil {
		ma.logger.Info("restoring through mysql client", "database", ma.params.DBName)
	}
	if err := runCommand(ctx, "mysql", args, r, nil); err != nil {
		return false, err
	}
	return false, nil
}
