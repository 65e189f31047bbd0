// Package db holds the store adapters the snapshot producer and restore
// engine talk to. The embedded sqlite engine is the primary path; postgres
// and mysql stream through their native dump tools.
package db

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/arlberg/backstop/internal/logger"
)

// Params describes how to reach the relational store.
type Params struct {
	Engine   string // sqlite | postgres | mysql
	Path     string // backing file, embedded engines only
	DSN      string // connection string, client-server engines
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// TableCount pairs a table name with its row count at snapshot time.
type TableCount struct {
	Name string
	Rows int64
}

// Adapter is implemented once per supported engine.
type Adapter interface {
	Name() string
	Ping(ctx context.Context) error
	// Tables enumerates user tables and their row counts for the sidecar.
	Tables(ctx context.Context) ([]TableCount, error)
	// Snapshot streams a transactionally consistent copy of the store into w.
	Snapshot(ctx context.Context, w io.Writer) error
	// Restore replaces the store's data with the snapshot read from r. The
	// returned flag tells the caller whether the data-access layer must be
	// reconnected or the process restarted before the store is usable again.
	Restore(ctx context.Context, r io.Reader) (requiresRestart bool, err error)
	// EntryName is the archive entry name a snapshot is stored under.
	EntryName() string
	SetLogger(l *logger.Logger)
}

// Open returns the adapter for the engine named in p.
func Open(p Params) (Adapter, error) {
	switch strings.ToLower(p.Engine) {
	case "sqlite", "sqlite3":
		return &SqliteAdapter{params: p}, nil
	case "postgres", "postgresql":
		return &PostgresAdapter{params: p}, nil
	case "mysql", "mariadb":
		return &MysqlAdapter{params: p}, nil
	default:
		return nil, fmt.Errorf("unsupported database engine: %s", p.Engine)
	}
}
