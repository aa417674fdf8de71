// Package repository persists batch run history in Postgres or SQLite.
package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/docextract/internal/common"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

type Config struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// DB is an open history database. Pool is set for Postgres only.
type DB struct {
	SQL     *sql.DB
	Pool    *pgxpool.Pool
	Dialect Dialect
}

// Open connects to a postgres:// DSN through a pgx pool, or to a
// sqlite:<path> DSN through the pure-Go driver.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case strings.HasPrefix(cfg.DSN, "postgres://"), strings.HasPrefix(cfg.DSN, "postgresql://"):
		return openPostgres(ctx, cfg, logger)
	case strings.HasPrefix(cfg.DSN, "sqlite:"):
		return openSQLite(ctx, strings.TrimPrefix(cfg.DSN, "sqlite:"), logger)
	default:
		return nil, common.ConfigErrorf("unsupported HISTORY_DSN scheme")
	}
}

func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	logger.Info("history.db.connecting", "dialect", Postgres)
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, common.NewAppError(common.CodeConfig, "parse HISTORY_DSN", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "docextract"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = cfg.StatementTimeout.String()
	}

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		logger.Error("history.db.connect_failed", "error", err)
		return nil, common.StorageError(err, "connect history database")
	}

	db := &DB{SQL: stdlib.OpenDBFromPool(pool), Pool: pool, Dialect: Postgres}
	if err := db.migrate(ctx); err != nil {
		db.Close(logger)
		return nil, err
	}
	logger.Info("history.db.connected", "dialect", Postgres)
	return db, nil
}

func openSQLite(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	if path == "" {
		return nil, common.ConfigErrorf("sqlite HISTORY_DSN needs a path")
	}
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, common.StorageError(err, "open history database")
	}
	// one writer at a time
	sqldb.SetMaxOpenConns(1)

	db := &DB{SQL: sqldb, Dialect: SQLite}
	if err := db.migrate(ctx); err != nil {
		db.Close(logger)
		return nil, err
	}
	logger.Info("history.db.connected", "dialect", SQLite, "path", path)
	return db, nil
}

const schema = `CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	prefix        TEXT NOT NULL,
	threshold     DOUBLE PRECISION NOT NULL,
	started_at    BIGINT NOT NULL,
	finished_at   BIGINT NOT NULL,
	documents     INTEGER NOT NULL,
	pages         INTEGER NOT NULL,
	errored_pages INTEGER NOT NULL,
	empty         INTEGER NOT NULL,
	failed        INTEGER NOT NULL,
	input_tokens  BIGINT NOT NULL,
	output_tokens BIGINT NOT NULL,
	cancelled     BOOLEAN NOT NULL,
	tiers         TEXT NOT NULL,
	results       TEXT NOT NULL
)`

func (d *DB) migrate(ctx context.Context) error {
	if _, err := d.SQL.ExecContext(ctx, schema); err != nil {
		return common.StorageError(err, "create runs table")
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (d *DB) rebind(q string) string {
	if d.Dialect != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Close closes the database connections gracefully
func (d *DB) Close(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := d.SQL.Close(); err != nil {
		logger.Error("history.db.close_failed", "error", err)
	}
	if d.Pool != nil {
		d.Pool.Close()
	}
	logger.Info("history.db.closed")
}

// HealthCheck pings the database, bounded by timeout when it is positive.
func (d *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return d.SQL.PingContext(ctx)
}
