// Package postgres persists per-image download outcomes to Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/catalog-image-harvester/internal/catalog"
)

// DefaultTable receives result rows when no table is configured.
const DefaultTable = "download_results"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for result rows.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ResultStore writes download outcomes into Postgres.
type ResultStore struct {
	pool  execCloser
	table string
	clock catalog.Clock
}

// NewResultStore creates a pooled ResultStore from cfg.
func NewResultStore(ctx context.Context, cfg Config, clock catalog.Clock) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ResultStore{pool: pool, table: table, clock: clock}, nil
}

// NewResultStoreWithPool constructs a store from an existing pool.
func NewResultStoreWithPool(pool execCloser, table string, clock catalog.Clock) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ResultStore{pool: pool, table: name, clock: clock}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the result table when it does not exist.
func (s *ResultStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id      TEXT        NOT NULL,
	filename    TEXT        NOT NULL,
	url         TEXT        NOT NULL,
	success     BOOLEAN     NOT NULL,
	status_code INTEGER     NOT NULL,
	timed_out   BOOLEAN     NOT NULL,
	reason      TEXT        NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, filename)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create result table: %w", err)
	}
	return nil
}

// RecordResult upserts one row per (run, filename).
func (s *ResultStore) RecordResult(ctx context.Context, runID string, result catalog.DownloadResult) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("result store is not configured")
	}
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	filename,
	url,
	success,
	status_code,
	timed_out,
	reason,
	recorded_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (run_id, filename) DO UPDATE SET
	success = EXCLUDED.success,
	status_code = EXCLUDED.status_code,
	timed_out = EXCLUDED.timed_out,
	reason = EXCLUDED.reason,
	recorded_at = EXCLUDED.recorded_at`, s.table)

	args := []any{
		runID,
		result.Filename,
		result.URL,
		result.Success,
		result.StatusCode,
		result.TimedOut,
		result.Reason,
		s.now(),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (s *ResultStore) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}
