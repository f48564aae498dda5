package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tradeetl/internal/storage"
	"tradeetl/internal/storage/sqlq"
)

/*
Repo implements storage.Repository for Postgres on a pgxpool.

It provides:
  - streaming and offset-paged reads of the export_th source
  - idempotent dimension inserts (ON CONFLICT DO NOTHING)
  - transactional fact batches
  - a pinned maintenance session toggling session_replication_role
*/
type Repo struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Repo)(nil)

var dialect = sqlq.Postgres

// New creates a Postgres-backed Repo. cfg.MaxConns sizes the pool.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureTables creates the star schema. This method is idempotent.
func (r *Repo) EnsureTables(ctx context.Context) error {
	for _, stmt := range sqlq.DDL(dialect) {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ddl %q: %w", stmt, err)
		}
	}
	return nil
}

// querier is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func count(ctx context.Context, q querier, query *sqlq.Query) (int64, error) {
	var n int64
	if err := q.QueryRow(ctx, query.String(), query.Args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// collect runs query and scans every row with scanRow.
func collect[T any](ctx context.Context, q querier, query *sqlq.Query, scanRow func(sqlq.ScanFunc) (T, error)) ([]T, error) {
	rows, err := q.Query(ctx, query.String(), query.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scanRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
