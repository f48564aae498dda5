package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tradeetl/internal/storage"
	"tradeetl/internal/storage/sqlq"
)

// Maintenance pins one pooled connection. Referential integrity is toggled
// with session_replication_role, which suppresses FK triggers for that
// session only. Setting it needs superuser; for an ordinary role the toggle
// degrades to a no-op and resets rely on deleting facts before dimensions.
func (r *Repo) Maintenance(ctx context.Context) (storage.Maintenance, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: acquire maintenance conn: %w", err)
	}
	return &session{conn: conn, exec: conn}, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type session struct {
	conn     *pgxpool.Conn
	exec     execer
	disabled bool

	// unprivileged is set once the role was refused the toggle.
	unprivileged bool
}

// insufficientPrivilege is SQLSTATE 42501.
const insufficientPrivilege = "42501"

func (s *session) SetIntegrity(ctx context.Context, enabled bool) error {
	if s.unprivileged {
		return nil
	}
	stmt := "SET session_replication_role = replica"
	if enabled {
		stmt = "SET session_replication_role = DEFAULT"
	}
	if _, err := s.exec.Exec(ctx, stmt); err != nil {
		var pgErr *pgconn.PgError
		if !enabled && errors.As(err, &pgErr) && pgErr.Code == insufficientPrivilege {
			s.unprivileged = true
			return nil
		}
		return fmt.Errorf("postgres: %s: %w", stmt, err)
	}
	s.disabled = !enabled
	return nil
}

func (s *session) InTx(ctx context.Context, fn func(ctx context.Context, w storage.Wiper) error) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin maintenance tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, wiper{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit maintenance tx: %w", err)
	}
	return nil
}

// Close returns the connection to the pool, or closes it when integrity was
// left disabled.
func (s *session) Close() error {
	if s.conn == nil {
		return nil
	}
	conn := s.conn
	s.conn = nil
	if s.disabled {
		raw := conn.Hijack()
		return raw.Close(context.Background())
	}
	conn.Release()
	return nil
}

type wiper struct {
	tx pgx.Tx
}

func (w wiper) exec(ctx context.Context, q *sqlq.Query) (int64, error) {
	tag, err := w.tx.Exec(ctx, q.String(), q.Args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (w wiper) DeleteAll(ctx context.Context, table string) (int64, error) {
	n, err := w.exec(ctx, sqlq.DeleteAll(dialect, table))
	if err != nil {
		return 0, fmt.Errorf("postgres: delete %s: %w", table, err)
	}
	return n, nil
}

func (w wiper) DeleteFactsByYear(ctx context.Context, year int) (int64, error) {
	n, err := w.exec(ctx, sqlq.DeleteFactsByYear(dialect, year))
	if err != nil {
		return 0, fmt.Errorf("postgres: delete facts year=%d: %w", year, err)
	}
	return n, nil
}

func (w wiper) UnreferencedIDs(ctx context.Context, kind storage.DimensionKind) ([]int64, error) {
	ids, err := collect(ctx, w.tx, sqlq.UnreferencedIDs(dialect, kind), func(scan sqlq.ScanFunc) (int64, error) {
		var id int64
		err := scan(&id)
		return id, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: unreferenced %s: %w", kind.Table(), err)
	}
	return ids, nil
}

func (w wiper) DeleteDimensions(ctx context.Context, kind storage.DimensionKind, ids []int64) (int64, error) {
	var total int64
	err := storage.Chunk(len(ids), dialect.MaxParams, func(start, end int) error {
		n, err := w.exec(ctx, sqlq.DeleteDimensionsByID(dialect, kind, ids[start:end]))
		total += n
		return err
	})
	if err != nil {
		return total, fmt.Errorf("postgres: delete %s: %w", kind.Table(), err)
	}
	return total, nil
}
