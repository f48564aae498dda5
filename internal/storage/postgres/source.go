package postgres

import (
	"context"
	"fmt"

	"tradeetl/internal/storage"
	"tradeetl/internal/storage/sqlq"
)

func (r *Repo) CountSource(ctx context.Context, scope storage.Scope) (int64, error) {
	n, err := count(ctx, r.pool, sqlq.CountSource(dialect, scope))
	if err != nil {
		return 0, fmt.Errorf("postgres: count source scope=%s: %w", scope, err)
	}
	return n, nil
}

// StreamSource iterates the source cursor row by row; only the current row is
// held in memory.
func (r *Repo) StreamSource(ctx context.Context, scope storage.Scope, fn func(storage.SourceRecord) error) error {
	q := sqlq.StreamSource(dialect, scope)
	rows, err := r.pool.Query(ctx, q.String(), q.Args...)
	if err != nil {
		return fmt.Errorf("postgres: stream source scope=%s: %w", scope, err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := sqlq.ScanSource(rows.Scan)
		if err != nil {
			return fmt.Errorf("postgres: scan source: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: stream source scope=%s: %w", scope, err)
	}
	return nil
}

func (r *Repo) PageSource(ctx context.Context, scope storage.Scope, offset, limit int) ([]storage.SourceRecord, error) {
	out, err := collect(ctx, r.pool, sqlq.PageSource(dialect, scope, offset, limit), sqlq.ScanSource)
	if err != nil {
		return nil, fmt.Errorf("postgres: page source scope=%s offset=%d limit=%d: %w", scope, offset, limit, err)
	}
	return out, nil
}

func (r *Repo) SourceYears(ctx context.Context) ([]string, error) {
	out, err := collect(ctx, r.pool, sqlq.SourceYears(dialect), func(scan sqlq.ScanFunc) (string, error) {
		var y string
		err := scan(&y)
		return y, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: source years: %w", err)
	}
	return out, nil
}

// InsertSource appends raw rows in one transaction, split into statements
// that fit the parameter limit.
func (r *Repo) InsertSource(ctx context.Context, rows []storage.SourceRecord) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var total int64
	err = storage.Chunk(len(rows), dialect.RowsPerStatement(len(storage.SourceColumns)), func(start, end int) error {
		vals := make([][]any, 0, end-start)
		for _, rec := range rows[start:end] {
			vals = append(vals, rec.Values())
		}
		q := sqlq.InsertRows(dialect, storage.TableSource, storage.SourceColumns, vals, false)
		tag, err := tx.Exec(ctx, q.String(), q.Args...)
		if err != nil {
			return err
		}
		total += tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("postgres: insert source: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: insert source commit: %w", err)
	}
	return total, nil
}
