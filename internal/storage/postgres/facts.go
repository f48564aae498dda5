package postgres

import (
	"context"
	"fmt"

	"tradeetl/internal/storage"
	"tradeetl/internal/storage/sqlq"
)

// InsertFacts writes one batch in a single transaction. A failure rolls back
// the whole batch so a retry never duplicates rows.
func (r *Repo) InsertFacts(ctx context.Context, rows []storage.FactRecord) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin fact batch: %w", err)
	}
	defer tx.Rollback(ctx)

	var total int64
	err = storage.Chunk(len(rows), dialect.RowsPerStatement(len(storage.FactColumns)), func(start, end int) error {
		vals := make([][]any, 0, end-start)
		for _, f := range rows[start:end] {
			vals = append(vals, f.Values())
		}
		q := sqlq.InsertRows(dialect, storage.TableFact, storage.FactColumns, vals, false)
		tag, err := tx.Exec(ctx, q.String(), q.Args...)
		if err != nil {
			return err
		}
		total += tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("postgres: insert facts: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit fact batch: %w", err)
	}
	return total, nil
}

func (r *Repo) CountFacts(ctx context.Context, year *int) (int64, error) {
	n, err := count(ctx, r.pool, sqlq.CountFacts(dialect, year))
	if err != nil {
		return 0, fmt.Errorf("postgres: count facts: %w", err)
	}
	return n, nil
}
