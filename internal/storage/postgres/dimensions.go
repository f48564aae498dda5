package postgres

import (
	"context"
	"fmt"

	"tradeetl/internal/storage"
	"tradeetl/internal/storage/sqlq"
)

func (r *Repo) LoadDimensions(ctx context.Context, kind storage.DimensionKind) ([]storage.Dimension, error) {
	out, err := collect(ctx, r.pool, sqlq.SelectDimensions(dialect, kind), func(scan sqlq.ScanFunc) (storage.Dimension, error) {
		return sqlq.ScanDimension(kind, scan)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: load %s: %w", kind.Table(), err)
	}
	return out, nil
}

// InsertDimensions inserts rows with ON CONFLICT DO NOTHING in one transaction.
// The returned count excludes rows skipped as duplicates.
func (r *Repo) InsertDimensions(ctx context.Context, kind storage.DimensionKind, rows []storage.Dimension) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var total int64
	err = storage.Chunk(len(rows), dialect.RowsPerStatement(sqlq.DimensionWidth(kind)), func(start, end int) error {
		q := sqlq.InsertDimensions(dialect, kind, rows[start:end])
		tag, err := tx.Exec(ctx, q.String(), q.Args...)
		if err != nil {
			return err
		}
		total += tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("postgres: insert %s: %w", kind.Table(), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: insert %s commit: %w", kind.Table(), err)
	}
	return total, nil
}

func (r *Repo) DimensionExists(ctx context.Context, kind storage.DimensionKind, dim storage.Dimension) (bool, error) {
	n, err := count(ctx, r.pool, sqlq.DimensionExists(dialect, kind, dim))
	if err != nil {
		return false, fmt.Errorf("postgres: exists %s: %w", kind.Table(), err)
	}
	return n > 0, nil
}

func (r *Repo) CountDimension(ctx context.Context, kind storage.DimensionKind) (int64, error) {
	n, err := count(ctx, r.pool, sqlq.CountTable(dialect, kind.Table()))
	if err != nil {
		return 0, fmt.Errorf("postgres: count %s: %w", kind.Table(), err)
	}
	return n, nil
}
