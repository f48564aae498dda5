package postgres

import (
	"context"
	"fmt"

	"tradeetl/internal/storage"
	"tradeetl/internal/storage/sqlq"
)

func (r *Repo) FactDetails(ctx context.Context, fq storage.FactQuery) (storage.FactPage, error) {
	fq = fq.NormalizePage()
	total, err := count(ctx, r.pool, sqlq.CountFactDetails(dialect, fq))
	if err != nil {
		return storage.FactPage{}, fmt.Errorf("postgres: count fact details: %w", err)
	}
	rows, err := collect(ctx, r.pool, sqlq.FactDetails(dialect, fq), sqlq.ScanFactDetail)
	if err != nil {
		return storage.FactPage{}, fmt.Errorf("postgres: fact details: %w", err)
	}
	return storage.NewFactPage(rows, fq, total), nil
}

func (r *Repo) FactTotals(ctx context.Context, year int, month *int) (storage.FactTotals, error) {
	q := sqlq.FactTotals(dialect, year, month)
	t, err := sqlq.ScanTotals(r.pool.QueryRow(ctx, q.String(), q.Args...).Scan)
	if err != nil {
		return t, fmt.Errorf("postgres: fact totals year=%d: %w", year, err)
	}
	return t, nil
}

func (r *Repo) TopCountries(ctx context.Context, year, limit int) ([]storage.RankedValue, error) {
	out, err := collect(ctx, r.pool, sqlq.TopCountries(dialect, year, limit), sqlq.ScanRanked)
	if err != nil {
		return nil, fmt.Errorf("postgres: top countries year=%d: %w", year, err)
	}
	return out, nil
}

func (r *Repo) TopHS2(ctx context.Context, year, limit int) ([]storage.RankedValue, error) {
	out, err := collect(ctx, r.pool, sqlq.TopHS2(dialect, year, limit), sqlq.ScanRanked)
	if err != nil {
		return nil, fmt.Errorf("postgres: top hs2 year=%d: %w", year, err)
	}
	return out, nil
}

func (r *Repo) FactSummary(ctx context.Context, year int, month *int, limit int) ([]storage.FactSummary, error) {
	out, err := collect(ctx, r.pool, sqlq.FactSummary(dialect, year, month, limit), sqlq.ScanSummary)
	if err != nil {
		return nil, fmt.Errorf("postgres: fact summary year=%d: %w", year, err)
	}
	return out, nil
}
