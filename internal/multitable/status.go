package multitable

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"tradeetl/internal/storage"
)

// Status is the per-year load status.
type Status struct {
	Year        int             `json:"year"`
	FactRecords int64           `json:"factRecords"`
	Dimensions  DimensionCounts `json:"dimensions"`
}

// Status counts the facts loaded for year and the rows of each dimension
// table.
func (e *Engine) Status(ctx context.Context, year int) (Status, error) {
	if err := checkYear(year); err != nil {
		return Status{}, err
	}
	st := Status{Year: year}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := e.repo.CountFacts(gctx, &year)
		st.FactRecords = n
		return err
	})
	dims := make([]int64, len(storage.DimensionKinds))
	for i, kind := range storage.DimensionKinds {
		g.Go(func() error {
			n, err := e.repo.CountDimension(gctx, kind)
			dims[i] = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Status{}, fmt.Errorf("engine: status %d: %w", year, err)
	}
	for i, kind := range storage.DimensionKinds {
		st.Dimensions.add(kind, dims[i])
	}
	return st, nil
}

// TableCounts reports the row count of every star-schema table.
func (e *Engine) TableCounts(ctx context.Context) (storage.TableCounts, error) {
	var tc storage.TableCounts

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := e.repo.CountFacts(gctx, nil)
		tc.Facts = n
		return err
	})
	g.Go(func() error {
		n, err := e.repo.CountDimension(gctx, storage.DimCountry)
		tc.Countries = n
		return err
	})
	g.Go(func() error {
		n, err := e.repo.CountDimension(gctx, storage.DimHS2)
		tc.HS2 = n
		return err
	})
	g.Go(func() error {
		n, err := e.repo.CountDimension(gctx, storage.DimHS4)
		tc.HS4 = n
		return err
	})
	if err := g.Wait(); err != nil {
		return storage.TableCounts{}, fmt.Errorf("engine: table counts: %w", err)
	}
	return tc, nil
}
