package multitable

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"tradeetl/internal/storage"
)

// DimensionCache maps natural keys (normalized country name, decimal hs code)
// to dimension ids. It is built once per run after extraction and never
// mutated afterwards, so chunk workers share it without locking.
type DimensionCache struct {
	ids [3]map[string]int64
}

// NewDimensionCache indexes already-loaded rows. When one natural key maps to
// several rows (same hs code, different descriptions) the lowest id wins, so
// lookups are stable across runs.
func NewDimensionCache(rows map[storage.DimensionKind][]storage.Dimension) *DimensionCache {
	c := &DimensionCache{}
	for _, kind := range storage.DimensionKinds {
		m := make(map[string]int64, len(rows[kind]))
		for _, d := range rows[kind] {
			d.Kind = kind
			nk := d.NaturalKey()
			if nk == "" {
				continue
			}
			if id, ok := m[nk]; !ok || d.ID < id {
				m[nk] = d.ID
			}
		}
		c.ids[kind] = m
	}
	return c
}

// LoadDimensionCache reads the three dimension tables concurrently.
func LoadDimensionCache(ctx context.Context, repo storage.DimensionStore) (*DimensionCache, error) {
	loaded := make([][]storage.Dimension, len(storage.DimensionKinds))

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range storage.DimensionKinds {
		g.Go(func() error {
			rows, err := repo.LoadDimensions(gctx, kind)
			if err != nil {
				return fmt.Errorf("load %s dimensions: %w", kind, err)
			}
			loaded[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byKind := make(map[storage.DimensionKind][]storage.Dimension, len(loaded))
	for i, kind := range storage.DimensionKinds {
		byKind[kind] = loaded[i]
	}
	return NewDimensionCache(byKind), nil
}

// Lookup returns the id for a natural key, or false when the key is absent.
func (c *DimensionCache) Lookup(kind storage.DimensionKind, key string) (int64, bool) {
	id, ok := c.ids[kind][key]
	return id, ok
}

// Country resolves a raw country name.
func (c *DimensionCache) Country(name string) (int64, bool) {
	return c.Lookup(storage.DimCountry, storage.Dimension{Kind: storage.DimCountry, Label: name}.NaturalKey())
}

// HS2 resolves a two-digit code.
func (c *DimensionCache) HS2(code int) (int64, bool) {
	return c.Lookup(storage.DimHS2, storage.Dimension{Kind: storage.DimHS2, Code: code}.NaturalKey())
}

// HS4 resolves a four-digit code.
func (c *DimensionCache) HS4(code int) (int64, bool) {
	return c.Lookup(storage.DimHS4, storage.Dimension{Kind: storage.DimHS4, Code: code}.NaturalKey())
}

// Len reports the number of distinct natural keys cached for kind.
func (c *DimensionCache) Len(kind storage.DimensionKind) int { return len(c.ids[kind]) }
