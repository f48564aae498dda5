package multitable

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"tradeetl/internal/storage"
)

// DimensionCounts holds one number per dimension kind.
type DimensionCounts struct {
	Countries int64 `json:"countries"`
	HS2       int64 `json:"hs2"`
	HS4       int64 `json:"hs4"`
}

func (c *DimensionCounts) add(kind storage.DimensionKind, n int64) {
	switch kind {
	case storage.DimCountry:
		c.Countries += n
	case storage.DimHS2:
		c.HS2 += n
	case storage.DimHS4:
		c.HS4 += n
	}
}

// Get returns the count for kind.
func (c DimensionCounts) Get(kind storage.DimensionKind) int64 {
	switch kind {
	case storage.DimCountry:
		return c.Countries
	case storage.DimHS2:
		return c.HS2
	default:
		return c.HS4
	}
}

// Total sums all kinds.
func (c DimensionCounts) Total() int64 { return c.Countries + c.HS2 + c.HS4 }

// ExtractStats reports one extraction pass.
type ExtractStats struct {
	Scanned   int64
	Skipped   int64           // candidates with an empty name or non-positive code
	Conflicts int64           // same code seen again with another description
	Inserted  DimensionCounts // rows actually written
}

// candidateSet collects new dimension values of one kind in first-seen order.
//
// Candidates are deduplicated by natural key within the pass: the first
// description seen for a code wins and later variants are counted as
// conflicts. The survivors are then diffed against the persisted rows by
// whole value (code and description), so a code already stored under a
// different description still gets a second row.
type candidateSet struct {
	kind     storage.DimensionKind
	existing map[string]struct{}
	byNatKey map[string]string // natural key -> candidate key claimed this pass
	fresh    []storage.Dimension
}

func newCandidateSet(kind storage.DimensionKind, existing []storage.Dimension) *candidateSet {
	s := &candidateSet{
		kind:     kind,
		existing: make(map[string]struct{}, len(existing)),
		byNatKey: make(map[string]string),
	}
	for _, d := range existing {
		d.Kind = kind
		s.existing[d.CandidateKey()] = struct{}{}
	}
	return s
}

// offer returns false when d was dropped as a same-pass conflict.
func (s *candidateSet) offer(d storage.Dimension) bool {
	nk, ck := d.NaturalKey(), d.CandidateKey()
	if claimed, ok := s.byNatKey[nk]; ok {
		return claimed == ck
	}
	s.byNatKey[nk] = ck
	if _, ok := s.existing[ck]; ok {
		return true
	}
	s.fresh = append(s.fresh, d)
	return true
}

// candidates derives the three dimension values of a source row. Values with
// an empty country name or a non-positive code are not candidates.
func candidates(rec storage.SourceRecord) [3]*storage.Dimension {
	var out [3]*storage.Dimension
	if name := storage.NormalizeKey(rec.Country); name != "" {
		out[storage.DimCountry] = &storage.Dimension{Kind: storage.DimCountry, Label: name}
	}
	if rec.HS2Code > 0 {
		out[storage.DimHS2] = &storage.Dimension{Kind: storage.DimHS2, Code: rec.HS2Code, Label: storage.NormalizeKey(rec.HS2Description)}
	}
	if rec.HS4Code > 0 {
		out[storage.DimHS4] = &storage.Dimension{Kind: storage.DimHS4, Code: rec.HS4Code, Label: storage.NormalizeKey(rec.HS4Description)}
	}
	return out
}

// ExtractDimensions makes one streaming pass over the source rows in scope,
// and writes only the dimension values not already persisted. Running it
// twice against unchanged data inserts nothing the second time.
func (e *Engine) ExtractDimensions(ctx context.Context, scope storage.Scope) (ExtractStats, error) {
	logf := e.opts.Logger.Printf
	start := e.opts.Clock.Now()

	existing := make([][]storage.Dimension, len(storage.DimensionKinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range storage.DimensionKinds {
		g.Go(func() error {
			rows, err := e.repo.LoadDimensions(gctx, kind)
			if err != nil {
				return fmt.Errorf("load existing %s: %w", kind, err)
			}
			existing[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ExtractStats{}, fmt.Errorf("engine: extract: %w", err)
	}

	sets := make([]*candidateSet, len(storage.DimensionKinds))
	for i, kind := range storage.DimensionKinds {
		sets[i] = newCandidateSet(kind, existing[i])
	}

	var st ExtractStats
	err := e.repo.StreamSource(ctx, scope, func(rec storage.SourceRecord) error {
		st.Scanned++
		for kind, d := range candidates(rec) {
			if d == nil {
				st.Skipped++
				continue
			}
			if !sets[kind].offer(*d) {
				st.Conflicts++
			}
		}
		return nil
	})
	if err != nil {
		return st, fmt.Errorf("engine: extract: stream source %s: %w", scope, err)
	}
	logf("stage=extract_scan scope=%s scanned=%d new_countries=%d new_hs2=%d new_hs4=%d skipped=%d conflicts=%d duration=%s",
		scope, st.Scanned, len(sets[storage.DimCountry].fresh), len(sets[storage.DimHS2].fresh), len(sets[storage.DimHS4].fresh),
		st.Skipped, st.Conflicts, durMS(e.opts.Clock.Since(start)))

	for _, s := range sets {
		fresh := s.fresh
		err := storage.Chunk(len(fresh), e.opts.DimensionChunkSize, func(lo, hi int) error {
			n, err := e.repo.InsertDimensions(ctx, s.kind, fresh[lo:hi])
			st.Inserted.add(s.kind, n)
			return err
		})
		if err != nil {
			return st, fmt.Errorf("engine: extract: insert %s: %w", s.kind, err)
		}
	}

	logf("stage=extract inserted_countries=%d inserted_hs2=%d inserted_hs4=%d duration=%s",
		st.Inserted.Countries, st.Inserted.HS2, st.Inserted.HS4, durMS(e.opts.Clock.Since(start)))
	return st, nil
}
