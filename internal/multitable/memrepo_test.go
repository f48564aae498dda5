package multitable

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"tradeetl/internal/storage"
)

// memRepo is an in-memory storage.Repository with foreign-key enforcement
// that can be switched off through a Maintenance session, plus failure
// injection hooks.
type memRepo struct {
	mu sync.Mutex

	source []storage.SourceRecord
	dims   [3][]storage.Dimension
	facts  []storage.FactRecord
	nextID int64

	integrity bool

	// Failure hooks. Each receives the 1-based call number.
	insertFactsErr   func(call int, rows []storage.FactRecord) error
	pageErr          func(offset int) error
	setIntegrityErr  func(call int, enabled bool) error
	deleteAllErr     func(table string) error
	insertFactsCalls int
	setIntegrityN    int
	streamCalls      int
}

func newMemRepo(rows ...storage.SourceRecord) *memRepo {
	r := &memRepo{integrity: true}
	for _, rec := range rows {
		r.nextID++
		rec.ID = r.nextID
		r.source = append(r.source, rec)
	}
	return r
}

func (r *memRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memRepo) inScope(rec storage.SourceRecord, scope storage.Scope) bool {
	return scope.All || rec.Year == scope.SourceYear()
}

func (r *memRepo) EnsureTables(context.Context) error { return nil }
func (r *memRepo) Close()                             {}

func (r *memRepo) CountSource(_ context.Context, scope storage.Scope) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, rec := range r.source {
		if r.inScope(rec, scope) {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) StreamSource(ctx context.Context, scope storage.Scope, fn func(storage.SourceRecord) error) error {
	r.mu.Lock()
	r.streamCalls++
	rows := append([]storage.SourceRecord(nil), r.source...)
	r.mu.Unlock()
	for _, rec := range rows {
		if !r.inScope(rec, scope) {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (r *memRepo) PageSource(_ context.Context, scope storage.Scope, offset, limit int) ([]storage.SourceRecord, error) {
	if r.pageErr != nil {
		if err := r.pageErr(offset); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var scoped []storage.SourceRecord
	for _, rec := range r.source {
		if r.inScope(rec, scope) {
			scoped = append(scoped, rec)
		}
	}
	if offset >= len(scoped) {
		return nil, nil
	}
	end := offset + limit
	if end > len(scoped) {
		end = len(scoped)
	}
	return append([]storage.SourceRecord(nil), scoped[offset:end]...), nil
}

func (r *memRepo) SourceYears(context.Context) ([]string, error) { return nil, nil }

func (r *memRepo) InsertSource(_ context.Context, rows []storage.SourceRecord) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range rows {
		rec.ID = r.id()
		r.source = append(r.source, rec)
	}
	return int64(len(rows)), nil
}

func (r *memRepo) LoadDimensions(_ context.Context, kind storage.DimensionKind) ([]storage.Dimension, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]storage.Dimension(nil), r.dims[kind]...), nil
}

func (r *memRepo) InsertDimensions(_ context.Context, kind storage.DimensionKind, rows []storage.Dimension) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, d := range rows {
		d.Kind = kind
		if r.hasCandidate(kind, d) {
			continue
		}
		d.ID = r.id()
		r.dims[kind] = append(r.dims[kind], d)
		n++
	}
	return n, nil
}

func (r *memRepo) hasCandidate(kind storage.DimensionKind, d storage.Dimension) bool {
	d.Kind = kind
	for _, e := range r.dims[kind] {
		e.Kind = kind
		if e.CandidateKey() == d.CandidateKey() {
			return true
		}
	}
	return false
}

func (r *memRepo) DimensionExists(_ context.Context, kind storage.DimensionKind, d storage.Dimension) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasCandidate(kind, d), nil
}

func (r *memRepo) CountDimension(_ context.Context, kind storage.DimensionKind) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.dims[kind])), nil
}

func (r *memRepo) dimExists(kind storage.DimensionKind, id int64) bool {
	for _, d := range r.dims[kind] {
		if d.ID == id {
			return true
		}
	}
	return false
}

var errFK = errors.New("foreign key violation")

func (r *memRepo) InsertFacts(_ context.Context, rows []storage.FactRecord) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertFactsCalls++
	if r.insertFactsErr != nil {
		if err := r.insertFactsErr(r.insertFactsCalls, rows); err != nil {
			return 0, err
		}
	}
	if r.integrity {
		for _, f := range rows {
			for kind, id := range map[storage.DimensionKind]*int64{
				storage.DimCountry: f.CountryID, storage.DimHS2: f.HS2ID, storage.DimHS4: f.HS4ID,
			} {
				if id != nil && !r.dimExists(kind, *id) {
					return 0, fmt.Errorf("%w: %s=%d", errFK, kind.IDColumn(), *id)
				}
			}
		}
	}
	for _, f := range rows {
		f.ID = r.id()
		r.facts = append(r.facts, f)
	}
	return int64(len(rows)), nil
}

func (r *memRepo) CountFacts(_ context.Context, year *int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, f := range r.facts {
		if year == nil || f.Year == *year {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) FactDetails(context.Context, storage.FactQuery) (storage.FactPage, error) {
	return storage.FactPage{}, nil
}

func (r *memRepo) FactTotals(context.Context, int, *int) (storage.FactTotals, error) {
	return storage.FactTotals{}, nil
}

func (r *memRepo) TopCountries(context.Context, int, int) ([]storage.RankedValue, error) {
	return nil, nil
}

func (r *memRepo) TopHS2(context.Context, int, int) ([]storage.RankedValue, error) { return nil, nil }

func (r *memRepo) FactSummary(context.Context, int, *int, int) ([]storage.FactSummary, error) {
	return nil, nil
}

func (r *memRepo) Maintenance(context.Context) (storage.Maintenance, error) {
	return &memSession{r: r}, nil
}

// factsFor returns facts of the given year (test helper).
func (r *memRepo) factsFor(year int) []storage.FactRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []storage.FactRecord
	for _, f := range r.facts {
		if f.Year == year {
			out = append(out, f)
		}
	}
	return out
}

func (r *memRepo) integrityOn() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.integrity
}

type memSession struct {
	r *memRepo
}

func (s *memSession) SetIntegrity(_ context.Context, enabled bool) error {
	r := s.r
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setIntegrityN++
	if r.setIntegrityErr != nil {
		if err := r.setIntegrityErr(r.setIntegrityN, enabled); err != nil {
			return err
		}
	}
	r.integrity = enabled
	return nil
}

// InTx snapshots the repo and restores it if fn fails.
func (s *memSession) InTx(ctx context.Context, fn func(ctx context.Context, w storage.Wiper) error) error {
	r := s.r
	r.mu.Lock()
	facts := append([]storage.FactRecord(nil), r.facts...)
	var dims [3][]storage.Dimension
	for i := range r.dims {
		dims[i] = append([]storage.Dimension(nil), r.dims[i]...)
	}
	r.mu.Unlock()

	if err := fn(ctx, memWiper{r: r}); err != nil {
		r.mu.Lock()
		r.facts, r.dims = facts, dims
		r.mu.Unlock()
		return err
	}
	return nil
}

func (s *memSession) Close() error { return nil }

type memWiper struct {
	r *memRepo
}

func (w memWiper) DeleteAll(_ context.Context, table string) (int64, error) {
	r := w.r
	if r.deleteAllErr != nil {
		if err := r.deleteAllErr(table); err != nil {
			return 0, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if table == storage.TableFact {
		n := int64(len(r.facts))
		r.facts = nil
		return n, nil
	}
	for _, kind := range storage.DimensionKinds {
		if kind.Table() != table {
			continue
		}
		if r.integrity && len(r.facts) > 0 {
			return 0, fmt.Errorf("%w: %s still referenced", errFK, table)
		}
		n := int64(len(r.dims[kind]))
		r.dims[kind] = nil
		return n, nil
	}
	return 0, fmt.Errorf("unknown table %s", table)
}

func (w memWiper) DeleteFactsByYear(_ context.Context, year int) (int64, error) {
	r := w.r
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.facts[:0]
	var n int64
	for _, f := range r.facts {
		if f.Year == year {
			n++
			continue
		}
		kept = append(kept, f)
	}
	r.facts = kept
	return n, nil
}

func (w memWiper) UnreferencedIDs(_ context.Context, kind storage.DimensionKind) ([]int64, error) {
	r := w.r
	r.mu.Lock()
	defer r.mu.Unlock()
	used := map[int64]bool{}
	for _, f := range r.facts {
		var p *int64
		switch kind {
		case storage.DimCountry:
			p = f.CountryID
		case storage.DimHS2:
			p = f.HS2ID
		case storage.DimHS4:
			p = f.HS4ID
		}
		if p != nil {
			used[*p] = true
		}
	}
	var ids []int64
	for _, d := range r.dims[kind] {
		if !used[d.ID] {
			ids = append(ids, d.ID)
		}
	}
	return ids, nil
}

func (w memWiper) DeleteDimensions(_ context.Context, kind storage.DimensionKind, ids []int64) (int64, error) {
	r := w.r
	r.mu.Lock()
	defer r.mu.Unlock()
	drop := map[int64]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	kept := r.dims[kind][:0]
	var n int64
	for _, d := range r.dims[kind] {
		if drop[d.ID] {
			n++
			continue
		}
		kept = append(kept, d)
	}
	r.dims[kind] = kept
	return n, nil
}

var _ storage.Repository = (*memRepo)(nil)

// row builds a source record.
func row(country string, hs2 int, hs2Desc string, hs4 int, hs4Desc, thaip, dollar, month, year string) storage.SourceRecord {
	return storage.SourceRecord{
		Country: country, HS2Code: hs2, HS2Description: hs2Desc, HS4Code: hs4, HS4Description: hs4Desc,
		ThaipValue: thaip, DollarValue: dollar, Size: "KG", Month: month, Year: year,
	}
}

// sampleRows spans two years with repeated dimensions.
func sampleRows() []storage.SourceRecord {
	var rows []storage.SourceRecord
	countries := []string{"Japan", "China", "Laos", "Vietnam"}
	for i := 0; i < 23; i++ {
		c := countries[i%len(countries)]
		hs2 := 1 + i%3
		hs4 := hs2*100 + i%2
		year := "2023"
		if i%5 == 0 {
			year = "2022"
		}
		rows = append(rows, row(c, hs2, "chapter "+strconv.Itoa(hs2), hs4, "heading "+strconv.Itoa(hs4),
			"1,000.50", "30.25", strconv.Itoa(1+i%12), year))
	}
	return rows
}
