package storage

import (
	"context"
	"strings"
	"testing"
)

func TestNormalizeKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{" Germany ", "Germany"},
		{"Cura\u00e7ao", "Cura\u00e7ao"},
		{"Curac\u0327ao", "Cura\u00e7ao"},
	}
	for _, tc := range cases {
		if got := NormalizeKey(tc.in); got != tc.want {
			t.Fatalf("NormalizeKey(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestDimensionKeys(t *testing.T) {
	t.Parallel()

	a := Dimension{Kind: DimHS2, Code: 1, Label: "Live animals"}
	b := Dimension{Kind: DimHS2, Code: 1, Label: "Live Animals"}
	if a.NaturalKey() != b.NaturalKey() {
		t.Fatalf("natural keys differ: %q vs %q", a.NaturalKey(), b.NaturalKey())
	}
	if a.CandidateKey() == b.CandidateKey() {
		t.Fatalf("candidate keys should differ when descriptions differ")
	}

	c := Dimension{Kind: DimCountry, Label: " Japan"}
	if c.NaturalKey() != "Japan" || c.CandidateKey() != "Japan" {
		t.Fatalf("country keys: natural=%q candidate=%q", c.NaturalKey(), c.CandidateKey())
	}
}

func TestChunk_CoversEveryIndexOnce(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct{ n, size int }{{0, 3}, {1, 3}, {3, 3}, {10, 3}, {10, 0}} {
		seen := make([]int, tc.n)
		err := Chunk(tc.n, tc.size, func(start, end int) error {
			for i := start; i < end; i++ {
				seen[i]++
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Chunk: %v", err)
		}
		for i, c := range seen {
			if c != 1 {
				t.Fatalf("n=%d size=%d: index %d seen %d times", tc.n, tc.size, i, c)
			}
		}
	}
}

func TestFactRecordValues_NullsAndScale(t *testing.T) {
	t.Parallel()

	id := int64(7)
	f := FactRecord{CountryID: &id, Month: 3, Year: 2023}
	v := f.Values()
	if len(v) != len(FactColumns) {
		t.Fatalf("values=%d columns=%d", len(v), len(FactColumns))
	}
	if v[0] != int64(7) || v[1] != nil || v[2] != nil {
		t.Fatalf("unexpected fk values: %#v", v[:3])
	}
	if v[3] != "0.00" || v[4] != "0.00" {
		t.Fatalf("money should render with 2 decimals: %#v", v[3:5])
	}
}

func TestFactQuery_NormalizePage(t *testing.T) {
	t.Parallel()

	q := FactQuery{Page: -1}.NormalizePage()
	if q.Page != 0 || q.Size != 10 {
		t.Fatalf("defaults: %+v", q)
	}
	q = FactQuery{Page: 2, Size: 25}.NormalizePage()
	if q.Offset() != 50 {
		t.Fatalf("offset=%d", q.Offset())
	}
	p := NewFactPage(nil, q, 51)
	if p.TotalPages != 3 || p.Content == nil {
		t.Fatalf("page: %+v", p)
	}
}

func TestRegisterAndOpen(t *testing.T) {
	t.Parallel()

	kind := "fake-" + strings.ReplaceAll(t.Name(), "/", "_")
	Register(kind, func(ctx context.Context, cfg Config) (Repository, error) {
		return nil, nil
	})

	if _, err := Open(context.Background(), Config{Kind: kind}); err != nil {
		t.Fatalf("Open registered: %v", err)
	}
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	if _, err := Open(context.Background(), Config{Kind: "nope"}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate Register")
		}
	}()
	Register(kind, func(ctx context.Context, cfg Config) (Repository, error) { return nil, nil })
}
