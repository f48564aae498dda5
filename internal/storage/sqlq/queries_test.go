package sqlq

import (
	"errors"
	"strings"
	"testing"

	"tradeetl/internal/storage"
)

func TestInsertRows_PlaceholdersPerDialect(t *testing.T) {
	t.Parallel()

	rows := [][]any{{1, "a"}, {2, "b"}}
	cases := []struct {
		d    Dialect
		want string
	}{
		{Postgres, `INSERT INTO dim_hs2 ("hs2dg", "description") VALUES ($1, $2), ($3, $4) ON CONFLICT DO NOTHING`},
		{SQLite, `INSERT OR IGNORE INTO dim_hs2 ("hs2dg", "description") VALUES (?, ?), (?, ?)`},
		{MSSQL, `INSERT INTO dim_hs2 ([hs2dg], [description]) VALUES (@p1, @p2), (@p3, @p4)`},
	}
	for _, tc := range cases {
		q := InsertRows(tc.d, "dim_hs2", []string{"hs2dg", "description"}, rows, true)
		if q.String() != tc.want {
			t.Fatalf("%s:\n got %s\nwant %s", tc.d.Name, q.String(), tc.want)
		}
		if len(q.Args) != 4 || q.Args[0] != 1 || q.Args[3] != "b" {
			t.Fatalf("%s: args=%#v", tc.d.Name, q.Args)
		}
	}
}

func TestInsertRows_PlainInsertHasNoConflictClause(t *testing.T) {
	t.Parallel()

	q := InsertRows(Postgres, storage.TableFact, []string{"month"}, [][]any{{1}}, false)
	if strings.Contains(q.String(), "ON CONFLICT") {
		t.Fatalf("unexpected conflict clause: %s", q.String())
	}
}

func TestPageSource_ScopeAndWindow(t *testing.T) {
	t.Parallel()

	q := PageSource(Postgres, storage.ForYear(2023), 100, 50)
	want := "SELECT " + sourceColumns + " FROM export_th WHERE year = $1 ORDER BY id LIMIT $2 OFFSET $3"
	if q.String() != want {
		t.Fatalf("got  %s\nwant %s", q.String(), want)
	}
	if q.Args[0] != "2023" || q.Args[1] != 50 || q.Args[2] != 100 {
		t.Fatalf("args=%#v", q.Args)
	}

	q = PageSource(MSSQL, storage.AllYears(), 0, 10)
	if !strings.HasSuffix(q.String(), "ORDER BY id OFFSET @p2 ROWS FETCH NEXT @p1 ROWS ONLY") {
		t.Fatalf("mssql page: %s", q.String())
	}
	if q.Args[0] != 10 || q.Args[1] != 0 {
		t.Fatalf("mssql args=%#v", q.Args)
	}
}

func TestCountSource_AllHasNoFilter(t *testing.T) {
	t.Parallel()

	q := CountSource(SQLite, storage.AllYears())
	if q.String() != "SELECT COUNT(*) FROM export_th" || len(q.Args) != 0 {
		t.Fatalf("got %s %#v", q.String(), q.Args)
	}
}

func TestUnreferencedIDs(t *testing.T) {
	t.Parallel()

	q := UnreferencedIDs(Postgres, storage.DimHS4)
	want := "SELECT d.hs4_id FROM dim_hs4 d WHERE NOT EXISTS (SELECT 1 FROM fact_export_th f WHERE f.hs4_id = d.hs4_id) ORDER BY d.hs4_id"
	if q.String() != want {
		t.Fatalf("got  %s\nwant %s", q.String(), want)
	}
}

func TestDeleteDimensionsByID(t *testing.T) {
	t.Parallel()

	q := DeleteDimensionsByID(MSSQL, storage.DimCountry, []int64{3, 9})
	if q.String() != "DELETE FROM dim_country WHERE country_id IN (@p1, @p2)" {
		t.Fatalf("got %s", q.String())
	}
}

func TestDimensionExists_KeysOnWholeValue(t *testing.T) {
	t.Parallel()

	q := DimensionExists(Postgres, storage.DimHS2, storage.Dimension{Code: 1, Label: "Live animals"})
	if q.String() != "SELECT COUNT(*) FROM dim_hs2 WHERE hs2dg = $1 AND description = $2" {
		t.Fatalf("got %s", q.String())
	}
}

func TestFactQueries_Filters(t *testing.T) {
	t.Parallel()

	y, m := 2023, 4
	q := FactDetails(Postgres, storage.FactQuery{Year: &y, Month: &m, Page: 2, Size: 10})
	s := q.String()
	if !strings.Contains(s, "WHERE f.year = $1 AND f.month = $2 ORDER BY f.id LIMIT $3 OFFSET $4") {
		t.Fatalf("details: %s", s)
	}
	if q.Args[3] != 20 {
		t.Fatalf("offset arg=%v", q.Args[3])
	}
	if strings.Count(s, "LEFT JOIN") != 3 {
		t.Fatalf("expected three left joins: %s", s)
	}

	q = FactDetails(SQLite, storage.FactQuery{Size: 5})
	if strings.Contains(q.String(), "WHERE") {
		t.Fatalf("unfiltered details should have no WHERE: %s", q.String())
	}

	q = FactTotals(Postgres, 2023, nil)
	if !strings.HasSuffix(q.String(), "FROM fact_export_th WHERE year = $1") {
		t.Fatalf("totals: %s", q.String())
	}
}

func TestTopQueries_LimitDefaults(t *testing.T) {
	t.Parallel()

	q := TopCountries(Postgres, 2023, 0)
	if !strings.HasSuffix(q.String(), "GROUP BY c.country ORDER BY total_value DESC LIMIT $2") {
		t.Fatalf("top countries: %s", q.String())
	}
	if q.Args[1] != 10 {
		t.Fatalf("default limit=%v", q.Args[1])
	}

	q = TopHS2(MSSQL, 2023, 5)
	if !strings.HasSuffix(q.String(), "OFFSET 0 ROWS FETCH NEXT @p2 ROWS ONLY") {
		t.Fatalf("top hs2 mssql: %s", q.String())
	}

	q = FactSummary(SQLite, 2023, nil, 5000)
	if q.Args[len(q.Args)-1] != 1000 {
		t.Fatalf("limit should be capped: %v", q.Args)
	}
}

func TestDDL_ReferencesAndUniqueKeys(t *testing.T) {
	t.Parallel()

	for _, d := range []Dialect{Postgres, SQLite, MSSQL} {
		all := strings.Join(DDL(d), ";\n")
		for _, want := range []string{
			"REFERENCES dim_country (country_id)",
			"REFERENCES dim_hs2 (hs2_id)",
			"REFERENCES dim_hs4 (hs4_id)",
			"ux_dim_country_country",
			"ON dim_hs2 (hs2dg, description)",
		} {
			if !strings.Contains(all, want) {
				t.Fatalf("%s DDL missing %q", d.Name, want)
			}
		}
	}
	if !strings.Contains(strings.Join(DDL(MSSQL), "\n"), "IGNORE_DUP_KEY = ON") {
		t.Fatalf("mssql unique indexes must ignore duplicates")
	}
}

func TestRowsPerStatement(t *testing.T) {
	t.Parallel()

	if n := MSSQL.RowsPerStatement(len(storage.FactColumns)); n != 250 {
		t.Fatalf("mssql rows=%d", n)
	}
	if n := Postgres.RowsPerStatement(0); n != 1 {
		t.Fatalf("zero width rows=%d", n)
	}
}

func TestScanHelpers(t *testing.T) {
	t.Parallel()

	r, err := ScanSource(func(dest ...any) error {
		*dest[0].(*int64) = 5
		return nil
	})
	if err != nil || r.ID != 5 || r.Country != "" || r.HS2Code != 0 {
		t.Fatalf("null source columns should scan to zero values: %+v %v", r, err)
	}

	boom := errors.New("boom")
	if _, err := ScanDimension(storage.DimHS2, func(dest ...any) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("scan error not propagated: %v", err)
	}
}
