package multitable

import (
	"errors"
	"testing"
	"time"

	"tradeetl/internal/storage"
)

func testCache() *DimensionCache {
	return NewDimensionCache(map[storage.DimensionKind][]storage.Dimension{
		storage.DimCountry: {{ID: 1, Label: "Japan"}, {ID: 2, Label: "Cura\u00e7ao"}},
		storage.DimHS2:     {{ID: 10, Code: 1, Label: "Animals"}},
		storage.DimHS4: {
			{ID: 21, Code: 101, Label: "Horses, asses"},
			{ID: 20, Code: 101, Label: "Horses"},
		},
	})
}

func TestDimensionCache(t *testing.T) {
	t.Parallel()

	c := testCache()
	tests := []struct {
		name   string
		lookup func() (int64, bool)
		want   int64
		ok     bool
	}{
		{"country trimmed", func() (int64, bool) { return c.Country("  Japan ") }, 1, true},
		{"country decomposed", func() (int64, bool) { return c.Country("Cura\u0063\u0327ao") }, 2, true},
		{"country empty", func() (int64, bool) { return c.Country("") }, 0, false},
		{"country unknown", func() (int64, bool) { return c.Country("Peru") }, 0, false},
		{"hs2", func() (int64, bool) { return c.HS2(1) }, 10, true},
		{"hs4 lowest id wins", func() (int64, bool) { return c.HS4(101) }, 20, true},
		{"hs4 zero", func() (int64, bool) { return c.HS4(0) }, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := tt.lookup()
			if ok != tt.ok || got != tt.want {
				t.Fatalf("got (%d,%v) want (%d,%v)", got, ok, tt.want, tt.ok)
			}
		})
	}
	if c.Len(storage.DimHS4) != 1 {
		t.Fatalf("hs4 len=%d want 1", c.Len(storage.DimHS4))
	}
}

func TestMapper_Lenient(t *testing.T) {
	t.Parallel()

	m := NewMapper(testCache(), Lenient)
	f, err := m.Map(row("Japan", 1, "Animals", 0, "", "-1,234.567", "", "x", " 2023 "))
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if f.CountryID == nil || *f.CountryID != 1 || f.HS2ID == nil || *f.HS2ID != 10 {
		t.Fatalf("fks=%v/%v", f.CountryID, f.HS2ID)
	}
	if f.HS4ID != nil {
		t.Fatalf("hs4=%d want nil", *f.HS4ID)
	}
	if f.Month != 0 || f.Year != 2023 {
		t.Fatalf("month=%d year=%d", f.Month, f.Year)
	}
	if f.ThaipValue.StringFixed(2) != "1234.57" || !f.DollarValue.IsZero() {
		t.Fatalf("money=%s/%s", f.ThaipValue, f.DollarValue)
	}
	if f.Size != "KG" {
		t.Fatalf("size=%q", f.Size)
	}
}

func TestMapper_Strict(t *testing.T) {
	t.Parallel()

	m := NewMapper(testCache(), Strict)

	tests := []struct {
		name string
		rec  storage.SourceRecord
		want []error
	}{
		{
			name: "valid",
			rec:  row("Japan", 1, "Animals", 101, "Horses", "1", "2", "12", "2023"),
		},
		{
			name: "unknown country and month out of range",
			rec:  row("Atlantis", 1, "Animals", 101, "Horses", "1", "2", "13", "2023"),
			want: []error{ErrUnknownDimension, ErrMonthOutOfRange},
		},
		{
			name: "non integer month and old year",
			rec:  row("Japan", 1, "Animals", 101, "Horses", "1", "2", "May", "1850"),
			want: []error{ErrNotInteger, ErrYearOutOfRange},
		},
		{
			name: "missing hs4",
			rec:  row("Japan", 1, "Animals", 0, "", "1", "2", "1", "2023"),
			want: []error{ErrUnknownDimension},
		},
		{
			name: "month zero",
			rec:  row("Japan", 1, "Animals", 101, "Horses", "1", "2", "0", "2023"),
			want: []error{ErrMonthOutOfRange},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, err := m.Map(tt.rec)
			if len(tt.want) == 0 {
				if err != nil {
					t.Fatalf("Map: %v", err)
				}
				if f.Month != 12 || f.Year != 2023 || f.HS4ID == nil || *f.HS4ID != 20 {
					t.Fatalf("fact=%+v", f)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err=%v want *ValidationError", err)
			}
			if len(ve.Violations) != len(tt.want) {
				t.Fatalf("violations=%v want %d", ve.Violations, len(tt.want))
			}
			for _, w := range tt.want {
				if !errors.Is(err, w) {
					t.Errorf("err=%v does not match %v", err, w)
				}
			}
		})
	}
}

func TestWindows(t *testing.T) {
	t.Parallel()

	tests := []struct {
		total int64
		size  int
		want  int
	}{
		{0, 10, 0},
		{-1, 10, 0},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{23, 4, 6},
		{100000, 50000, 2},
	}
	for _, tt := range tests {
		ws := Windows(tt.total, tt.size)
		if len(ws) != tt.want {
			t.Fatalf("Windows(%d,%d) len=%d want %d", tt.total, tt.size, len(ws), tt.want)
		}
		next := 0
		for i, w := range ws {
			if w.Index != i || w.Offset != next || w.Limit <= 0 || w.Limit > tt.size {
				t.Fatalf("Windows(%d,%d)[%d]=%+v", tt.total, tt.size, i, w)
			}
			next = w.End()
		}
		if tt.total > 0 && int64(next) != tt.total {
			t.Fatalf("Windows(%d,%d) covers %d", tt.total, tt.size, next)
		}
	}
}

func TestParseModeScopeYear(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Mode{"": Lenient, "LENIENT": Lenient, " strict ": Strict} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q)=%v,%v", in, got, err)
		}
	}
	if _, err := ParseMode("loose"); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("ParseMode(loose) err=%v", err)
	}

	var m Mode
	if err := m.UnmarshalText([]byte("strict")); err != nil || m != Strict {
		t.Fatalf("UnmarshalText: %v %v", m, err)
	}
	if b, _ := Strict.MarshalText(); string(b) != "strict" {
		t.Fatalf("MarshalText=%s", b)
	}

	s, err := ParseScope("All")
	if err != nil || !s.All {
		t.Fatalf("ParseScope(All)=%+v,%v", s, err)
	}
	s, err = ParseScope("2023")
	if err != nil || s.All || s.Year != 2023 {
		t.Fatalf("ParseScope(2023)=%+v,%v", s, err)
	}
	for _, bad := range []string{"", "23", "1899", "10000", "twenty"} {
		if _, err := ParseScope(bad); !errors.Is(err, ErrInvalidYear) {
			t.Fatalf("ParseScope(%q) err=%v", bad, err)
		}
	}
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()

	if err := (Options{}).Validate(); err != nil {
		t.Fatalf("zero options: %v", err)
	}
	if err := (Options{ChunkSize: 10, BatchSize: 20}).Validate(); err != nil {
		t.Fatalf("batch above chunk size: %v", err)
	}
	if err := (Options{MaxAttempts: -1}).Validate(); err == nil {
		t.Fatal("expected error")
	}
	o := Options{BackoffBase: time.Minute}.withDefaults()
	if o.BackoffMax != o.BackoffBase {
		t.Fatalf("backoff max=%s base=%s", o.BackoffMax, o.BackoffBase)
	}
}
