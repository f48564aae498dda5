package parser

import "testing"

func TestCanonicalHeader(t *testing.T) {
	t.Parallel()

	hm := map[string]string{"THAIP VALUE": "thaip_value"}
	cases := map[string]string{
		"\uFEFFCountry":       "country",
		" Description HS2DG ": "description_hs2dg",
		"THAIP VALUE":         "thaip_value",
	}
	for in, want := range cases {
		if got := CanonicalHeader(in, hm); got != want {
			t.Fatalf("CanonicalHeader(%q)=%q want %q", in, got, want)
		}
	}
}

func TestColumnIndex_MissingColumnsAreNegative(t *testing.T) {
	t.Parallel()

	idx := ColumnIndex([]string{"year", "country"}, nil)
	if idx[0] != 1 || idx[9] != 0 || idx[1] != -1 {
		t.Fatalf("unexpected index: %v", idx)
	}
}

func TestFromValues(t *testing.T) {
	t.Parallel()

	r := FromValues([]string{"Japan", "01", "Live animals", "x", "Horses", "1,000", "30", "KG", "1"})
	if r.Country != "Japan" || r.HS2Code != 1 || r.HS4Code != 0 || r.Month != "1" || r.Year != "" {
		t.Fatalf("unexpected record: %+v", r)
	}
}
