package probe

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"tradeetl/internal/importer"
)

const exportCSV = "\uFEFFCountry;HS2DG;Description HS2DG;HS4DG;Description HS4DG;Thaip Value;Dollar Value;Size;Month;Year;Source\n" +
	"Japan;1;Live animals;101;Horses;\"1,000.50\";30.25;KG;1;2023;customs\n" +
	" Japan ;1;Live animals;102;Asses;200;6;KG;2;2023;customs\n" +
	"Laos;3;Fish;301;Fish fresh;300;9;T;3;2022;\n" +
	"broken;row\n"

func TestProbe_CSV(t *testing.T) {
	t.Parallel()

	rep, err := Probe(strings.NewReader(exportCSV), Options{})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if rep.Format != importer.FormatCSV || rep.Delimiter != ";" {
		t.Fatalf("format=%q delimiter=%q", rep.Format, rep.Delimiter)
	}
	if rep.SampledRows != 3 || rep.SkippedRows != 1 || rep.Truncated {
		t.Fatalf("sampled=%d skipped=%d truncated=%v", rep.SampledRows, rep.SkippedRows, rep.Truncated)
	}
	if len(rep.Missing) != 0 {
		t.Fatalf("missing=%v, want none", rep.Missing)
	}

	byHeader := make(map[string]Column)
	for _, c := range rep.Columns {
		byHeader[c.Header] = c
	}
	checks := []struct {
		header, column, typ string
		empty, distinct     int
	}{
		{"Country", "country", TypeText, 0, 2},
		{"HS4DG", "hs4dg", TypeInteger, 0, 3},
		{"Thaip Value", "thaip_value", TypeDecimal, 0, 3},
		{"Dollar Value", "dollar_value", TypeDecimal, 0, 3},
		{"Source", "", TypeText, 1, 1},
	}
	for _, want := range checks {
		got := byHeader[want.header]
		if got.Column != want.column || got.Type != want.typ || got.Empty != want.empty || got.Distinct != want.distinct {
			t.Errorf("%s: got %+v, want column=%q type=%q empty=%d distinct=%d",
				want.header, got, want.column, want.typ, want.empty, want.distinct)
		}
	}

	if !reflect.DeepEqual(rep.Years, []string{"2022", "2023"}) {
		t.Fatalf("years=%v", rep.Years)
	}
	// " Japan " and "Japan" share one country key.
	if rep.Dimensions != (Cardinality{Countries: 2, HS2: 2, HS4: 3}) {
		t.Fatalf("dimensions=%+v", rep.Dimensions)
	}
}

func TestProbe_HeaderMapAndMissing(t *testing.T) {
	t.Parallel()

	in := "nation,year,value\nJapan,2023,10\n"
	rep, err := Probe(strings.NewReader(in), Options{HeaderMap: map[string]string{"nation": "country"}})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if rep.Columns[0].Column != "country" || rep.Columns[2].Column != "" {
		t.Fatalf("columns=%+v", rep.Columns)
	}
	want := []string{"hs2dg", "description_hs2dg", "hs4dg", "description_hs4dg", "thaip_value", "dollar_value", "size", "month"}
	if !reflect.DeepEqual(rep.Missing, want) {
		t.Fatalf("missing=%v, want %v", rep.Missing, want)
	}
	if rep.Dimensions.Countries != 1 || rep.Dimensions.HS2 != 0 {
		t.Fatalf("dimensions=%+v", rep.Dimensions)
	}
}

func TestProbe_TruncatedSampleDropsPartialLine(t *testing.T) {
	t.Parallel()

	in := "country,year\nJapan,2023\nChina,2023\nLaos,2022\n"
	// Cut inside "China,2023".
	rep, err := Probe(strings.NewReader(in), Options{SampleBytes: len("country,year\nJapan,2023\nChi")})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !rep.Truncated || rep.SampledRows != 1 || rep.SkippedRows != 0 {
		t.Fatalf("truncated=%v sampled=%d skipped=%d", rep.Truncated, rep.SampledRows, rep.SkippedRows)
	}
}

func TestProbe_MaxRecords(t *testing.T) {
	t.Parallel()

	in := "country,year\nA,2020\nB,2021\nC,2022\n"
	rep, err := Probe(strings.NewReader(in), Options{MaxRecords: 2})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if rep.SampledRows != 2 || !reflect.DeepEqual(rep.Years, []string{"2020", "2021"}) {
		t.Fatalf("sampled=%d years=%v", rep.SampledRows, rep.Years)
	}
}

func TestProbe_JSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		rows int
	}{
		{"array", `[{"Country":"Japan","HS2DG":1,"Year":"2023"},{"Country":"China","HS2DG":2,"Year":"2023"}]`, 2},
		{"envelope", `{"meta":{"n":2},"b_rows":[1,2],"a_rows":[{"Country":"Japan","HS2DG":1,"Year":"2023"},{"Country":"China","HS2DG":2,"Year":"2023"}]}`, 2},
		{"single", `{"Country":"Japan","HS2DG":1,"Year":"2023","extra":{"x":1}}`, 1},
		{"lines", "{\"Country\":\"Japan\",\"HS2DG\":1,\"Year\":\"2023\"}\n{\"Country\":\"China\",\"HS2DG\":2,\"Year\":\"2023\"}\n", 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rep, err := Probe(strings.NewReader(tc.in), Options{})
			if err != nil {
				t.Fatalf("Probe: %v", err)
			}
			if rep.Format != importer.FormatJSON || rep.Delimiter != "" {
				t.Fatalf("format=%q delimiter=%q", rep.Format, rep.Delimiter)
			}
			if rep.SampledRows != tc.rows {
				t.Fatalf("sampled=%d, want %d", rep.SampledRows, tc.rows)
			}
			headers := make([]string, 0, len(rep.Columns))
			for _, c := range rep.Columns {
				headers = append(headers, c.Header)
			}
			if !reflect.DeepEqual(headers, []string{"Country", "HS2DG", "Year"}) {
				t.Fatalf("headers=%v", headers)
			}
			if rep.Columns[1].Type != TypeInteger || rep.Dimensions.HS2 != tc.rows {
				t.Fatalf("hs2 column=%+v dimensions=%+v", rep.Columns[1], rep.Dimensions)
			}
		})
	}
}

func TestProbe_Errors(t *testing.T) {
	t.Parallel()

	if _, err := Probe(strings.NewReader("  \n"), Options{}); !errors.Is(err, ErrEmpty) {
		t.Fatalf("blank input err=%v, want ErrEmpty", err)
	}
	if _, err := Probe(strings.NewReader(`[{"a":`), Options{}); err == nil {
		t.Fatal("broken json: want error")
	}
}

func TestSniffDelimiter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want rune
	}{
		{"a,b,c\n1;2", ','},
		{"a;b;c\n", ';'},
		{"a\tb\tc", '\t'},
		{"a|b,c|d", '|'},
		{"single", ','},
	}
	for _, tc := range tests {
		if got := sniffDelimiter([]byte(tc.in)); got != tc.want {
			t.Errorf("sniffDelimiter(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestInferTypes(t *testing.T) {
	t.Parallel()

	rows := [][]string{
		{"1", "1.5", "abc", "", "$12.50"},
		{"2", "2", "3", "", "1,000"},
	}
	got := inferTypes(5, rows)
	want := []string{TypeInteger, TypeDecimal, TypeText, TypeEmpty, TypeDecimal}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("inferTypes = %v, want %v", got, want)
	}
}
