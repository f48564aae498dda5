package importer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"tradeetl/internal/parser"
	"tradeetl/internal/storage"
)

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]storage.SourceRecord
	failAt  int
}

func (f *fakeWriter) InsertSource(_ context.Context, rows []storage.SourceRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAt > 0 && len(f.batches)+1 == f.failAt {
		return 0, errors.New("insert failed")
	}
	cp := append([]storage.SourceRecord(nil), rows...)
	f.batches = append(f.batches, cp)
	return int64(len(rows)), nil
}

const sampleCSV = "country,hs2dg,description_hs2dg,hs4dg,description_hs4dg,thaip_value,dollar_value,size,month,year\n" +
	"Japan,1,Live animals,101,Horses,100,3,KG,1,2023\n" +
	"China,2,Meat,201,Beef,200,6,KG,2,2023\n" +
	"Laos,3,Fish,301,Fish fresh,300,9,T,3,2022\n"

func TestFormatFromPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{path: "exports/2023.csv", want: FormatCSV},
		{path: "EXPORT.CSV", want: FormatCSV},
		{path: "rows.json", want: FormatJSON},
		{path: "rows.ndjson", want: FormatJSON},
		{path: "rows.xlsx", wantErr: true},
		{path: "noext", wantErr: true},
	}
	for _, tt := range tests {
		got, err := FormatFromPath(tt.path)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownFormat) {
				t.Fatalf("%s: err=%v want ErrUnknownFormat", tt.path, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("%s: got %q err=%v want %q", tt.path, got, err, tt.want)
		}
	}
}

func TestImport_CSVBatches(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	st, err := Import(context.Background(), w, strings.NewReader(sampleCSV), Options{
		Format:    FormatCSV,
		Parser:    parser.DefaultOptions(),
		BatchSize: 2,
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if st.Read != 3 || st.Inserted != 3 || st.Batches != 2 {
		t.Fatalf("stats=%+v", st)
	}
	if len(w.batches) != 2 || len(w.batches[0]) != 2 || len(w.batches[1]) != 1 {
		t.Fatalf("batches=%v", w.batches)
	}
	if w.batches[1][0].Country != "Laos" || w.batches[1][0].HS4Code != 301 {
		t.Fatalf("last row=%+v", w.batches[1][0])
	}
}

func TestImport_JSON(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	input := `{"rows":[{"country":"Japan","year":"2023"},{"country":"China","year":"2023"}]}`
	st, err := Import(context.Background(), w, strings.NewReader(input), Options{
		Format:    FormatJSON,
		BatchSize: 10,
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if st.Inserted != 2 || st.Batches != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestImport_BadLinesSkipped(t *testing.T) {
	t.Parallel()

	input := "country,year\nJapan,2023\n\"broken,2023\nChina,2022\n"
	w := &fakeWriter{}
	st, err := Import(context.Background(), w, strings.NewReader(input), Options{
		Format:    FormatCSV,
		Parser:    parser.DefaultOptions(),
		BatchSize: 10,
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if st.BadLines == 0 {
		t.Fatalf("expected bad lines, stats=%+v", st)
	}
	if st.Inserted < 1 {
		t.Fatalf("expected at least one row inserted, stats=%+v", st)
	}
}

func TestImport_InsertFailureStops(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{failAt: 2}
	st, err := Import(context.Background(), w, strings.NewReader(sampleCSV), Options{
		Format:    FormatCSV,
		Parser:    parser.DefaultOptions(),
		BatchSize: 1,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if st.Inserted != 1 {
		t.Fatalf("inserted=%d want 1", st.Inserted)
	}
}

func TestImport_InvalidOptions(t *testing.T) {
	t.Parallel()

	if _, err := Import(context.Background(), &fakeWriter{}, strings.NewReader(""), Options{Format: FormatCSV}); err == nil {
		t.Fatal("expected batch size error")
	}
	if _, err := Import(context.Background(), &fakeWriter{}, strings.NewReader(""), Options{Format: "xml", BatchSize: 1}); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("err=%v want ErrUnknownFormat", err)
	}
}
