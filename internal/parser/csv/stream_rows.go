package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"tradeetl/internal/parser"
	"tradeetl/internal/transformer/builtin"
)

// StreamSourceRecords streams CSV from src into parser.Rows aligned to the
// export_th columns.
//
// Edge cases:
//   - Headers are matched through parser.CanonicalHeader (BOM, case, spaces).
//   - Without a header, fields are taken positionally in parser.Columns order.
//   - Malformed lines are reported to onErr and skipped; they do not stop the stream.
//
// Errors:
//   - Returns ctx.Err() on cancellation and the header read error, if any.
func StreamSourceRecords(
	ctx context.Context,
	src io.Reader,
	opt parser.Options,
	out chan<- parser.Row,
	onErr func(line int, err error),
) error {
	var line int

	cr := csv.NewReader(src)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.ReuseRecord = true
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1

	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	colIx := make([]int, len(parser.Columns))
	for i := range colIx {
		colIx[i] = i
	}

	if opt.HasHeader {
		hdr, err := readRec()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("read header: %w", err))
			}
			return err
		}
		colIx = parser.ColumnIndex(hdr, opt.HeaderMap)
	}

	vals := make([]string, len(parser.Columns))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := readRec()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return fmt.Errorf("csv read line %d: %w", line, err)
			}
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}

		for t, si := range colIx {
			if si < 0 || si >= len(rec) {
				vals[t] = ""
				continue
			}
			v := rec[si]
			if opt.TrimSpace && builtin.HasEdgeSpace(v) {
				v = strings.TrimSpace(v)
			}
			vals[t] = v
		}

		// FromValues copies out of vals; rec is reused by the reader.
		row := parser.Row{Line: line, Record: parser.FromValues(vals)}
		select {
		case out <- row:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
