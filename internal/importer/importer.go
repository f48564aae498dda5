// Package importer loads raw export files (CSV or JSON) into the export_th
// source table in fixed-size batches.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"tradeetl/internal/parser"
	pcsv "tradeetl/internal/parser/csv"
	pjson "tradeetl/internal/parser/json"
	"tradeetl/internal/storage"
)

// Logger is the minimal logging surface used by Import.
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Format is the on-disk encoding of an export file.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ErrUnknownFormat is returned when a file extension maps to no parser.
var ErrUnknownFormat = errors.New("importer: unknown file format")

// FormatFromPath picks the parser by file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv", ".txt":
		return FormatCSV, nil
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
	}
}

// Options configure one import.
type Options struct {
	Format    Format
	Parser    parser.Options
	BatchSize int
	Logger    Logger
}

// Stats summarize one import.
type Stats struct {
	Read     int64
	Inserted int64
	BadLines int64
	Batches  int64
	Duration time.Duration
}

// Import streams r through the format's parser and appends the rows to
// export_th via w. Malformed lines are counted and skipped; a failed insert
// stops the import and returns the rows inserted so far.
func Import(ctx context.Context, w storage.SourceWriter, r io.Reader, opt Options) (Stats, error) {
	if opt.BatchSize <= 0 {
		return Stats{}, fmt.Errorf("importer: batch size must be > 0")
	}
	logger := opt.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	var stream func(context.Context, io.Reader, parser.Options, chan<- parser.Row, func(int, error)) error
	switch opt.Format {
	case FormatCSV:
		stream = pcsv.StreamSourceRecords
	case FormatJSON:
		stream = pjson.StreamSourceRecords
	default:
		return Stats{}, fmt.Errorf("%w: %q", ErrUnknownFormat, opt.Format)
	}

	var (
		st    Stats
		start = time.Now()
		rows  = make(chan parser.Row, opt.BatchSize)
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(rows)
		return stream(gctx, r, opt.Parser, rows, func(line int, err error) {
			st.BadLines++
			logger.Printf("stage=import bad_line=%d err=%v", line, err)
		})
	})

	g.Go(func() error {
		batch := make([]storage.SourceRecord, 0, opt.BatchSize)
		lastFlush := start

		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			n, err := w.InsertSource(gctx, batch)
			st.Inserted += n
			batch = batch[:0]
			if err != nil {
				logger.Printf("stage=import insert_failed after=%d total=%d err=%v", n, st.Inserted, err)
				return err
			}
			st.Batches++
			now := time.Now()
			since := now.Sub(lastFlush)
			rps := float64(0)
			if since > 0 {
				rps = float64(n) / since.Seconds()
			}
			logger.Printf("stage=import batch=%d rps=%.0f inserted=%d total_inserted=%d elapsed=%s",
				st.Batches, rps, n, st.Inserted, now.Sub(start).Truncate(time.Millisecond))
			lastFlush = now
			return nil
		}

		for row := range rows {
			st.Read++
			batch = append(batch, row.Record)
			if len(batch) >= opt.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return flush()
	})

	err := g.Wait()
	st.Duration = time.Since(start)
	if err != nil {
		return st, fmt.Errorf("importer: %w", err)
	}
	logger.Printf("stage=import done read=%d inserted=%d bad_lines=%d batches=%d duration=%s",
		st.Read, st.Inserted, st.BadLines, st.Batches, st.Duration.Truncate(time.Millisecond))
	return st, nil
}
