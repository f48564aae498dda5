// Package parser maps raw export files onto export_th source rows. Format
// specific streamers live in the csv and json subpackages.
package parser

import (
	"strings"

	"tradeetl/internal/storage"
	"tradeetl/internal/transformer/builtin"
)

// Columns is the canonical field order of a raw export row.
var Columns = storage.SourceColumns

// Options control header handling shared by all formats.
type Options struct {
	// HeaderMap renames source headers/keys to canonical column names.
	HeaderMap map[string]string

	// CSV only.
	Comma      rune
	HasHeader  bool
	TrimSpace  bool
	LazyQuotes bool
}

// DefaultOptions matches the export files: comma separated, header row,
// trimmed fields.
func DefaultOptions() Options {
	return Options{Comma: ',', HasHeader: true, TrimSpace: true}
}

// Row is one parsed record with its 1-based line (CSV) or element (JSON) number.
type Row struct {
	Line   int
	Record storage.SourceRecord
}

// CanonicalHeader maps a raw header to a column name: explicit HeaderMap
// entries win, otherwise the header is lower-cased with spaces as underscores.
func CanonicalHeader(h string, hm map[string]string) string {
	if builtin.HasEdgeSpace(h) {
		h = strings.TrimSpace(h)
	}
	h = strings.TrimPrefix(h, "\uFEFF")
	if mapped, ok := hm[h]; ok {
		return mapped
	}
	return strings.ReplaceAll(strings.ToLower(h), " ", "_")
}

// FromValues builds a SourceRecord from values aligned with Columns. Missing
// trailing values are empty; hs codes that are not integers become 0.
func FromValues(v []string) storage.SourceRecord {
	at := func(i int) string {
		if i < len(v) {
			return v[i]
		}
		return ""
	}
	return storage.SourceRecord{
		Country:        at(0),
		HS2Code:        builtin.IntOrZero(at(1)),
		HS2Description: at(2),
		HS4Code:        builtin.IntOrZero(at(3)),
		HS4Description: at(4),
		ThaipValue:     at(5),
		DollarValue:    at(6),
		Size:           at(7),
		Month:          at(8),
		Year:           at(9),
	}
}

// ColumnIndex returns the position of each canonical column in a header row,
// -1 when the column is absent.
func ColumnIndex(header []string, hm map[string]string) []int {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[CanonicalHeader(h, hm)] = i
	}
	out := make([]int, len(Columns))
	for i, c := range Columns {
		if p, ok := pos[c]; ok {
			out[i] = p
		} else {
			out[i] = -1
		}
	}
	return out
}
