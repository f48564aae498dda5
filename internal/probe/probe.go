// Package probe samples a raw export file before import and reports how it
// lines up with export_th: detected format and delimiter, which headers map to
// which columns, which columns are missing, coarse value types and the
// dimension cardinality of the sample.
package probe

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"tradeetl/internal/importer"
	"tradeetl/internal/parser"
	"tradeetl/internal/storage"
	"tradeetl/internal/transformer/builtin"
)

// Defaults for Options.
const (
	DefaultSampleBytes = 1 << 20
	DefaultMaxRecords  = 1000
)

// ErrEmpty is returned for an input with no content.
var ErrEmpty = errors.New("probe: empty input")

// Options bound the sample.
type Options struct {
	// SampleBytes is how much of the input is read.
	SampleBytes int

	// MaxRecords caps the rows inspected.
	MaxRecords int

	// HeaderMap is the same rename table the importer uses.
	HeaderMap map[string]string
}

func (o Options) withDefaults() Options {
	if o.SampleBytes <= 0 {
		o.SampleBytes = DefaultSampleBytes
	}
	if o.MaxRecords <= 0 {
		o.MaxRecords = DefaultMaxRecords
	}
	return o
}

// Value types reported per column.
const (
	TypeEmpty   = "empty"
	TypeInteger = "integer"
	TypeDecimal = "decimal"
	TypeText    = "text"
)

// Column describes one source header.
type Column struct {
	Header string `json:"header"`
	// Column is the export_th column the header maps to; empty when unmapped.
	Column   string `json:"column,omitempty"`
	Type     string `json:"type"`
	Empty    int    `json:"empty"`
	Distinct int    `json:"distinct"`
}

// Cardinality counts distinct dimension keys seen in the sample.
type Cardinality struct {
	Countries int `json:"countries"`
	HS2       int `json:"hs2"`
	HS4       int `json:"hs4"`
}

// Report is the outcome of one probe.
type Report struct {
	Format    importer.Format `json:"format"`
	Delimiter string          `json:"delimiter,omitempty"`
	Columns   []Column        `json:"columns"`

	// Missing lists export_th columns no header maps to.
	Missing []string `json:"missing"`

	SampledRows int `json:"sampledRows"`
	// SkippedRows have a field count different from the header.
	SkippedRows int `json:"skippedRows"`
	// Truncated is set when the input is larger than the sample.
	Truncated bool `json:"truncated"`

	Years      []string    `json:"years"`
	Dimensions Cardinality `json:"dimensions"`
}

// Probe reads a bounded sample of r and reports on it.
func Probe(r io.Reader, opt Options) (Report, error) {
	opt = opt.withDefaults()

	sample, err := io.ReadAll(io.LimitReader(r, int64(opt.SampleBytes)+1))
	if err != nil {
		return Report{}, fmt.Errorf("probe: read sample: %w", err)
	}
	truncated := len(sample) > opt.SampleBytes
	if truncated {
		sample = sample[:opt.SampleBytes]
	}

	var rep Report
	switch sniffFormat(sample) {
	case importer.FormatCSV:
		rep, err = probeCSV(sample, truncated, opt)
	case importer.FormatJSON:
		rep, err = probeJSON(sample, opt)
	default:
		return Report{}, ErrEmpty
	}
	if err != nil {
		return Report{}, err
	}
	rep.Truncated = truncated
	return rep, nil
}

// sniffFormat infers the file format from the first non-space byte.
func sniffFormat(sample []byte) importer.Format {
	trim := bytes.TrimSpace(bytes.TrimPrefix(sample, []byte("\uFEFF")))
	if len(trim) == 0 {
		return ""
	}
	if trim[0] == '{' || trim[0] == '[' {
		return importer.FormatJSON
	}
	return importer.FormatCSV
}

// sniffDelimiter picks the candidate occurring most often in the header line.
// Ties keep the earlier candidate, so a header without separators is ",".
func sniffDelimiter(sample []byte) rune {
	line := sample
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	best, bestN := ',', 0
	for _, c := range []rune{',', ';', '\t', '|'} {
		if n := bytes.Count(line, []byte(string(c))); n > bestN {
			best, bestN = c, n
		}
	}
	return best
}

func probeCSV(sample []byte, truncated bool, opt Options) (Report, error) {
	// A truncated sample ends mid-line; drop the partial record.
	if i := bytes.LastIndexByte(sample, '\n'); truncated && i > 0 {
		sample = sample[:i+1]
	}
	sample = bytes.TrimPrefix(sample, []byte("\uFEFF"))
	comma := sniffDelimiter(sample)

	cr := csv.NewReader(bytes.NewReader(sample))
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	headers, err := cr.Read()
	if err != nil {
		return Report{}, fmt.Errorf("probe: read csv header: %w", err)
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}

	rep := Report{Format: importer.FormatCSV, Delimiter: string(comma)}
	var rows [][]string
	for len(rows) < opt.MaxRecords {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Report{}, fmt.Errorf("probe: read csv row %d: %w", len(rows)+rep.SkippedRows+2, err)
		}
		if len(rec) != len(headers) {
			rep.SkippedRows++
			continue
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, rec)
	}

	summarize(&rep, headers, rows, opt.HeaderMap)
	return rep, nil
}

func probeJSON(sample []byte, opt Options) (Report, error) {
	objs, err := sampleJSONRecords(sample, opt.MaxRecords)
	if err != nil && len(objs) == 0 {
		return Report{}, fmt.Errorf("probe: decode json sample: %w", err)
	}

	seen := make(map[string]bool)
	var headers []string
	for _, o := range objs {
		for k, v := range o {
			if _, nested := v.(map[string]any); nested || seen[k] {
				continue
			}
			if _, nested := v.([]any); nested {
				continue
			}
			seen[k] = true
			headers = append(headers, k)
		}
	}
	sort.Strings(headers)

	rows := make([][]string, 0, len(objs))
	for _, o := range objs {
		row := make([]string, len(headers))
		for i, h := range headers {
			row[i] = scalarString(o[h])
		}
		rows = append(rows, row)
	}

	rep := Report{Format: importer.FormatJSON}
	summarize(&rep, headers, rows, opt.HeaderMap)
	return rep, nil
}

// summarize fills the column, year and cardinality fields from parsed rows.
func summarize(rep *Report, headers []string, rows [][]string, hm map[string]string) {
	rep.SampledRows = len(rows)

	canonical := make(map[string]bool, len(parser.Columns))
	for _, c := range parser.Columns {
		canonical[c] = true
	}

	mapped := make(map[string]bool)
	types := inferTypes(len(headers), rows)
	rep.Columns = make([]Column, len(headers))
	for i, h := range headers {
		col := Column{Header: h, Type: types[i]}
		if c := parser.CanonicalHeader(h, hm); canonical[c] && !mapped[c] {
			col.Column = c
			mapped[c] = true
		}
		distinct := make(map[string]struct{})
		for _, r := range rows {
			if r[i] == "" {
				col.Empty++
				continue
			}
			distinct[r[i]] = struct{}{}
		}
		col.Distinct = len(distinct)
		rep.Columns[i] = col
	}

	rep.Missing = []string{}
	for _, c := range parser.Columns {
		if !mapped[c] {
			rep.Missing = append(rep.Missing, c)
		}
	}

	idx := parser.ColumnIndex(headers, hm)
	countries := make(map[string]struct{})
	hs2 := make(map[int]struct{})
	hs4 := make(map[int]struct{})
	years := make(map[string]struct{})
	vals := make([]string, len(parser.Columns))
	for _, r := range rows {
		for ci, pos := range idx {
			vals[ci] = ""
			if pos >= 0 {
				vals[ci] = r[pos]
			}
		}
		rec := parser.FromValues(vals)
		if k := storage.NormalizeKey(rec.Country); k != "" {
			countries[k] = struct{}{}
		}
		if rec.HS2Code > 0 {
			hs2[rec.HS2Code] = struct{}{}
		}
		if rec.HS4Code > 0 {
			hs4[rec.HS4Code] = struct{}{}
		}
		if y := strings.TrimSpace(rec.Year); y != "" {
			years[y] = struct{}{}
		}
	}
	rep.Dimensions = Cardinality{Countries: len(countries), HS2: len(hs2), HS4: len(hs4)}
	rep.Years = make([]string, 0, len(years))
	for y := range years {
		rep.Years = append(rep.Years, y)
	}
	sort.Strings(rep.Years)
}

// inferTypes assigns the narrowest type every non-empty value of a column
// parses as. Decimals may carry thousands separators or a currency suffix.
func inferTypes(n int, rows [][]string) []string {
	out := make([]string, n)
	for col := 0; col < n; col++ {
		seen, allInt, allDec := false, true, true
		for _, r := range rows {
			v := r[col]
			if v == "" {
				continue
			}
			seen = true
			if allInt {
				if _, err := strconv.ParseInt(v, 10, 64); err != nil {
					allInt = false
				}
			}
			if allDec && !isDecimal(v) {
				allDec = false
			}
		}
		switch {
		case !seen:
			out[col] = TypeEmpty
		case allInt:
			out[col] = TypeInteger
		case allDec:
			out[col] = TypeDecimal
		default:
			out[col] = TypeText
		}
	}
	return out
}

func isDecimal(v string) bool {
	c := builtin.CleanNumeric(v)
	if c == "" || c == "." {
		return false
	}
	if _, err := strconv.ParseFloat(c, 64); err != nil {
		return false
	}
	// Mostly numeric: at least half the characters survive cleaning.
	return len(c)*2 >= len(strings.TrimSpace(v))
}

// sampleJSONRecords decodes up to limit objects from a root array, an envelope
// object holding an array of objects, a single object, or JSON Lines. A
// decode error after at least one record ends sampling and is returned with
// the records read so far.
func sampleJSONRecords(sample []byte, limit int) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimPrefix(sample, []byte("\uFEFF"))))
	dec.UseNumber()

	out := make([]map[string]any, 0, min(limit, 128))
	emit := func(m map[string]any) bool {
		if m != nil && len(out) < limit {
			out = append(out, m)
		}
		return len(out) < limit
	}

	var root any
	if err := dec.Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	switch v := root.(type) {
	case []any:
		for _, it := range v {
			if m, ok := it.(map[string]any); ok && !emit(m) {
				return out, nil
			}
		}
	case map[string]any:
		if slice := findObjectSlice(v); slice != nil {
			for _, m := range slice {
				if !emit(m) {
					return out, nil
				}
			}
		} else {
			emit(v)
		}
	}

	for len(out) < limit {
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return out, err
		}
		emit(obj)
	}
	return out, nil
}

// findObjectSlice returns the first array-of-objects field of root, by key
// order, so envelopes with several arrays probe deterministically.
func findObjectSlice(root map[string]any) []map[string]any {
	keys := make([]string, 0, len(root))
	for k := range root {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		raw, ok := root[k].([]any)
		if !ok || len(raw) == 0 {
			continue
		}
		objects := make([]map[string]any, 0, len(raw))
		valid := true
		for _, elem := range raw {
			if elem == nil {
				continue
			}
			m, ok := elem.(map[string]any)
			if !ok {
				valid = false
				break
			}
			objects = append(objects, m)
		}
		if valid && len(objects) > 0 {
			return objects
		}
	}
	return nil
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
