package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"tradeetl/internal/parser"
	"tradeetl/internal/storage"
)

// StreamSourceRecords parses JSON from r and streams export_th rows into out.
//
// Streaming behavior:
//   - Root array: each object element is one row.
//   - Root object holding an array-of-objects field: that array is streamed
//     (envelope pattern) and the remaining fields are skipped.
//   - Root object without such a field: one row.
//   - Further objects after the root value (JSON Lines) are streamed too.
//
// Object keys go through parser.CanonicalHeader, so "Thaip Value" and
// "thaip_value" both land in the thaip_value column.
func StreamSourceRecords(
	ctx context.Context,
	r io.Reader,
	opt parser.Options,
	out chan<- parser.Row,
	onParseErr func(line int, err error),
) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	line := 0
	emit := func(obj map[string]any) error {
		line++
		row := parser.Row{Line: line, Record: toRecord(obj, opt.HeaderMap)}
		select {
		case out <- row:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if onParseErr != nil {
			onParseErr(0, err)
		}
		return fmt.Errorf("json: read first token: %w", err)
	}

	d, ok := tok.(json.Delim)
	if !ok {
		return fmt.Errorf("json: unsupported root token %T (want object or array)", tok)
	}

	switch d {
	case '[':
		if err := streamArrayOfObjects(ctx, dec, emit, onParseErr, &line); err != nil {
			return err
		}
		if err := expectDelim(dec, ']'); err != nil {
			return err
		}
	case '{':
		streamed, single, err := streamEnvelopeOrSingle(ctx, dec, emit, onParseErr, &line)
		if err != nil {
			return err
		}
		if err := expectDelim(dec, '}'); err != nil {
			return err
		}
		if !streamed {
			if err := emit(single); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("json: unsupported root delimiter %q", d)
	}

	return streamTrailingObjects(dec, emit, onParseErr, &line)
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	end, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: read %q: %w", want, err)
	}
	if end != want {
		return fmt.Errorf("json: expected %q, got %v", want, end)
	}
	return nil
}

func streamTrailingObjects(
	dec *json.Decoder,
	emit func(map[string]any) error,
	onParseErr func(line int, err error),
	line *int,
) error {
	for {
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return fmt.Errorf("json: decode trailing object: %w", err)
		}
		if err := emit(obj); err != nil {
			return err
		}
	}
}

// streamArrayOfObjects streams elements of the current array (after '[' has
// been consumed). nil elements are skipped; any other non-object is an error.
func streamArrayOfObjects(
	ctx context.Context,
	dec *json.Decoder,
	emit func(map[string]any) error,
	onParseErr func(line int, err error),
	line *int,
) error {
	for dec.More() {
		var raw any
		if err := dec.Decode(&raw); err != nil {
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return fmt.Errorf("json: decode array element: %w", err)
		}
		if raw == nil {
			continue
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			err := fmt.Errorf("json: array element not an object (got %T)", raw)
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return err
		}
		if err := emit(obj); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// streamEnvelopeOrSingle walks a root object (after '{' has been consumed).
// The first array-valued field is streamed as rows and the rest of the object
// is skipped; otherwise the fields are returned as a single row.
func streamEnvelopeOrSingle(
	ctx context.Context,
	dec *json.Decoder,
	emit func(map[string]any) error,
	onParseErr func(line int, err error),
	line *int,
) (streamed bool, single map[string]any, _ error) {
	single = make(map[string]any)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return false, nil, fmt.Errorf("json: read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return false, nil, fmt.Errorf("json: object key not a string (got %T)", keyTok)
		}

		valTok, err := dec.Token()
		if err != nil {
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return false, nil, fmt.Errorf("json: read value of %q: %w", key, err)
		}

		if delim, ok := valTok.(json.Delim); ok && delim == '[' {
			if err := streamArrayOfObjects(ctx, dec, emit, onParseErr, line); err != nil {
				return false, nil, err
			}
			if err := expectDelim(dec, ']'); err != nil {
				return false, nil, err
			}
			for dec.More() {
				if _, err := dec.Token(); err != nil {
					return true, nil, fmt.Errorf("json: skip envelope key: %w", err)
				}
				if err := skipNextValue(dec); err != nil {
					return true, nil, err
				}
			}
			return true, nil, nil
		}

		if delim, ok := valTok.(json.Delim); ok {
			// Nested objects carry no export_th column.
			if err := skipValueFromFirstToken(dec, delim); err != nil {
				return false, nil, err
			}
			continue
		}
		single[key] = valTok
	}

	return false, single, nil
}

// skipNextValue skips the next JSON value without materializing it.
func skipNextValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: skip value token: %w", err)
	}
	return skipValueFromFirstToken(dec, tok)
}

func skipValueFromFirstToken(dec *json.Decoder, tok any) error {
	d, ok := tok.(json.Delim)
	if !ok {
		return nil
	}

	switch d {
	case '{':
		for dec.More() {
			if _, err := dec.Token(); err != nil {
				return fmt.Errorf("json: skip object key: %w", err)
			}
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
		return expectDelim(dec, '}')
	case '[':
		for dec.More() {
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
		return expectDelim(dec, ']')
	default:
		return fmt.Errorf("json: unexpected delimiter %q", d)
	}
}

var columnIndex = func() map[string]int {
	m := make(map[string]int, len(parser.Columns))
	for i, c := range parser.Columns {
		m[c] = i
	}
	return m
}()

// toRecord maps a decoded object onto export_th columns.
func toRecord(obj map[string]any, hm map[string]string) storage.SourceRecord {
	vals := make([]string, len(parser.Columns))
	for k, v := range obj {
		if i, ok := columnIndex[parser.CanonicalHeader(k, hm)]; ok {
			vals[i] = scalarString(v)
		}
	}
	return parser.FromValues(vals)
}

// scalarString renders a decoded JSON scalar. Numbers keep their literal text.
func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
