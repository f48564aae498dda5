package storage

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeKey converts a dimension label to its canonical form for in-memory
// cache keys and for storage (e.g. " Germany " -> "Germany").
//
// Labels are trimmed and NFC-normalized so that composed and decomposed
// spellings of the same country name resolve to one dimension row.
func NormalizeKey(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if norm.NFC.IsNormalString(s) {
		return s
	}
	return norm.NFC.String(s)
}

// Chunk splits n items into [start,end) windows of at most size items and calls
// fn for each; fn errors stop the walk. Used to bound IN-lists and multi-row
// inserts.
func Chunk(n, size int, fn func(start, end int) error) error {
	if size <= 0 {
		size = n
	}
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}
