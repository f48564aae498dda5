package multitable

import (
	"fmt"
	"strconv"
	"strings"

	"tradeetl/internal/storage"
)

// Mode selects how the fact mapper treats bad input.
type Mode int

const (
	// Lenient writes every row: a missing dimension becomes a NULL foreign
	// key and unparseable month/year become 0.
	Lenient Mode = iota

	// Strict rejects a row on any missing dimension, unparseable month/year,
	// month outside 1-12, or year before 1900.
	Strict
)

func (m Mode) String() string {
	switch m {
	case Lenient:
		return "lenient"
	case Strict:
		return "strict"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) valid() bool { return m == Lenient || m == Strict }

// MarshalText renders the mode name for JSON/YAML.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText accepts the names ParseMode accepts.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMode accepts "lenient" (or empty) and "strict", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lenient":
		return Lenient, nil
	case "strict":
		return Strict, nil
	default:
		return Lenient, fmt.Errorf("%w: %q (want lenient|strict)", ErrInvalidMode, s)
	}
}

// MinYear and MaxYear bound a run year and a strict-mode fact year.
const (
	MinYear = 1900
	MaxYear = 9999
)

// ParseScope accepts "all" or a four-digit year.
func ParseScope(s string) (storage.Scope, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "all") {
		return storage.AllYears(), nil
	}
	year, err := ParseYear(s)
	if err != nil {
		return storage.Scope{}, err
	}
	return storage.ForYear(year), nil
}

// ParseYear parses a run/reset year.
func ParseYear(s string) (int, error) {
	year, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidYear, s)
	}
	if err := checkYear(year); err != nil {
		return 0, err
	}
	return year, nil
}

func checkYear(year int) error {
	if year < MinYear || year > MaxYear {
		return fmt.Errorf("%w: %d (want %d-%d)", ErrInvalidYear, year, MinYear, MaxYear)
	}
	return nil
}
