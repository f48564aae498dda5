package multitable

import (
	"fmt"
	"strconv"
	"strings"

	"tradeetl/internal/storage"
	"tradeetl/internal/transformer/builtin"
)

// Mapper turns source rows into fact rows against a frozen DimensionCache.
// It is safe for concurrent use.
type Mapper struct {
	cache *DimensionCache
	mode  Mode
}

// NewMapper binds a cache and a mode.
func NewMapper(cache *DimensionCache, mode Mode) Mapper {
	return Mapper{cache: cache, mode: mode}
}

// Map builds the fact row for rec.
//
// Money columns are cleaned and parsed the same way in both modes (sign and
// punctuation are stripped; empty or unparseable becomes 0). In lenient mode
// Map never fails. In strict mode it returns a *ValidationError listing every
// violation of the row.
func (m Mapper) Map(rec storage.SourceRecord) (storage.FactRecord, error) {
	f := storage.FactRecord{
		ThaipValue:  builtin.ParseMoney(rec.ThaipValue),
		DollarValue: builtin.ParseMoney(rec.DollarValue),
		Size:        strings.TrimSpace(rec.Size),
	}

	var violations []error
	resolve := func(kind storage.DimensionKind, raw string, id int64, ok bool) *int64 {
		if ok {
			return &id
		}
		if m.mode == Strict {
			violations = append(violations, fmt.Errorf("%w: %s %q", ErrUnknownDimension, kind, raw))
		}
		return nil
	}

	id, ok := m.cache.Country(rec.Country)
	f.CountryID = resolve(storage.DimCountry, rec.Country, id, ok)
	id, ok = m.cache.HS2(rec.HS2Code)
	f.HS2ID = resolve(storage.DimHS2, strconv.Itoa(rec.HS2Code), id, ok)
	id, ok = m.cache.HS4(rec.HS4Code)
	f.HS4ID = resolve(storage.DimHS4, strconv.Itoa(rec.HS4Code), id, ok)

	if m.mode != Strict {
		f.Month = builtin.IntOrZero(rec.Month)
		f.Year = builtin.IntOrZero(rec.Year)
		return f, nil
	}

	if month, err := builtin.ParseInt(rec.Month); err != nil {
		violations = append(violations, fmt.Errorf("%w: month %q", ErrNotInteger, rec.Month))
	} else if month < 1 || month > 12 {
		violations = append(violations, fmt.Errorf("%w: %d", ErrMonthOutOfRange, month))
	} else {
		f.Month = month
	}

	if year, err := builtin.ParseInt(rec.Year); err != nil {
		violations = append(violations, fmt.Errorf("%w: year %q", ErrNotInteger, rec.Year))
	} else if year < MinYear {
		violations = append(violations, fmt.Errorf("%w: %d (before %d)", ErrYearOutOfRange, year, MinYear))
	} else {
		f.Year = year
	}

	if len(violations) > 0 {
		return storage.FactRecord{}, &ValidationError{SourceID: rec.ID, Violations: violations}
	}
	return f, nil
}
