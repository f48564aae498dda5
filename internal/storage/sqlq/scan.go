package sqlq

import (
	"database/sql"
	"strconv"

	"tradeetl/internal/storage"
)

// ScanFunc is the Scan method of a driver row (pgx.Rows or *sql.Rows).
type ScanFunc func(dest ...any) error

// ScanSource scans one row selected by StreamSource/PageSource.
func ScanSource(scan ScanFunc) (storage.SourceRecord, error) {
	var (
		r                   storage.SourceRecord
		country, d2, d4     sql.NullString
		thaip, dollar, size sql.NullString
		month, year         sql.NullString
		hs2, hs4            sql.NullInt64
	)
	if err := scan(&r.ID, &country, &hs2, &d2, &hs4, &d4, &thaip, &dollar, &size, &month, &year); err != nil {
		return r, err
	}
	r.Country = country.String
	r.HS2Code = int(hs2.Int64)
	r.HS2Description = d2.String
	r.HS4Code = int(hs4.Int64)
	r.HS4Description = d4.String
	r.ThaipValue = thaip.String
	r.DollarValue = dollar.String
	r.Size = size.String
	r.Month = month.String
	r.Year = year.String
	return r, nil
}

// ScanDimension scans one row selected by SelectDimensions.
func ScanDimension(kind storage.DimensionKind, scan ScanFunc) (storage.Dimension, error) {
	var (
		id    int64
		code  sql.NullInt64
		label sql.NullString
	)
	if err := scan(&id, &code, &label); err != nil {
		return storage.Dimension{}, err
	}
	return storage.Dimension{ID: id, Kind: kind, Code: int(code.Int64), Label: label.String}, nil
}

// ScanFactDetail scans one row selected by FactDetails.
func ScanFactDetail(scan ScanFunc) (storage.FactDetail, error) {
	var (
		f                     storage.FactDetail
		country, d2, d4, size sql.NullString
		hs2, hs4              sql.NullInt64
	)
	if err := scan(&f.FactID, &country, &hs2, &d2, &hs4, &d4,
		&f.ThaipValue, &f.DollarValue, &size, &f.Month, &f.Year); err != nil {
		return f, err
	}
	f.Country = country.String
	f.HS2Code = nullCode(hs2)
	f.HS2Description = d2.String
	f.HS4Code = nullCode(hs4)
	f.HS4Description = d4.String
	f.Size = size.String
	return f, nil
}

func nullCode(v sql.NullInt64) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatInt(v.Int64, 10)
}

// ScanTotals scans the single row selected by FactTotals.
func ScanTotals(scan ScanFunc) (storage.FactTotals, error) {
	var t storage.FactTotals
	err := scan(&t.TotalThaipValue, &t.TotalDollarValue, &t.RecordCount)
	return t, err
}

// ScanRanked scans one row selected by TopCountries/TopHS2.
func ScanRanked(scan ScanFunc) (storage.RankedValue, error) {
	var (
		v     storage.RankedValue
		label sql.NullString
	)
	if err := scan(&label, &v.TotalValue, &v.RecordCount); err != nil {
		return v, err
	}
	v.Label = label.String
	return v, nil
}

// ScanSummary scans one row selected by FactSummary.
func ScanSummary(scan ScanFunc) (storage.FactSummary, error) {
	var (
		s                storage.FactSummary
		country, hs2Desc sql.NullString
	)
	if err := scan(&country, &hs2Desc, &s.TotalThaipValue, &s.TotalDollarValue, &s.RecordCount); err != nil {
		return s, err
	}
	s.Country = country.String
	s.HS2Category = hs2Desc.String
	return s, nil
}
