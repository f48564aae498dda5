package storage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Table names of the star schema and its denormalized source.
const (
	TableSource  = "export_th"
	TableCountry = "dim_country"
	TableHS2     = "dim_hs2"
	TableHS4     = "dim_hs4"
	TableFact    = "fact_export_th"
)

// Scope selects the source rows a run or query covers: a single year, or all rows.
//
// Source years are stored as raw text; SourceYear renders the filter value the
// backends compare against.
type Scope struct {
	All  bool
	Year int
}

// AllYears is the unfiltered scope.
func AllYears() Scope { return Scope{All: true} }

// ForYear scopes to one year.
func ForYear(year int) Scope { return Scope{Year: year} }

// SourceYear returns the text compared against export_th.year.
func (s Scope) SourceYear() string { return strconv.Itoa(s.Year) }

func (s Scope) String() string {
	if s.All {
		return "all"
	}
	return s.SourceYear()
}

// SourceRecord is one raw row of export_th. Money, month and year values keep
// their original text; parsing happens in the fact mapper.
type SourceRecord struct {
	ID             int64
	Country        string
	HS2Code        int
	HS2Description string
	HS4Code        int
	HS4Description string
	ThaipValue     string
	DollarValue    string
	Size           string
	Month          string
	Year           string
}

// DimensionKind identifies one of the three dimension tables.
type DimensionKind int

const (
	DimCountry DimensionKind = iota
	DimHS2
	DimHS4
)

// DimensionKinds lists every kind in reset/extract order.
var DimensionKinds = []DimensionKind{DimCountry, DimHS2, DimHS4}

func (k DimensionKind) String() string {
	switch k {
	case DimCountry:
		return "country"
	case DimHS2:
		return "hs2"
	case DimHS4:
		return "hs4"
	default:
		return fmt.Sprintf("dimension(%d)", int(k))
	}
}

// Table returns the physical table holding this kind.
func (k DimensionKind) Table() string {
	switch k {
	case DimCountry:
		return TableCountry
	case DimHS2:
		return TableHS2
	default:
		return TableHS4
	}
}

// IDColumn returns the surrogate key column of the dimension table.
func (k DimensionKind) IDColumn() string {
	switch k {
	case DimCountry:
		return "country_id"
	case DimHS2:
		return "hs2_id"
	default:
		return "hs4_id"
	}
}

// FactColumn returns the fact_export_th column referencing this kind.
// Fact foreign keys use the same names as the dimension ids.
func (k DimensionKind) FactColumn() string { return k.IDColumn() }

// Dimension is one row of any dimension table.
//
// For DimCountry only Label (the country name) is meaningful and Code is zero.
// For DimHS2/DimHS4, Code is the harmonized code and Label its description.
type Dimension struct {
	ID    int64         `json:"id"`
	Kind  DimensionKind `json:"-"`
	Code  int           `json:"code,omitempty"`
	Label string        `json:"label"`
}

// NaturalKey is the lookup key used by fact mapping: the country name, or the
// decimal hs code.
func (d Dimension) NaturalKey() string {
	if d.Kind == DimCountry {
		return NormalizeKey(d.Label)
	}
	return strconv.Itoa(d.Code)
}

// CandidateKey identifies a candidate dimension row by its whole value (code
// and description), which is how extraction deduplicates and how the dimension
// tables enforce uniqueness.
func (d Dimension) CandidateKey() string {
	if d.Kind == DimCountry {
		return NormalizeKey(d.Label)
	}
	var b strings.Builder
	b.WriteString(strconv.Itoa(d.Code))
	b.WriteByte(0x1f)
	b.WriteString(NormalizeKey(d.Label))
	return b.String()
}

// FactRecord is one row of fact_export_th. Nil foreign keys are written as NULL.
type FactRecord struct {
	ID          int64
	CountryID   *int64
	HS2ID       *int64
	HS4ID       *int64
	ThaipValue  decimal.Decimal
	DollarValue decimal.Decimal
	Size        string
	Month       int
	Year        int
}

// FactColumns is the insert column order for FactRecord.Values.
var FactColumns = []string{
	"country_id", "hs2_id", "hs4_id", "thaip_value", "dollar_value", "size", "month", "year",
}

// Values returns the bind values in FactColumns order.
func (f FactRecord) Values() []any {
	return []any{
		nullableID(f.CountryID), nullableID(f.HS2ID), nullableID(f.HS4ID),
		f.ThaipValue.StringFixed(2), f.DollarValue.StringFixed(2),
		f.Size, f.Month, f.Year,
	}
}

func nullableID(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

// SourceColumns is the insert column order for SourceRecord.Values (id excluded).
var SourceColumns = []string{
	"country", "hs2dg", "description_hs2dg", "hs4dg", "description_hs4dg",
	"thaip_value", "dollar_value", "size", "month", "year",
}

// Values returns the bind values in SourceColumns order.
func (r SourceRecord) Values() []any {
	return []any{
		r.Country, r.HS2Code, r.HS2Description, r.HS4Code, r.HS4Description,
		r.ThaipValue, r.DollarValue, r.Size, r.Month, r.Year,
	}
}

// TableCounts reports the row count of every star-schema table.
type TableCounts struct {
	Facts     int64 `json:"fact_export_th"`
	Countries int64 `json:"dim_country"`
	HS2       int64 `json:"dim_hs2"`
	HS4       int64 `json:"dim_hs4"`
}

// FactQuery filters and pages FactDetails. Nil Year/Month means no filter.
// Page is zero-based.
type FactQuery struct {
	Year  *int
	Month *int
	Page  int
	Size  int
}

// FactDetail is a fact row joined with its dimension labels. Dimension fields
// are empty when the fact's foreign key is NULL.
type FactDetail struct {
	FactID         int64           `json:"factId"`
	Country        string          `json:"country"`
	HS2Code        string          `json:"hs2Code"`
	HS2Description string          `json:"hs2Description"`
	HS4Code        string          `json:"hs4Code"`
	HS4Description string          `json:"hs4Description"`
	ThaipValue     decimal.Decimal `json:"thaipValue"`
	DollarValue    decimal.Decimal `json:"dollarValue"`
	Size           string          `json:"size"`
	Month          int             `json:"month"`
	Year           int             `json:"year"`
}

// FactPage is one page of FactDetails.
type FactPage struct {
	Content       []FactDetail `json:"content"`
	Page          int          `json:"page"`
	Size          int          `json:"size"`
	TotalElements int64        `json:"totalElements"`
	TotalPages    int          `json:"totalPages"`
}

// FactTotals sums both money columns over a year (and optionally a month).
type FactTotals struct {
	TotalThaipValue  decimal.Decimal `json:"totalThaipValue"`
	TotalDollarValue decimal.Decimal `json:"totalDollarValue"`
	RecordCount      int64           `json:"recordCount"`
}

// RankedValue is one entry of a top-N ranking by summed thaip value.
type RankedValue struct {
	Label       string          `json:"label"`
	TotalValue  decimal.Decimal `json:"totalValue"`
	RecordCount int64           `json:"recordCount"`
}

// FactSummary groups facts by country and hs2 description.
type FactSummary struct {
	Country          string          `json:"country"`
	HS2Category      string          `json:"hs2Category"`
	TotalThaipValue  decimal.Decimal `json:"totalThaipValue"`
	TotalDollarValue decimal.Decimal `json:"totalDollarValue"`
	RecordCount      int64           `json:"recordCount"`
}

// NormalizePage applies the defaults used by the reporting API (page 0, size 10)
// and caps the page size.
func (q FactQuery) NormalizePage() FactQuery {
	if q.Page < 0 {
		q.Page = 0
	}
	if q.Size <= 0 {
		q.Size = 10
	}
	if q.Size > 1000 {
		q.Size = 1000
	}
	return q
}

// Offset returns the row offset of the requested page.
func (q FactQuery) Offset() int { return q.Page * q.Size }

// NewFactPage fills paging totals.
func NewFactPage(content []FactDetail, q FactQuery, total int64) FactPage {
	pages := 0
	if q.Size > 0 {
		pages = int((total + int64(q.Size) - 1) / int64(q.Size))
	}
	if content == nil {
		content = []FactDetail{}
	}
	return FactPage{Content: content, Page: q.Page, Size: q.Size, TotalElements: total, TotalPages: pages}
}
