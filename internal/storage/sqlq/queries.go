package sqlq

import "tradeetl/internal/storage"

const sourceColumns = "id, country, hs2dg, description_hs2dg, hs4dg, description_hs4dg, " +
	"thaip_value, dollar_value, size, month, year"

func scopeWhere(q *Query, scope storage.Scope) {
	if !scope.All {
		q.S(" WHERE year = ", q.Arg(scope.SourceYear()))
	}
}

// CountSource counts export_th rows in scope.
func CountSource(d Dialect, scope storage.Scope) *Query {
	q := New(d).S("SELECT COUNT(*) FROM ", storage.TableSource)
	scopeWhere(q, scope)
	return q
}

// StreamSource selects every export_th row in scope, ordered by id.
func StreamSource(d Dialect, scope storage.Scope) *Query {
	q := New(d).S("SELECT ", sourceColumns, " FROM ", storage.TableSource)
	scopeWhere(q, scope)
	return q.S(" ORDER BY id")
}

// PageSource selects one offset window of export_th rows in scope. Ordering by
// id makes consecutive windows disjoint.
func PageSource(d Dialect, scope storage.Scope, offset, limit int) *Query {
	q := StreamSource(d, scope)
	lim := q.Arg(limit)
	off := q.Arg(offset)
	return q.S(" ", d.Page(lim, off))
}

// SourceYears selects distinct raw source years.
func SourceYears(d Dialect) *Query {
	return New(d).S("SELECT DISTINCT year FROM ", storage.TableSource,
		" WHERE year IS NOT NULL ORDER BY year")
}

// InsertRows builds a single multi-row INSERT. When ignore is set, rows that
// collide with a unique key are skipped using the dialect's mechanism.
//
// Constraints:
//   - every row must have len(columns) values.
//   - len(rows)*len(columns) must not exceed d.MaxParams.
func InsertRows(d Dialect, table string, columns []string, rows [][]any, ignore bool) *Query {
	q := New(d)
	prefix, suffix := "INSERT INTO "+table, ""
	if ignore {
		prefix, suffix = d.InsertIgnore(table)
	}
	q.S(prefix, " (")
	for i, c := range columns {
		if i > 0 {
			q.S(", ")
		}
		q.S(d.Quote(c))
	}
	q.S(") VALUES ")
	for i, row := range rows {
		if i > 0 {
			q.S(", ")
		}
		q.S("(")
		for j := range columns {
			if j > 0 {
				q.S(", ")
			}
			q.S(q.Arg(row[j]))
		}
		q.S(")")
	}
	return q.S(suffix)
}

// dimensionColumns returns the insertable columns of a dimension kind.
func dimensionColumns(kind storage.DimensionKind) []string {
	switch kind {
	case storage.DimCountry:
		return []string{"country"}
	case storage.DimHS2:
		return []string{"hs2dg", "description"}
	default:
		return []string{"hs4dg", "description"}
	}
}

func dimensionValues(kind storage.DimensionKind, dim storage.Dimension) []any {
	if kind == storage.DimCountry {
		return []any{dim.Label}
	}
	return []any{dim.Code, dim.Label}
}

// DimensionWidth is the bind width of one dimension row.
func DimensionWidth(kind storage.DimensionKind) int { return len(dimensionColumns(kind)) }

// InsertDimensions inserts dimension rows, skipping ones already present.
func InsertDimensions(d Dialect, kind storage.DimensionKind, dims []storage.Dimension) *Query {
	rows := make([][]any, len(dims))
	for i, dim := range dims {
		rows[i] = dimensionValues(kind, dim)
	}
	return InsertRows(d, kind.Table(), dimensionColumns(kind), rows, true)
}

// SelectDimensions selects (id, code, label) for every row of a dimension kind.
// Country rows report code 0.
func SelectDimensions(d Dialect, kind storage.DimensionKind) *Query {
	if kind == storage.DimCountry {
		return New(d).S("SELECT country_id, 0, country FROM ", storage.TableCountry, " ORDER BY country_id")
	}
	cols := dimensionColumns(kind)
	return New(d).S("SELECT ", kind.IDColumn(), ", ", cols[0], ", ", cols[1],
		" FROM ", kind.Table(), " ORDER BY ", kind.IDColumn())
}

// DimensionExists counts rows equal to dim on the kind's unique key.
func DimensionExists(d Dialect, kind storage.DimensionKind, dim storage.Dimension) *Query {
	q := New(d).S("SELECT COUNT(*) FROM ", kind.Table(), " WHERE ")
	vals := dimensionValues(kind, dim)
	for i, c := range dimensionColumns(kind) {
		if i > 0 {
			q.S(" AND ")
		}
		q.S(c, " = ", q.Arg(vals[i]))
	}
	return q
}

// CountTable counts every row of table.
func CountTable(d Dialect, table string) *Query {
	return New(d).S("SELECT COUNT(*) FROM ", table)
}

// CountFacts counts fact rows for a year, or all of them when year is nil.
func CountFacts(d Dialect, year *int) *Query {
	q := CountTable(d, storage.TableFact)
	if year != nil {
		q.S(" WHERE year = ", q.Arg(*year))
	}
	return q
}

// DeleteAll removes every row of table.
func DeleteAll(d Dialect, table string) *Query {
	return New(d).S("DELETE FROM ", table)
}

// DeleteFactsByYear removes the fact rows of one year.
func DeleteFactsByYear(d Dialect, year int) *Query {
	q := New(d).S("DELETE FROM ", storage.TableFact, " WHERE year = ")
	q.S(q.Arg(year))
	return q
}

// UnreferencedIDs selects ids of dimension rows no fact row references.
func UnreferencedIDs(d Dialect, kind storage.DimensionKind) *Query {
	id := kind.IDColumn()
	return New(d).S(
		"SELECT d.", id, " FROM ", kind.Table(), " d WHERE NOT EXISTS (SELECT 1 FROM ",
		storage.TableFact, " f WHERE f.", kind.FactColumn(), " = d.", id, ") ORDER BY d.", id,
	)
}

// DeleteDimensionsByID deletes dimension rows by id using an IN list. Callers
// chunk ids to stay under d.MaxParams.
func DeleteDimensionsByID(d Dialect, kind storage.DimensionKind, ids []int64) *Query {
	q := New(d).S("DELETE FROM ", kind.Table(), " WHERE ", kind.IDColumn(), " IN (")
	for i, id := range ids {
		if i > 0 {
			q.S(", ")
		}
		q.S(q.Arg(id))
	}
	return q.S(")")
}

func factFilter(q *Query, alias string, year, month *int) {
	sep := " WHERE "
	if year != nil {
		q.S(sep, alias, "year = ", q.Arg(*year))
		sep = " AND "
	}
	if month != nil {
		q.S(sep, alias, "month = ", q.Arg(*month))
	}
}

// FactDetails selects one page of facts joined with their dimension labels.
func FactDetails(d Dialect, fq storage.FactQuery) *Query {
	q := New(d).S(
		"SELECT f.id, c.country, h2.hs2dg, h2.description, h4.hs4dg, h4.description, ",
		"f.thaip_value, f.dollar_value, f.size, f.month, f.year FROM ", storage.TableFact, " f",
		" LEFT JOIN ", storage.TableCountry, " c ON f.country_id = c.country_id",
		" LEFT JOIN ", storage.TableHS2, " h2 ON f.hs2_id = h2.hs2_id",
		" LEFT JOIN ", storage.TableHS4, " h4 ON f.hs4_id = h4.hs4_id",
	)
	factFilter(q, "f.", fq.Year, fq.Month)
	q.S(" ORDER BY f.id ")
	lim := q.Arg(fq.Size)
	off := q.Arg(fq.Offset())
	return q.S(d.Page(lim, off))
}

// CountFactDetails counts the facts FactDetails pages over.
func CountFactDetails(d Dialect, fq storage.FactQuery) *Query {
	q := New(d).S("SELECT COUNT(*) FROM ", storage.TableFact, " f")
	factFilter(q, "f.", fq.Year, fq.Month)
	return q
}

// FactTotals sums both money columns for a year and optional month.
func FactTotals(d Dialect, year int, month *int) *Query {
	q := New(d).S(
		"SELECT COALESCE(SUM(thaip_value), 0), COALESCE(SUM(dollar_value), 0), COUNT(*) FROM ",
		storage.TableFact,
	)
	factFilter(q, "", &year, month)
	return q
}

// TopCountries ranks countries by summed thaip value for a year.
func TopCountries(d Dialect, year, limit int) *Query {
	return topBy(d, storage.TableCountry, "c", "c.country", "f.country_id = c.country_id", year, limit)
}

// TopHS2 ranks hs2 descriptions by summed thaip value for a year.
func TopHS2(d Dialect, year, limit int) *Query {
	return topBy(d, storage.TableHS2, "h", "h.description", "f.hs2_id = h.hs2_id", year, limit)
}

func topBy(d Dialect, table, alias, label, on string, year, limit int) *Query {
	q := New(d).S(
		"SELECT ", label, ", COALESCE(SUM(f.thaip_value), 0) AS total_value, COUNT(*) AS record_count",
		" FROM ", storage.TableFact, " f JOIN ", table, " ", alias, " ON ", on,
	)
	factFilter(q, "f.", &year, nil)
	q.S(" GROUP BY ", label, " ORDER BY total_value DESC ")
	return q.S(d.Top(q.Arg(clampLimit(limit))))
}

// FactSummary groups facts by country and hs2 description for a year and
// optional month, largest thaip total first.
func FactSummary(d Dialect, year int, month *int, limit int) *Query {
	q := New(d).S(
		"SELECT c.country, h2.description, COALESCE(SUM(f.thaip_value), 0) AS total_thaip,",
		" COALESCE(SUM(f.dollar_value), 0) AS total_dollar, COUNT(*) AS record_count",
		" FROM ", storage.TableFact, " f",
		" LEFT JOIN ", storage.TableCountry, " c ON f.country_id = c.country_id",
		" LEFT JOIN ", storage.TableHS2, " h2 ON f.hs2_id = h2.hs2_id",
	)
	factFilter(q, "f.", &year, month)
	q.S(" GROUP BY c.country, h2.description ORDER BY total_thaip DESC ")
	return q.S(d.Top(q.Arg(clampLimit(limit))))
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 10
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
