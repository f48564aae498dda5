// Package sqlq builds the SQL text shared by the relational backends.
//
// Builders are pure and deterministic: they return a statement and its bind
// args for a Dialect, so placeholder numbering and per-backend syntax can be
// unit tested without a database.
package sqlq

import (
	"fmt"
	"strings"
)

// Dialect captures the syntax differences between backends.
type Dialect struct {
	Name string

	// Bind renders the n-th (1-based) placeholder.
	Bind func(n int) string

	// Quote quotes an identifier.
	Quote func(id string) string

	// Page renders the clause following ORDER BY for a limit/offset pair of
	// already-rendered placeholders.
	Page func(limit, offset string) string

	// Top renders the clause following ORDER BY for a row limit.
	Top func(limit string) string

	// InsertIgnore renders the verb and trailing clause of an insert that skips
	// rows colliding with a unique key.
	InsertIgnore func(table string) (prefix, suffix string)

	// MaxParams is the per-statement bind parameter ceiling.
	MaxParams int

	// DDL building blocks.
	IdentityPK  string
	BigInt      string
	Text        string
	KeyText     string
	Money       string
	CreateTable func(name, body string) string
	CreateIndex func(name, table string, cols []string, unique bool) string
}

// Postgres is the dialect of the pgx backend.
var Postgres = Dialect{
	Name:  "postgres",
	Bind:  func(n int) string { return fmt.Sprintf("$%d", n) },
	Quote: doubleQuote,
	Page:  func(limit, offset string) string { return "LIMIT " + limit + " OFFSET " + offset },
	Top:   func(limit string) string { return "LIMIT " + limit },
	InsertIgnore: func(table string) (string, string) {
		return "INSERT INTO " + table, " ON CONFLICT DO NOTHING"
	},
	MaxParams:  65535,
	IdentityPK: "BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY",
	BigInt:     "BIGINT",
	Text:       "TEXT",
	KeyText:    "TEXT",
	Money:      "NUMERIC(20,2)",
	CreateTable: func(name, body string) string {
		return "CREATE TABLE IF NOT EXISTS " + name + " (" + body + ")"
	},
	CreateIndex: func(name, table string, cols []string, unique bool) string {
		return "CREATE " + uniqueWord(unique) + "INDEX IF NOT EXISTS " + name + " ON " + table + " (" + strings.Join(cols, ", ") + ")"
	},
}

// SQLite is the dialect of the modernc.org/sqlite backend.
var SQLite = Dialect{
	Name:  "sqlite",
	Bind:  func(int) string { return "?" },
	Quote: doubleQuote,
	Page:  func(limit, offset string) string { return "LIMIT " + limit + " OFFSET " + offset },
	Top:   func(limit string) string { return "LIMIT " + limit },
	InsertIgnore: func(table string) (string, string) {
		return "INSERT OR IGNORE INTO " + table, ""
	},
	MaxParams:  32766,
	IdentityPK: "INTEGER PRIMARY KEY AUTOINCREMENT",
	BigInt:     "INTEGER",
	Text:       "TEXT",
	KeyText:    "TEXT",
	Money:      "NUMERIC(20,2)",
	CreateTable: func(name, body string) string {
		return "CREATE TABLE IF NOT EXISTS " + name + " (" + body + ")"
	},
	CreateIndex: func(name, table string, cols []string, unique bool) string {
		return "CREATE " + uniqueWord(unique) + "INDEX IF NOT EXISTS " + name + " ON " + table + " (" + strings.Join(cols, ", ") + ")"
	},
}

// MSSQL is the dialect of the go-mssqldb backend. Unique indexes are created
// with IGNORE_DUP_KEY so a plain INSERT skips duplicates.
var MSSQL = Dialect{
	Name:  "mssql",
	Bind:  func(n int) string { return fmt.Sprintf("@p%d", n) },
	Quote: func(id string) string { return "[" + strings.ReplaceAll(id, "]", "]]") + "]" },
	// OFFSET precedes FETCH; placeholders are numbered so arg order is free.
	Page: func(limit, offset string) string {
		return "OFFSET " + offset + " ROWS FETCH NEXT " + limit + " ROWS ONLY"
	},
	Top: func(limit string) string { return "OFFSET 0 ROWS FETCH NEXT " + limit + " ROWS ONLY" },
	InsertIgnore: func(table string) (string, string) {
		return "INSERT INTO " + table, ""
	},
	MaxParams:  2000,
	IdentityPK: "BIGINT IDENTITY(1,1) PRIMARY KEY",
	BigInt:     "BIGINT",
	Text:       "NVARCHAR(MAX)",
	KeyText:    "NVARCHAR(400)",
	Money:      "DECIMAL(20,2)",
	CreateTable: func(name, body string) string {
		return "IF OBJECT_ID(N'" + name + "', N'U') IS NULL CREATE TABLE " + name + " (" + body + ")"
	},
	CreateIndex: func(name, table string, cols []string, unique bool) string {
		s := "IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'" + name + "') CREATE " +
			uniqueWord(unique) + "INDEX " + name + " ON " + table + " (" + strings.Join(cols, ", ") + ")"
		if unique {
			s += " WITH (IGNORE_DUP_KEY = ON)"
		}
		return s
	},
}

func doubleQuote(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

func uniqueWord(unique bool) string {
	if unique {
		return "UNIQUE "
	}
	return ""
}

// Query accumulates SQL text and bind args, numbering placeholders in the
// order Arg is called.
type Query struct {
	d    Dialect
	b    strings.Builder
	Args []any
}

// New starts an empty query for d.
func New(d Dialect) *Query { return &Query{d: d} }

// Arg appends v to the bind args and returns its placeholder.
func (q *Query) Arg(v any) string {
	q.Args = append(q.Args, v)
	return q.d.Bind(len(q.Args))
}

// S appends raw SQL text.
func (q *Query) S(parts ...string) *Query {
	for _, p := range parts {
		q.b.WriteString(p)
	}
	return q
}

func (q *Query) String() string { return q.b.String() }

// RowsPerStatement returns how many rows of width cols fit under the dialect's
// parameter ceiling.
func (d Dialect) RowsPerStatement(cols int) int {
	if cols <= 0 {
		return 1
	}
	n := d.MaxParams / cols
	if n < 1 {
		n = 1
	}
	return n
}
