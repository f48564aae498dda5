// Package sqldb implements storage.Repository on database/sql for any backend
// described by a sqlq.Dialect. The sqlite and mssql packages configure it.
package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"tradeetl/internal/storage"
	"tradeetl/internal/storage/sqlq"
)

// Options describe the backend-specific parts of a Repo.
type Options struct {
	Dialect sqlq.Dialect

	// IntegrityOff and IntegrityOn run on the pinned maintenance connection,
	// outside any transaction.
	IntegrityOff []string
	IntegrityOn  []string
}

// Repo is a database/sql backed storage.Repository.
type Repo struct {
	db   *sql.DB
	opts Options
}

var _ storage.Repository = (*Repo)(nil)

// New wraps an open *sql.DB. The Repo owns db and closes it on Close.
func New(db *sql.DB, opts Options) *Repo {
	return &Repo{db: db, opts: opts}
}

func (r *Repo) d() sqlq.Dialect { return r.opts.Dialect }

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTables creates the star schema. This method is idempotent.
func (r *Repo) EnsureTables(ctx context.Context) error {
	for _, stmt := range sqlq.DDL(r.d()) {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: ddl %q: %w", r.d().Name, stmt, err)
		}
	}
	return nil
}

// dbtx is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func count(ctx context.Context, q dbtx, query *sqlq.Query) (int64, error) {
	var n int64
	if err := q.QueryRowContext(ctx, query.String(), query.Args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func exec(ctx context.Context, q dbtx, query *sqlq.Query) (int64, error) {
	res, err := q.ExecContext(ctx, query.String(), query.Args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func collect[T any](ctx context.Context, q dbtx, query *sqlq.Query, scanRow func(sqlq.ScanFunc) (T, error)) ([]T, error) {
	rows, err := q.QueryContext(ctx, query.String(), query.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scanRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// inTx runs fn in a transaction on db, committing on success.
func inTx(ctx context.Context, db interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// insertChunked writes rows with as many multi-row statements as the dialect's
// parameter ceiling requires, all inside one transaction.
func (r *Repo) insertChunked(ctx context.Context, width int, n int, build func(start, end int) *sqlq.Query) (int64, error) {
	if n == 0 {
		return 0, nil
	}
	var total int64
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		return storage.Chunk(n, r.d().RowsPerStatement(width), func(start, end int) error {
			affected, err := exec(ctx, tx, build(start, end))
			total += affected
			return err
		})
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// ---- source ----

func (r *Repo) CountSource(ctx context.Context, scope storage.Scope) (int64, error) {
	n, err := count(ctx, r.db, sqlq.CountSource(r.d(), scope))
	if err != nil {
		return 0, fmt.Errorf("%s: count source scope=%s: %w", r.d().Name, scope, err)
	}
	return n, nil
}

func (r *Repo) StreamSource(ctx context.Context, scope storage.Scope, fn func(storage.SourceRecord) error) error {
	q := sqlq.StreamSource(r.d(), scope)
	rows, err := r.db.QueryContext(ctx, q.String(), q.Args...)
	if err != nil {
		return fmt.Errorf("%s: stream source scope=%s: %w", r.d().Name, scope, err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := sqlq.ScanSource(rows.Scan)
		if err != nil {
			return fmt.Errorf("%s: scan source: %w", r.d().Name, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%s: stream source scope=%s: %w", r.d().Name, scope, err)
	}
	return nil
}

func (r *Repo) PageSource(ctx context.Context, scope storage.Scope, offset, limit int) ([]storage.SourceRecord, error) {
	out, err := collect(ctx, r.db, sqlq.PageSource(r.d(), scope, offset, limit), sqlq.ScanSource)
	if err != nil {
		return nil, fmt.Errorf("%s: page source scope=%s offset=%d limit=%d: %w", r.d().Name, scope, offset, limit, err)
	}
	return out, nil
}

func (r *Repo) SourceYears(ctx context.Context) ([]string, error) {
	out, err := collect(ctx, r.db, sqlq.SourceYears(r.d()), func(scan sqlq.ScanFunc) (string, error) {
		var y string
		err := scan(&y)
		return y, err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: source years: %w", r.d().Name, err)
	}
	return out, nil
}

func (r *Repo) InsertSource(ctx context.Context, rows []storage.SourceRecord) (int64, error) {
	n, err := r.insertChunked(ctx, len(storage.SourceColumns), len(rows), func(start, end int) *sqlq.Query {
		vals := make([][]any, 0, end-start)
		for _, rec := range rows[start:end] {
			vals = append(vals, rec.Values())
		}
		return sqlq.InsertRows(r.d(), storage.TableSource, storage.SourceColumns, vals, false)
	})
	if err != nil {
		return 0, fmt.Errorf("%s: insert source: %w", r.d().Name, err)
	}
	return n, nil
}

// ---- dimensions ----

func (r *Repo) LoadDimensions(ctx context.Context, kind storage.DimensionKind) ([]storage.Dimension, error) {
	out, err := collect(ctx, r.db, sqlq.SelectDimensions(r.d(), kind), func(scan sqlq.ScanFunc) (storage.Dimension, error) {
		return sqlq.ScanDimension(kind, scan)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: load %s: %w", r.d().Name, kind.Table(), err)
	}
	return out, nil
}

func (r *Repo) InsertDimensions(ctx context.Context, kind storage.DimensionKind, rows []storage.Dimension) (int64, error) {
	n, err := r.insertChunked(ctx, sqlq.DimensionWidth(kind), len(rows), func(start, end int) *sqlq.Query {
		return sqlq.InsertDimensions(r.d(), kind, rows[start:end])
	})
	if err != nil {
		return 0, fmt.Errorf("%s: insert %s: %w", r.d().Name, kind.Table(), err)
	}
	return n, nil
}

func (r *Repo) DimensionExists(ctx context.Context, kind storage.DimensionKind, dim storage.Dimension) (bool, error) {
	n, err := count(ctx, r.db, sqlq.DimensionExists(r.d(), kind, dim))
	if err != nil {
		return false, fmt.Errorf("%s: exists %s: %w", r.d().Name, kind.Table(), err)
	}
	return n > 0, nil
}

func (r *Repo) CountDimension(ctx context.Context, kind storage.DimensionKind) (int64, error) {
	n, err := count(ctx, r.db, sqlq.CountTable(r.d(), kind.Table()))
	if err != nil {
		return 0, fmt.Errorf("%s: count %s: %w", r.d().Name, kind.Table(), err)
	}
	return n, nil
}

// ---- facts ----

// InsertFacts writes one batch in a single transaction.
func (r *Repo) InsertFacts(ctx context.Context, rows []storage.FactRecord) (int64, error) {
	n, err := r.insertChunked(ctx, len(storage.FactColumns), len(rows), func(start, end int) *sqlq.Query {
		vals := make([][]any, 0, end-start)
		for _, f := range rows[start:end] {
			vals = append(vals, f.Values())
		}
		return sqlq.InsertRows(r.d(), storage.TableFact, storage.FactColumns, vals, false)
	})
	if err != nil {
		return 0, fmt.Errorf("%s: insert facts: %w", r.d().Name, err)
	}
	return n, nil
}

func (r *Repo) CountFacts(ctx context.Context, year *int) (int64, error) {
	n, err := count(ctx, r.db, sqlq.CountFacts(r.d(), year))
	if err != nil {
		return 0, fmt.Errorf("%s: count facts: %w", r.d().Name, err)
	}
	return n, nil
}

// ---- reporting ----

func (r *Repo) FactDetails(ctx context.Context, fq storage.FactQuery) (storage.FactPage, error) {
	fq = fq.NormalizePage()
	total, err := count(ctx, r.db, sqlq.CountFactDetails(r.d(), fq))
	if err != nil {
		return storage.FactPage{}, fmt.Errorf("%s: count fact details: %w", r.d().Name, err)
	}
	rows, err := collect(ctx, r.db, sqlq.FactDetails(r.d(), fq), sqlq.ScanFactDetail)
	if err != nil {
		return storage.FactPage{}, fmt.Errorf("%s: fact details: %w", r.d().Name, err)
	}
	return storage.NewFactPage(rows, fq, total), nil
}

func (r *Repo) FactTotals(ctx context.Context, year int, month *int) (storage.FactTotals, error) {
	q := sqlq.FactTotals(r.d(), year, month)
	t, err := sqlq.ScanTotals(r.db.QueryRowContext(ctx, q.String(), q.Args...).Scan)
	if err != nil {
		return t, fmt.Errorf("%s: fact totals year=%d: %w", r.d().Name, year, err)
	}
	return t, nil
}

func (r *Repo) TopCountries(ctx context.Context, year, limit int) ([]storage.RankedValue, error) {
	out, err := collect(ctx, r.db, sqlq.TopCountries(r.d(), year, limit), sqlq.ScanRanked)
	if err != nil {
		return nil, fmt.Errorf("%s: top countries year=%d: %w", r.d().Name, year, err)
	}
	return out, nil
}

func (r *Repo) TopHS2(ctx context.Context, year, limit int) ([]storage.RankedValue, error) {
	out, err := collect(ctx, r.db, sqlq.TopHS2(r.d(), year, limit), sqlq.ScanRanked)
	if err != nil {
		return nil, fmt.Errorf("%s: top hs2 year=%d: %w", r.d().Name, year, err)
	}
	return out, nil
}

func (r *Repo) FactSummary(ctx context.Context, year int, month *int, limit int) ([]storage.FactSummary, error) {
	out, err := collect(ctx, r.db, sqlq.FactSummary(r.d(), year, month, limit), sqlq.ScanSummary)
	if err != nil {
		return nil, fmt.Errorf("%s: fact summary year=%d: %w", r.d().Name, year, err)
	}
	return out, nil
}

// ---- maintenance ----

// Maintenance pins one connection from the pool for integrity toggles and
// reset transactions.
func (r *Repo) Maintenance(ctx context.Context) (storage.Maintenance, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: pin maintenance conn: %w", r.d().Name, err)
	}
	return &session{conn: conn, opts: r.opts}, nil
}

type session struct {
	conn     *sql.Conn
	opts     Options
	disabled bool
}

func (s *session) SetIntegrity(ctx context.Context, enabled bool) error {
	stmts := s.opts.IntegrityOff
	if enabled {
		stmts = s.opts.IntegrityOn
	}
	for _, stmt := range stmts {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %s: %w", s.opts.Dialect.Name, stmt, err)
		}
	}
	s.disabled = !enabled
	return nil
}

func (s *session) InTx(ctx context.Context, fn func(ctx context.Context, w storage.Wiper) error) error {
	err := inTx(ctx, s.conn, func(tx *sql.Tx) error {
		return fn(ctx, wiper{tx: tx, d: s.opts.Dialect})
	})
	if err != nil {
		return fmt.Errorf("%s: maintenance tx: %w", s.opts.Dialect.Name, err)
	}
	return nil
}

// Close returns the connection to the pool, or discards it when integrity was
// left disabled.
func (s *session) Close() error {
	if s.conn == nil {
		return nil
	}
	conn := s.conn
	s.conn = nil
	if s.disabled {
		err := conn.Raw(func(any) error { return driver.ErrBadConn })
		if !errors.Is(err, driver.ErrBadConn) {
			return errors.Join(err, conn.Close())
		}
		return nil
	}
	return conn.Close()
}

type wiper struct {
	tx *sql.Tx
	d  sqlq.Dialect
}

func (w wiper) DeleteAll(ctx context.Context, table string) (int64, error) {
	n, err := exec(ctx, w.tx, sqlq.DeleteAll(w.d, table))
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	return n, nil
}

func (w wiper) DeleteFactsByYear(ctx context.Context, year int) (int64, error) {
	n, err := exec(ctx, w.tx, sqlq.DeleteFactsByYear(w.d, year))
	if err != nil {
		return 0, fmt.Errorf("delete facts year=%d: %w", year, err)
	}
	return n, nil
}

func (w wiper) UnreferencedIDs(ctx context.Context, kind storage.DimensionKind) ([]int64, error) {
	ids, err := collect(ctx, w.tx, sqlq.UnreferencedIDs(w.d, kind), func(scan sqlq.ScanFunc) (int64, error) {
		var id int64
		err := scan(&id)
		return id, err
	})
	if err != nil {
		return nil, fmt.Errorf("unreferenced %s: %w", kind.Table(), err)
	}
	return ids, nil
}

func (w wiper) DeleteDimensions(ctx context.Context, kind storage.DimensionKind, ids []int64) (int64, error) {
	var total int64
	err := storage.Chunk(len(ids), w.d.MaxParams, func(start, end int) error {
		n, err := exec(ctx, w.tx, sqlq.DeleteDimensionsByID(w.d, kind, ids[start:end]))
		total += n
		return err
	})
	if err != nil {
		return total, fmt.Errorf("delete %s: %w", kind.Table(), err)
	}
	return total, nil
}
