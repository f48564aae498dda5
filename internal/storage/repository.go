package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to open a Repository.
//
// When to use:
//   - Use Config when constructing a Repository via Open.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
//   - MaxConns <= 0 lets the backend pick its default. It should be at least the
//     worker pool's max size or chunk workers serialize waiting for connections.
//
// Errors:
//   - Open returns an error if Kind is empty or unsupported.
type Config struct {
	Kind     string
	DSN      string
	MaxConns int
}

// SourceReader reads the denormalized export_th table.
type SourceReader interface {
	// CountSource counts source rows in scope.
	CountSource(ctx context.Context, scope Scope) (int64, error)

	// StreamSource calls fn for every source row in scope in a single forward
	// pass without materializing the result. A non-nil error from fn stops the
	// stream and is returned as-is.
	StreamSource(ctx context.Context, scope Scope, fn func(SourceRecord) error) error

	// PageSource returns at most limit rows in scope starting at offset, in a
	// stable order (source id) so that offset windows partition the scope.
	PageSource(ctx context.Context, scope Scope, offset, limit int) ([]SourceRecord, error)

	// SourceYears lists the distinct raw year values, ascending.
	SourceYears(ctx context.Context) ([]string, error)
}

// SourceWriter appends raw rows to export_th (CSV import).
type SourceWriter interface {
	InsertSource(ctx context.Context, rows []SourceRecord) (int64, error)
}

// DimensionStore reads and appends dimension rows.
type DimensionStore interface {
	// LoadDimensions returns every row of the kind's table.
	LoadDimensions(ctx context.Context, kind DimensionKind) ([]Dimension, error)

	// InsertDimensions bulk-inserts rows (IDs ignored) in one statement batch.
	// Rows that collide with the table's unique key are skipped.
	InsertDimensions(ctx context.Context, kind DimensionKind, rows []Dimension) (int64, error)

	// DimensionExists reports whether a row with the same candidate value exists.
	DimensionExists(ctx context.Context, kind DimensionKind, d Dimension) (bool, error)

	CountDimension(ctx context.Context, kind DimensionKind) (int64, error)
}

// FactStore writes and counts fact rows.
type FactStore interface {
	// InsertFacts writes rows inside a single transaction: all or none.
	InsertFacts(ctx context.Context, rows []FactRecord) (int64, error)

	// CountFacts counts fact rows for a year, or all rows when year is nil.
	CountFacts(ctx context.Context, year *int) (int64, error)
}

// Reporter runs the read-only reporting queries over the star schema.
type Reporter interface {
	FactDetails(ctx context.Context, q FactQuery) (FactPage, error)
	FactTotals(ctx context.Context, year int, month *int) (FactTotals, error)
	TopCountries(ctx context.Context, year, limit int) ([]RankedValue, error)
	TopHS2(ctx context.Context, year, limit int) ([]RankedValue, error)
	FactSummary(ctx context.Context, year int, month *int, limit int) ([]FactSummary, error)
}

// Wiper deletes star-schema rows. It is only reachable inside Maintenance.InTx.
type Wiper interface {
	DeleteAll(ctx context.Context, table string) (int64, error)
	DeleteFactsByYear(ctx context.Context, year int) (int64, error)

	// UnreferencedIDs lists ids of the kind's rows that no fact references.
	UnreferencedIDs(ctx context.Context, kind DimensionKind) ([]int64, error)
	DeleteDimensions(ctx context.Context, kind DimensionKind, ids []int64) (int64, error)
}

// Maintenance is a session pinned to one backend connection, used for resets.
//
// When to use:
//   - Referential-integrity toggles are connection-scoped on some backends
//     (SQLite PRAGMA, Postgres session_replication_role), so the toggle and the
//     deletes must share the session.
//
// Edge cases:
//   - SetIntegrity must be called outside InTx (SQLite ignores the PRAGMA inside
//     a transaction).
//   - Close discards the underlying connection if integrity was disabled and
//     never successfully re-enabled, so a pooled connection never leaks with
//     checks off.
type Maintenance interface {
	SetIntegrity(ctx context.Context, enabled bool) error
	InTx(ctx context.Context, fn func(ctx context.Context, w Wiper) error) error
	Close() error
}

// Repository is the full backend contract: everything the ETL engine, the CSV
// importer and the reporting API need from the relational store.
type Repository interface {
	SourceReader
	SourceWriter
	DimensionStore
	FactStore
	Reporter

	// EnsureTables creates the star schema and source table if missing.
	EnsureTables(ctx context.Context) error

	// Maintenance opens a pinned session for resets. Callers must Close it.
	Maintenance(ctx context.Context) (Maintenance, error)

	// Close releases backend resources. Call once at shutdown.
	Close()
}

// Factory opens a Repository for a backend kind.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty, f is nil, or kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// Open constructs a Repository using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with Register.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func Open(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
