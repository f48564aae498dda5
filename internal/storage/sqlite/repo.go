package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"tradeetl/internal/storage"
	"tradeetl/internal/storage/sqldb"
	"tradeetl/internal/storage/sqlq"
)

func init() {
	storage.Register("sqlite", New)
}

// Options for the SQLite backend. PRAGMA foreign_keys is connection-scoped,
// so it is set through the DSN for every pooled connection and toggled on the
// pinned maintenance connection.
var Options = sqldb.Options{
	Dialect:      sqlq.SQLite,
	IntegrityOff: []string{"PRAGMA foreign_keys = OFF"},
	IntegrityOn:  []string{"PRAGMA foreign_keys = ON"},
}

// defaultPragmas are appended to every DSN that does not set them.
var defaultPragmas = []string{"foreign_keys(1)", "busy_timeout(5000)", "journal_mode(WAL)"}

// New opens a SQLite database through modernc.org/sqlite (no cgo).
//
// Edge cases:
//   - ":memory:" databases are per connection, so the pool is capped at one
//     connection and WAL is not requested.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	memory := isMemory(cfg.DSN)
	db, err := sql.Open("sqlite", withPragmas(cfg.DSN, memory))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	switch {
	case memory:
		db.SetMaxOpenConns(1)
	case cfg.MaxConns > 0:
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return sqldb.New(db, Options), nil
}

func isMemory(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// withPragmas adds _pragma parameters missing from dsn.
func withPragmas(dsn string, memory bool) string {
	var add []string
	for _, p := range defaultPragmas {
		name := p[:strings.IndexByte(p, '(')]
		if memory && name == "journal_mode" {
			continue
		}
		if strings.Contains(dsn, "_pragma="+name) {
			continue
		}
		add = append(add, "_pragma="+p)
	}
	if len(add) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(add, "&")
}
