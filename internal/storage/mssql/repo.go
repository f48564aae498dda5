package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"

	"tradeetl/internal/storage"
	"tradeetl/internal/storage/sqldb"
	"tradeetl/internal/storage/sqlq"
)

func init() {
	storage.Register("mssql", New)
}

// Options for the SQL Server backend. NOCHECK on the fact table disables its
// foreign keys, which is the only table holding references; WITH CHECK
// re-validates existing rows when enabling so the constraints stay trusted.
var Options = sqldb.Options{
	Dialect:      sqlq.MSSQL,
	IntegrityOff: []string{"ALTER TABLE " + storage.TableFact + " NOCHECK CONSTRAINT ALL"},
	IntegrityOn:  []string{"ALTER TABLE " + storage.TableFact + " WITH CHECK CHECK CONSTRAINT ALL"},
}

// defaultMaxConns mirrors the bursty-load pool size used for SQL Server.
const defaultMaxConns = 64

// New opens SQL Server through database/sql and the "sqlserver" driver, and
// validates connectivity via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return sqldb.New(db, Options), nil
}
