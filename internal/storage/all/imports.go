// Package all registers every storage backend.
package all

import (
	_ "tradeetl/internal/storage/mssql"
	_ "tradeetl/internal/storage/postgres"
	_ "tradeetl/internal/storage/sqlite"
)
