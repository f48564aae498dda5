package postgres

import "tradeetl/internal/storage"

func init() {
	storage.Register("postgres", New)
}
