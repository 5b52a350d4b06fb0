package core

import (
	"fmt"

	"triagetree/internal/infra/persistence/memory"
	"triagetree/internal/infra/persistence/postgres"
	"triagetree/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageOptions selects and configures a backend.
type StorageOptions struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
}

// OpenPersistentStore opens the backend named by opts.Driver. An empty driver
// selects the in-memory store.
func OpenPersistentStore(engine *RulesEngine, opts StorageOptions) (PersistentStore, error) {
	switch opts.Driver {
	case "", StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		return sqlite.NewStore(opts.SQLitePath, engine)
	case StoragePostgres:
		return postgres.NewStore(opts.PostgresDSN, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", opts.Driver)
	}
}
