package core

import (
	"fmt"

	"spiritcore/internal/config"
	"spiritcore/internal/infra/persistence/memory"
	"spiritcore/internal/infra/persistence/postgres"
	"spiritcore/internal/infra/persistence/sqlite"
	"spiritcore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

type (
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)

// OpenPersistentStore selects a backend from the storage configuration.
// The returned close function releases the backend's database handle.
func OpenPersistentStore(cfg config.StorageConfig, engine *RulesEngine) (PersistentStore, func() error, error) {
	noop := func() error { return nil }
	switch StorageDriver(cfg.Driver) {
	case StorageMemory:
		return memory.NewStore(engine), noop, nil
	case StorageSQLite, "":
		store, err := sqlite.NewStore(cfg.SQLitePath, engine)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case StoragePostgres:
		store, err := postgres.NewStore(cfg.PostgresDSN, engine)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}
