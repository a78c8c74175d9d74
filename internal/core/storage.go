package core

import (
	"fmt"
	"os"

	"autoinsight/internal/infra/persistence/memory"
	"autoinsight/internal/infra/persistence/postgres"
	"autoinsight/internal/infra/persistence/sqlite"
	"autoinsight/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenPersistentStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	AUTOINSIGHT_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	AUTOINSIGHT_SQLITE_PATH: path to sqlite file (default ./autoinsight.db)
//	AUTOINSIGHT_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore() (domain.PersistentStore, error) {
	driver := os.Getenv("AUTOINSIGHT_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(os.Getenv("AUTOINSIGHT_SQLITE_PATH"))
	case StoragePostgres:
		return postgres.NewStore(os.Getenv("AUTOINSIGHT_POSTGRES_DSN"))
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
