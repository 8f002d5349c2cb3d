package storage

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mapgen/internal/common"
	"github.com/ternarybob/mapgen/internal/interfaces"
	"github.com/ternarybob/mapgen/internal/storage/badger"
	"github.com/ternarybob/mapgen/internal/storage/sqlite"
)

// NewStorageManager creates a new storage manager based on config
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	switch config.Storage.Type {
	case "sqlite", "":
		return sqlite.NewManager(logger, &config.Storage.SQLite)
	case "badger":
		return badger.NewManager(logger, &config.Storage.Badger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (expected 'sqlite' or 'badger')", config.Storage.Type)
	}
}

// SupportsMultiProcess reports whether worker processes can open the store
// while the serving process holds it
func SupportsMultiProcess(config *common.Config) bool {
	return config.Storage.Type != "badger"
}
