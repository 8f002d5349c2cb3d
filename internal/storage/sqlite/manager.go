package sqlite

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mapgen/internal/common"
	"github.com/ternarybob/mapgen/internal/interfaces"
)

// Manager implements the StorageManager interface for SQLite
type Manager struct {
	db     *SQLiteDB
	jobs   *JobStorage
	logger arbor.ILogger
}

// NewManager creates a new SQLite storage manager
func NewManager(logger arbor.ILogger, config *common.SQLiteConfig) (interfaces.StorageManager, error) {
	db, err := NewSQLiteDB(logger, config)
	if err != nil {
		return nil, err
	}

	logger.Info().Str("path", config.Path).Msg("SQLite storage manager initialized")

	return &Manager{
		db:     db,
		jobs:   NewJobStorage(db, logger),
		logger: logger,
	}, nil
}

// JobStore returns the job store
func (m *Manager) JobStore() interfaces.JobStore {
	return m.jobs
}

// Compact checkpoints the WAL back into the main database file
func (m *Manager) Compact(ctx context.Context) error {
	if _, err := m.db.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint wal: %w", err)
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}
