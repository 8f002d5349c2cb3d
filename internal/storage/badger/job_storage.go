package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/mapgen/internal/interfaces"
	"github.com/ternarybob/mapgen/internal/models"
)

// JobStorage implements interfaces.JobStore on BadgerDB
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.JobStore = (*JobStorage)(nil)

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) *JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// Get retrieves a job record by request id
func (s *JobStorage) Get(ctx context.Context, id string) (*models.JobRecord, error) {
	var record models.JobRecord
	err := s.db.Store().Get(id, &record)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, interfaces.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return &record, nil
}

// Set inserts or replaces a job record
func (s *JobStorage) Set(ctx context.Context, id string, record *models.JobRecord) error {
	if record == nil {
		return fmt.Errorf("nil record for job %s", id)
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	if err := s.db.Store().Upsert(id, record); err != nil {
		return fmt.Errorf("failed to set job %s: %w", id, err)
	}
	return nil
}

// Delete removes a job record; missing ids are ignored
func (s *JobStorage) Delete(ctx context.Context, id string) error {
	err := s.db.Store().Delete(id, &models.JobRecord{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return nil
}

// Claim reads and deletes the record in one transaction. A concurrent claim
// that commits first makes this one conflict, reported as ErrJobNotFound.
func (s *JobStorage) Claim(ctx context.Context, id string) (*models.JobRecord, error) {
	store := s.db.Store()
	var record models.JobRecord
	err := store.Badger().Update(func(tx *badger.Txn) error {
		if err := store.TxGet(tx, id, &record); err != nil {
			return err
		}
		return store.TxDelete(tx, id, &models.JobRecord{})
	})
	if errors.Is(err, badgerhold.ErrNotFound) || errors.Is(err, badger.ErrConflict) {
		return nil, interfaces.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job %s: %w", id, err)
	}
	return &record, nil
}

// ListUpdatedBefore returns records not updated since cutoff
func (s *JobStorage) ListUpdatedBefore(ctx context.Context, cutoff time.Time) ([]*models.JobRecord, error) {
	var all []models.JobRecord
	if err := s.db.Store().Find(&all, nil); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	var records []*models.JobRecord
	for i := range all {
		if all[i].UpdatedAt.Before(cutoff) {
			records = append(records, &all[i])
		}
	}
	return records, nil
}
