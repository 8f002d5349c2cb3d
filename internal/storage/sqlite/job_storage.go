package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mapgen/internal/interfaces"
	"github.com/ternarybob/mapgen/internal/models"
)

// JobStorage implements interfaces.JobStore on SQLite.
// Records are stored as JSON in a TEXT column.
type JobStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

var _ interfaces.JobStore = (*JobStorage)(nil)

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *SQLiteDB, logger arbor.ILogger) *JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// Get retrieves a job record by request id
func (s *JobStorage) Get(ctx context.Context, id string) (*models.JobRecord, error) {
	var data string
	err := s.db.db.QueryRowContext(ctx, `SELECT record FROM jobs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}

	var record models.JobRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &record, nil
}

// Set inserts or replaces a job record in a single statement
func (s *JobStorage) Set(ctx context.Context, id string, record *models.JobRecord) error {
	if record == nil {
		return fmt.Errorf("nil record for job %s", id)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", id, err)
	}

	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = updatedAt
	}

	query := `
		INSERT INTO jobs (id, record, stage, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			record = excluded.record,
			stage = excluded.stage,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.db.ExecContext(ctx, query, id, string(data), record.Stage.String(), createdAt.UnixNano(), updatedAt.UnixNano()); err != nil {
		return fmt.Errorf("failed to set job %s: %w", id, err)
	}
	return nil
}

// Delete removes a job record; missing ids are ignored
func (s *JobStorage) Delete(ctx context.Context, id string) error {
	if _, err := s.db.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return nil
}

// Claim deletes the row and returns the record it held. The statement is a
// single write, so concurrent claims from any process see at most one row.
func (s *JobStorage) Claim(ctx context.Context, id string) (*models.JobRecord, error) {
	var data string
	err := s.db.db.QueryRowContext(ctx, `DELETE FROM jobs WHERE id = ? RETURNING record`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job %s: %w", id, err)
	}

	var record models.JobRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &record, nil
}

// ListUpdatedBefore returns records not updated since cutoff
func (s *JobStorage) ListUpdatedBefore(ctx context.Context, cutoff time.Time) ([]*models.JobRecord, error) {
	rows, err := s.db.db.QueryContext(ctx, `SELECT id, record FROM jobs WHERE updated_at < ? ORDER BY updated_at`, cutoff.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var records []*models.JobRecord
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		var record models.JobRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			s.logger.Warn().Err(err).Str("request_id", id).Msg("Skipping undecodable job record")
			continue
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}
