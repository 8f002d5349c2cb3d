// -----------------------------------------------------------------------
// Retention - expires finished jobs and unclaimed map output
// -----------------------------------------------------------------------

package retention

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mapgen/internal/common"
	"github.com/ternarybob/mapgen/internal/interfaces"
)

// Stats summarises one sweep
type Stats struct {
	RecordsDeleted int
	FilesRemoved   int
	Errors         int
	Duration       time.Duration
}

// Service periodically deletes job records, output PDFs and uploads that
// nobody collected within the retention window
type Service struct {
	storage   interfaces.StorageManager
	cacheDir  string
	uploadDir string
	maxAge    time.Duration
	cron      *cron.Cron
	logger    arbor.ILogger
	now       func() time.Time
}

func NewService(storage interfaces.StorageManager, config *common.Config, logger arbor.ILogger) *Service {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	return &Service{
		storage:   storage,
		cacheDir:  config.Paths.CacheDir,
		uploadDir: config.Paths.UploadDir,
		maxAge:    config.Retention.MaxAge,
		cron:      cron.New(cron.WithParser(parser)),
		logger:    logger,
		now:       time.Now,
	}
}

// Start schedules the sweep
func (s *Service) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.runSweep); err != nil {
		return fmt.Errorf("failed to schedule retention sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info().
		Str("schedule", schedule).
		Str("max_age", s.maxAge.String()).
		Msg("Retention scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a running sweep
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Retention scheduler stopped")
}

func (s *Service) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	stats, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Retention sweep failed")
		return
	}

	s.logger.Info().
		Int("records_deleted", stats.RecordsDeleted).
		Int("files_removed", stats.FilesRemoved).
		Int("errors", stats.Errors).
		Str("duration", stats.Duration.String()).
		Msg("Retention sweep completed")
}

// Sweep deletes everything older than the retention window
func (s *Service) Sweep(ctx context.Context) (*Stats, error) {
	start := s.now()
	cutoff := start.Add(-s.maxAge)
	stats := &Stats{}
	store := s.storage.JobStore()

	records, err := store.ListUpdatedBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired jobs: %w", err)
	}

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if record.OutputPath != "" {
			s.remove(record.OutputPath, stats)
		}
		if s.uploadDir != "" {
			s.removeAll(filepath.Join(s.uploadDir, record.ID), stats)
		}

		if err := store.Delete(ctx, record.ID); err != nil {
			s.logger.Warn().Err(err).Str("request_id", record.ID).Msg("Failed to delete expired job")
			stats.Errors++
			continue
		}
		stats.RecordsDeleted++
	}

	s.sweepOrphans(cutoff, stats)

	if stats.RecordsDeleted > 0 {
		if err := s.storage.Compact(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Job store compaction failed")
			stats.Errors++
		}
	}

	stats.Duration = s.now().Sub(start)
	return stats, nil
}

// sweepOrphans removes PDFs in the cache dir that outlived any record pointing at them
func (s *Service) sweepOrphans(cutoff time.Time, stats *Stats) {
	if s.cacheDir == "" {
		return
	}

	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("dir", s.cacheDir).Msg("Failed to read cache dir")
			stats.Errors++
		}
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		s.remove(filepath.Join(s.cacheDir, entry.Name()), stats)
	}
}

func (s *Service) remove(path string, stats *Stats) {
	err := os.Remove(path)
	switch {
	case err == nil:
		stats.FilesRemoved++
	case errors.Is(err, os.ErrNotExist):
	default:
		s.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove expired file")
		stats.Errors++
	}
}

func (s *Service) removeAll(dir string, stats *Stats) {
	if _, err := os.Stat(dir); err != nil {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Warn().Err(err).Str("path", dir).Msg("Failed to remove expired uploads")
		stats.Errors++
		return
	}
	stats.FilesRemoved++
}
