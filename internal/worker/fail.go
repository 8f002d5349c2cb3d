package worker

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mapgen/internal/interfaces"
)

// failJob marks a job Failed from outside its orchestrator (capacity
// exhausted, worker crashed) and tells its monitoring channel. A job that
// already reached a terminal stage is only re-announced.
func failJob(ctx context.Context, store interfaces.JobStore, sink interfaces.ProgressSink, requestID string, cause error, logger arbor.ILogger) {
	ctx = context.WithoutCancel(ctx)

	record, err := store.Get(ctx, requestID)
	if err != nil {
		logger.Error().Err(err).Str("request_id", requestID).Msg("Failed to load job to mark it failed")
		return
	}

	if !record.Done() {
		if err := record.Fail(cause); err != nil {
			logger.Error().Err(err).Str("request_id", requestID).Msg("Failed to mark job failed")
			return
		}
		if err := store.Set(ctx, requestID, record); err != nil {
			logger.Error().Err(fmt.Errorf("failed to save failed job: %w", err)).Str("request_id", requestID).Msg("Failed to mark job failed")
			return
		}
		logger.Warn().Err(cause).Str("request_id", requestID).Msg("Job marked failed")
	}

	if sink != nil {
		if err := sink.Send(record.Update()); err != nil {
			logger.Warn().Err(err).Str("request_id", requestID).Msg("Failed to send status update")
		}
	}
}
