package jobs

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mapgen/internal/interfaces"
	"github.com/ternarybob/mapgen/internal/models"
)

// reporter applies status transitions to a job record. Each transition is
// written to the store first and then sent to the progress sink, so polling
// and streaming clients see the same sequence.
type reporter struct {
	store  interfaces.JobStore
	sink   interfaces.ProgressSink
	record *models.JobRecord
	logger arbor.ILogger
}

func newReporter(store interfaces.JobStore, sink interfaces.ProgressSink, record *models.JobRecord, logger arbor.ILogger) *reporter {
	return &reporter{store: store, sink: sink, record: record, logger: logger}
}

// stage moves the job to stage with a label-only status
func (r *reporter) stage(ctx context.Context, stage models.Stage, label string) error {
	r.logger.Info().Str("stage", stage.String()).Msg(label)
	return r.apply(ctx, stage, models.NewStatus(label))
}

// progress reports percent complete within stage. Progress is advisory: a
// failed write is logged and the update is dropped from both outputs.
func (r *reporter) progress(ctx context.Context, stage models.Stage, label string, percent float64) {
	if err := r.apply(ctx, stage, models.NewProgressStatus(label, percent)); err != nil {
		r.logger.Warn().Err(err).Str("stage", stage.String()).Msg("Failed to record progress")
	}
}

func (r *reporter) apply(ctx context.Context, stage models.Stage, status models.Status) error {
	prev := *r.record
	if err := r.record.Advance(stage, status); err != nil {
		return err
	}
	if err := r.store.Set(ctx, r.record.ID, r.record); err != nil {
		*r.record = prev
		return fmt.Errorf("failed to save job status: %w", err)
	}
	r.publish()
	return nil
}

// complete records the output path and the Complete status in one write
func (r *reporter) complete(ctx context.Context, outputPath string) error {
	prev := *r.record
	if err := r.record.Complete(outputPath); err != nil {
		return err
	}
	if err := r.store.Set(ctx, r.record.ID, r.record); err != nil {
		*r.record = prev
		return fmt.Errorf("failed to save completed job: %w", err)
	}
	r.publish()
	return nil
}

// fail records the Failed status. The write ignores ctx cancellation so a
// cancelled job still reaches a terminal state.
func (r *reporter) fail(ctx context.Context, cause error) error {
	if err := r.record.Fail(cause); err != nil {
		return err
	}
	if err := r.store.Set(context.WithoutCancel(ctx), r.record.ID, r.record); err != nil {
		return fmt.Errorf("failed to save failed job: %w", err)
	}
	r.publish()
	return nil
}

func (r *reporter) publish() {
	if r.sink == nil {
		return
	}
	if err := r.sink.Send(r.record.Update()); err != nil {
		r.logger.Warn().Err(err).Str("stage", r.record.Stage.String()).Msg("Failed to send status update")
	}
}
