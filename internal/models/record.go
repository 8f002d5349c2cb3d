package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrStatusRegression is returned when a transition would move a job backwards
var ErrStatusRegression = errors.New("status regression")

// Uploads are the files a client attached to a request
type Uploads struct {
	Image     string `json:"image"`
	WorldFile string `json:"world_file,omitempty"`
}

// JobRecord is the persisted state of one map request.
// OutputPath is non-empty exactly when Stage is StageComplete.
type JobRecord struct {
	ID         string    `json:"id"`
	ChannelID  string    `json:"channel_id,omitempty"`
	Params     MapParams `json:"params"`
	Stage      Stage     `json:"stage"`
	Status     Status    `json:"status"`
	OutputPath string    `json:"output_path,omitempty"`
	Uploads    *Uploads  `json:"uploads,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewJobRecord creates the record written when a request is accepted
func NewJobRecord(id string, params MapParams) *JobRecord {
	now := time.Now().UTC()
	return &JobRecord{
		ID:        id,
		Params:    params,
		Stage:     StageInitializing,
		Status:    StageStatus(StageInitializing),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Advance moves the record to stage with the given status
func (r *JobRecord) Advance(stage Stage, status Status) error {
	if stage == StageComplete {
		return fmt.Errorf("use Complete to finish job %s", r.ID)
	}
	if stage == StageFailed {
		return fmt.Errorf("use Fail to fail job %s", r.ID)
	}
	if !r.Stage.CanAdvanceTo(stage) {
		return fmt.Errorf("%w: job %s cannot move from %s to %s", ErrStatusRegression, r.ID, r.Stage, stage)
	}
	r.Stage = stage
	r.Status = status
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete marks the job finished with its output file
func (r *JobRecord) Complete(outputPath string) error {
	if outputPath == "" {
		return fmt.Errorf("job %s cannot complete without an output path", r.ID)
	}
	if !r.Stage.CanAdvanceTo(StageComplete) {
		return fmt.Errorf("%w: job %s cannot move from %s to %s", ErrStatusRegression, r.ID, r.Stage, StageComplete)
	}
	r.Stage = StageComplete
	r.Status = StageStatus(StageComplete)
	r.OutputPath = outputPath
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail marks the job failed. A record that already completed is left alone.
func (r *JobRecord) Fail(cause error) error {
	if r.Stage.IsTerminal() {
		return fmt.Errorf("%w: job %s is already %s", ErrStatusRegression, r.ID, r.Stage)
	}
	r.Stage = StageFailed
	r.Status = StageStatus(StageFailed)
	r.OutputPath = ""
	if cause != nil {
		r.Error = cause.Error()
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// Done reports whether the job reached a terminal stage
func (r *JobRecord) Done() bool {
	return r.Stage.IsTerminal()
}

// Update returns the status update describing the record's current state
func (r *JobRecord) Update() StatusUpdate {
	return StatusUpdate{
		RequestID: r.ID,
		ChannelID: r.ChannelID,
		Stage:     r.Stage,
		Status:    r.Status,
	}
}
