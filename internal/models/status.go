package models

import (
	"encoding/json"
	"fmt"
)

// Status is the client-facing progress of a job: either a bare label
// or a label with a percent complete.
//
// JSON form is the label string when Percent is nil, otherwise
// {"status": label, "progress": percent}.
type Status struct {
	Label   string
	Percent *float64
}

type progressStatus struct {
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
}

// NewStatus returns a label-only status
func NewStatus(label string) Status {
	return Status{Label: label}
}

// NewProgressStatus returns a status carrying a percent complete clamped to [0,100]
func NewProgressStatus(label string, percent float64) Status {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return Status{Label: label, Percent: &percent}
}

// StageStatus returns the label-only status for a stage
func StageStatus(stage Stage) Status {
	return NewStatus(stage.String())
}

func (s Status) String() string {
	if s.Percent == nil {
		return s.Label
	}
	return fmt.Sprintf("%s (%.1f%%)", s.Label, *s.Percent)
}

func (s Status) MarshalJSON() ([]byte, error) {
	if s.Percent == nil {
		return json.Marshal(s.Label)
	}
	return json.Marshal(progressStatus{Status: s.Label, Progress: *s.Percent})
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err == nil {
		*s = Status{Label: label}
		return nil
	}

	var p progressStatus
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("failed to decode status: %w", err)
	}
	*s = NewProgressStatus(p.Status, p.Progress)
	return nil
}

// StatusUpdate is one transition emitted by a running job.
// It travels from the worker to the store, the progress pipe and the relay.
type StatusUpdate struct {
	RequestID string `json:"request_id"`
	ChannelID string `json:"channel_id,omitempty"`
	Stage     Stage  `json:"stage"`
	Status    Status `json:"status"`
}

// Terminal reports whether this update ends the job
func (u StatusUpdate) Terminal() bool {
	return u.Stage.IsTerminal()
}
