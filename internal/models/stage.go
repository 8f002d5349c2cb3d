package models

import (
	"fmt"
)

// Stage is a step in the map generation pipeline.
// Values are ordered: a job only ever moves to an equal or later stage,
// except Failed which may follow any non-terminal stage.
type Stage int

const (
	StageInitializing Stage = iota
	StageDownloadingHillshade
	StageDecompressing
	StageProcessingHillshade
	StageProcessingUploads
	StageDrawingMap
	StageDrawingCoastlines
	StageAddingScaleBar
	StagePlottingStations
	StageAddingOverview
	StageAddingLegend
	StageSaving
	StageComplete
	StageFailed
)

var stageNames = [...]string{
	StageInitializing:         "Initializing",
	StageDownloadingHillshade: "Downloading Hillshade",
	StageDecompressing:        "Decompressing",
	StageProcessingHillshade:  "Processing Hillshade",
	StageProcessingUploads:    "Processing Uploads",
	StageDrawingMap:           "Drawing Map",
	StageDrawingCoastlines:    "Drawing Coastlines",
	StageAddingScaleBar:       "Adding Scale Bar",
	StagePlottingStations:     "Plotting Stations",
	StageAddingOverview:       "Adding Overview",
	StageAddingLegend:         "Adding Legend",
	StageSaving:               "Saving",
	StageComplete:             "Complete",
	StageFailed:               "Failed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// IsTerminal reports whether no further transitions are allowed
func (s Stage) IsTerminal() bool {
	return s == StageComplete || s == StageFailed
}

// CanAdvanceTo reports whether moving from s to next keeps the status non-regressing.
// Repeating the current stage is allowed so a stage can report percent updates.
func (s Stage) CanAdvanceTo(next Stage) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StageFailed {
		return true
	}
	return next >= s
}

// MarshalText stores stages by name so records stay readable
func (s Stage) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(stageNames) {
		return nil, fmt.Errorf("unknown stage %d", int(s))
	}
	return []byte(stageNames[s]), nil
}

func (s *Stage) UnmarshalText(text []byte) error {
	stage, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = stage
	return nil
}

// ParseStage resolves a stage from its display name
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return StageFailed, fmt.Errorf("unknown stage %q", name)
}
