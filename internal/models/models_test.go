package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/mapgen/internal/geo"
)

func TestStage_Ordering(t *testing.T) {
	assert.True(t, StageInitializing.CanAdvanceTo(StageDownloadingHillshade))
	assert.True(t, StageDownloadingHillshade.CanAdvanceTo(StageDownloadingHillshade))
	assert.True(t, StageDrawingMap.CanAdvanceTo(StageFailed))
	assert.False(t, StageDrawingMap.CanAdvanceTo(StageDecompressing))
	assert.False(t, StageComplete.CanAdvanceTo(StageFailed))
	assert.False(t, StageFailed.CanAdvanceTo(StageComplete))
}

func TestStage_TextRoundTrip(t *testing.T) {
	data, err := json.Marshal(StageProcessingHillshade)
	require.NoError(t, err)
	assert.Equal(t, `"Processing Hillshade"`, string(data))

	var s Stage
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Equal(t, StageProcessingHillshade, s)

	assert.Error(t, json.Unmarshal([]byte(`"Cancelled"`), &s))
}

func TestStatus_JSON(t *testing.T) {
	data, err := json.Marshal(NewStatus("Drawing Map"))
	require.NoError(t, err)
	assert.Equal(t, `"Drawing Map"`, string(data))

	data, err = json.Marshal(NewProgressStatus("Downloading Hillshade", 42.5))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"Downloading Hillshade","progress":42.5}`, string(data))

	var s Status
	require.NoError(t, json.Unmarshal([]byte(`{"status":"Processing Hillshade","progress":150}`), &s))
	assert.Equal(t, "Processing Hillshade", s.Label)
	require.NotNil(t, s.Percent)
	assert.Equal(t, 100.0, *s.Percent)

	require.NoError(t, json.Unmarshal([]byte(`"Saving"`), &s))
	assert.Equal(t, "Saving", s.Label)
	assert.Nil(t, s.Percent)
}

func TestJobRecord_Lifecycle(t *testing.T) {
	rec := NewJobRecord("abc123", MapParams{})
	assert.Equal(t, StageInitializing, rec.Stage)
	assert.Empty(t, rec.OutputPath)

	require.NoError(t, rec.Advance(StageDownloadingHillshade, NewProgressStatus("Downloading Hillshade", 10)))
	require.NoError(t, rec.Advance(StageDrawingMap, StageStatus(StageDrawingMap)))

	err := rec.Advance(StageDecompressing, StageStatus(StageDecompressing))
	assert.True(t, errors.Is(err, ErrStatusRegression))

	assert.Error(t, rec.Complete(""))
	require.NoError(t, rec.Complete("/tmp/out.pdf"))
	assert.True(t, rec.Done())
	assert.Equal(t, "Complete", rec.Status.Label)

	assert.Error(t, rec.Fail(errors.New("late failure")))
	assert.Equal(t, StageComplete, rec.Stage)
	assert.Equal(t, "/tmp/out.pdf", rec.OutputPath)
}

func TestJobRecord_Fail(t *testing.T) {
	rec := NewJobRecord("abc123", MapParams{})
	require.NoError(t, rec.Advance(StageProcessingHillshade, StageStatus(StageProcessingHillshade)))
	require.NoError(t, rec.Fail(errors.New("warp failed")))

	assert.Equal(t, StageFailed, rec.Stage)
	assert.Equal(t, "Failed", rec.Status.Label)
	assert.Equal(t, "warp failed", rec.Error)
	assert.Empty(t, rec.OutputPath)
}

func TestJobRecord_JSONRoundTrip(t *testing.T) {
	rec := NewJobRecord("abc123", MapParams{
		Width:    8,
		Unit:     UnitInches,
		Bounds:   geo.Bounds{West: 170, South: 50, East: -170, North: 55},
		Zoom:     11,
		Stations: []Station{{Name: "AKS", Category: "Seismometer", Lat: 61.1, Lon: -150.2}},
	})
	require.NoError(t, rec.Advance(StageDownloadingHillshade, NewProgressStatus("Downloading Hillshade", 33)))

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var back JobRecord
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, rec.ID, back.ID)
	assert.Equal(t, rec.Stage, back.Stage)
	assert.Equal(t, rec.Params.Stations, back.Params.Stations)
	require.NotNil(t, back.Status.Percent)
	assert.Equal(t, 33.0, *back.Status.Percent)
}

func TestMapParams_Validate(t *testing.T) {
	valid := MapParams{
		Width:          8,
		Unit:           UnitInches,
		Bounds:         geo.Bounds{West: -155, South: 58, East: -150, North: 61},
		Zoom:           9,
		ScalePosition:  "BL",
		LegendPosition: "TR",
		Stations:       []Station{{Category: "GPS", Lat: 60, Lon: -152}},
	}
	require.NoError(t, valid.Validate())

	crossing := valid
	crossing.Bounds = geo.Bounds{West: 170, South: 50, East: -170, North: 55}
	assert.NoError(t, crossing.Validate())

	badUnit := valid
	badUnit.Unit = "m"
	assert.Error(t, badUnit.Validate())

	badPos := valid
	badPos.ScalePosition = "XX"
	assert.Error(t, badPos.Validate())

	badBounds := valid
	badBounds.Bounds = geo.Bounds{West: -155, South: 61, East: -150, North: 58}
	assert.Error(t, badBounds.Validate())

	for _, lons := range [][2]float64{{-152, -152}, {180, -180}, {190, -170}, {-180, -540}} {
		wrapped := valid
		wrapped.Bounds = geo.Bounds{West: lons[0], South: 50, East: lons[1], North: 60}
		assert.Error(t, wrapped.Validate(), "west=%g east=%g", lons[0], lons[1])
	}

	world := valid
	world.Bounds = geo.Bounds{West: -180, South: 50, East: 180, North: 60}
	assert.NoError(t, world.Validate())

	badInset := valid
	badInset.Insets = []Inset{{Bounds: geo.Bounds{West: 180, South: 50, East: -180, North: 60}, Zoom: 9, Width: 2, Height: 2}}
	assert.Error(t, badInset.Validate())

	badStation := valid
	badStation.Stations = []Station{{Category: "", Lat: 60, Lon: -152}}
	assert.Error(t, badStation.Validate())

	noWidth := valid
	noWidth.OverviewPosition = "BR"
	assert.Error(t, noWidth.Validate())
}

func TestNormalizePosition(t *testing.T) {
	assert.Equal(t, "", NormalizePosition("False"))
	assert.Equal(t, "", NormalizePosition(""))
	assert.Equal(t, "BL", NormalizePosition("bl"))
}

func TestUnitToMM(t *testing.T) {
	assert.InDelta(t, 25.4, UnitToMM(1, UnitInches), 1e-9)
	assert.InDelta(t, 10, UnitToMM(1, UnitCentimeters), 1e-9)
	assert.InDelta(t, 25.4, UnitToMM(72, UnitPoints), 1e-9)
}
