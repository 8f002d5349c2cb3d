package mosaic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mapgen/internal/geo"
	"github.com/ternarybob/mapgen/internal/interfaces"
)

type fakeWarper struct {
	extents  map[string]geo.Bounds
	warpErr  error
	requests []interfaces.WarpRequest
}

func (f *fakeWarper) Extent(ctx context.Context, path string, sourceEPSG int, worldFile string) (geo.Bounds, error) {
	b, ok := f.extents[path]
	if !ok {
		return geo.Bounds{}, errors.New("unreadable raster")
	}
	return b, nil
}

func (f *fakeWarper) Warp(ctx context.Context, req interfaces.WarpRequest) error {
	f.requests = append(f.requests, req)
	return f.warpErr
}

func TestBuilder_AlignClampAndSkip(t *testing.T) {
	warper := &fakeWarper{extents: map[string]geo.Bounds{
		"inside.tif":  {West: 172, South: 52, East: 174, North: 54},
		"partial.tif": {West: 168, South: 58, East: 172, North: 62},
		"outside.tif": {West: 10, South: 10, East: 20, North: 20},
		"wrapped.tif": {West: -180, South: 50, East: -175, North: 55},
	}}
	builder := NewBuilder(warper, arbor.NewLogger())

	var reports []float64
	sources := []Source{{Path: "inside.tif"}, {Path: "partial.tif"}, {Path: "outside.tif"}, {Path: "wrapped.tif"}, {Path: "missing.tif"}}
	out, err := builder.Build(context.Background(), sources, geo.Bounds{West: 170, South: 50, East: -170, North: 60}, func(pc float64) {
		reports = append(reports, pc)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"inside.tif-processed.tiff", "partial.tif-processed.tiff", "wrapped.tif-processed.tiff"}, out)
	require.Len(t, warper.requests, 3)

	assert.Nil(t, warper.requests[0].OutputBounds, "contained raster keeps its own extent")

	require.NotNil(t, warper.requests[1].OutputBounds)
	assert.Equal(t, geo.Bounds{West: 170, South: 58, East: 172, North: 60}, *warper.requests[1].OutputBounds)

	require.NotNil(t, warper.requests[2].OutputBounds)
	assert.Equal(t, geo.Bounds{West: 180, South: 50, East: 185, North: 55}, *warper.requests[2].OutputBounds)

	require.Len(t, reports, 5)
	assert.InDelta(t, 20, reports[0], 1e-9)
	assert.InDelta(t, 100, reports[4], 1e-9)
}

func TestBuilder_WarpErrorAborts(t *testing.T) {
	warper := &fakeWarper{
		extents: map[string]geo.Bounds{"a.tif": {West: 1, South: 1, East: 2, North: 2}},
		warpErr: errors.New("disk full"),
	}
	builder := NewBuilder(warper, arbor.NewLogger())

	_, err := builder.Build(context.Background(), []Source{{Path: "a.tif"}}, geo.Bounds{West: 0, South: 0, East: 5, North: 5}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestBuilder_Empty(t *testing.T) {
	builder := NewBuilder(&fakeWarper{}, arbor.NewLogger())
	out, err := builder.Build(context.Background(), nil, geo.Bounds{West: 0, South: 0, East: 5, North: 5}, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestBuilder_OutDir(t *testing.T) {
	warper := &fakeWarper{extents: map[string]geo.Bounds{"/uploads/abc/image.jpg": {West: 1, South: 1, East: 2, North: 2}}}
	builder := NewBuilder(warper, arbor.NewLogger())

	out, err := builder.Build(context.Background(), []Source{{Path: "/uploads/abc/image.jpg", EPSG: 3338, OutDir: "/tmp/job"}}, geo.Bounds{West: 0, South: 0, East: 5, North: 5}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/job/image.jpg-processed.tiff"}, out)
	assert.Equal(t, 3338, warper.requests[0].SourceEPSG)
}
