package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/mapgen/internal/geo"
	"github.com/ternarybob/mapgen/internal/models"
)

var (
	// ErrJobNotComplete is returned when a result is requested before the job finished
	ErrJobNotComplete = errors.New("job not complete")

	// ErrJobFailed is returned when the job ended in the Failed state
	ErrJobFailed = errors.New("job failed")
)

// ProgressSink receives every status transition of a running job, in order
type ProgressSink interface {
	Send(update models.StatusUpdate) error
}

// Dispatcher starts generation for an accepted request.
// Dispatch returns once the job is handed off; it does not wait for completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, requestID string) error

	// Wait blocks until in-flight jobs finish or ctx is done
	Wait(ctx context.Context) error
}

// ProgressFunc reports percent complete (0-100) of a long step
type ProgressFunc func(percent float64)

// ElevationFetcher downloads and extracts hillshade rasters covering bounds
// into dir. Upstream failures degrade to fewer (or zero) rasters rather than
// an error; an error means the local filesystem failed.
type ElevationFetcher interface {
	// Download fetches one archive per antimeridian piece of bounds and
	// returns the archive paths that were written
	Download(ctx context.Context, bounds geo.Bounds, dir string, progress ProgressFunc) ([]string, error)

	// Extract unpacks the archives (and archives nested inside them) into
	// dir, keeping only raster files, and returns every raster in dir
	Extract(ctx context.Context, archives []string, dir string) ([]string, error)
}

// WarpRequest describes one reprojection to EPSG:4326
type WarpRequest struct {
	Source string
	Dest   string

	// SourceEPSG overrides the raster's own spatial reference (0 = use embedded)
	SourceEPSG int

	// WorldFile georeferences a raster with no embedded transform
	WorldFile string

	// OutputBounds is the explicit output window; nil lets the source extent decide
	OutputBounds *geo.Bounds
}

// Warper is the raster reprojection collaborator
type Warper interface {
	// Extent returns the raster's geographic extent in degrees
	Extent(ctx context.Context, path string, sourceEPSG int, worldFile string) (geo.Bounds, error)

	// Warp reprojects Source into Dest as EPSG:4326
	Warp(ctx context.Context, req WarpRequest) error
}
