package interfaces

import (
	"context"

	"github.com/ternarybob/mapgen/internal/geo"
	"github.com/ternarybob/mapgen/internal/models"
)

// HillshadeLayer is a processed EPSG:4326 raster to draw under the map
type HillshadeLayer struct {
	Path string
}

// InsetSource is the prepared input for one detail inset
type InsetSource struct {
	Inset  models.Inset
	Layers []HillshadeLayer
}

// MapDocument is the plotting collaborator: one call per pipeline drawing stage.
// Implementations are not safe for concurrent use.
type MapDocument interface {
	DrawBasemap(ctx context.Context, layers []HillshadeLayer) error
	DrawUploads(ctx context.Context, layers []HillshadeLayer) error
	DrawCoastlines(ctx context.Context) error
	DrawScaleBar(ctx context.Context, position string) error
	PlotStations(ctx context.Context, stations []models.Station) error
	DrawOverview(ctx context.Context, position string, width float64, region geo.Bounds) error
	DrawInset(ctx context.Context, inset InsetSource) error
	DrawLegend(ctx context.Context, position string) error

	// Save writes the finished document to path
	Save(ctx context.Context, path string) error
}

// Renderer creates a map document for a request
type Renderer interface {
	NewDocument(params models.MapParams) (MapDocument, error)
}
