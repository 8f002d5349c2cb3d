// -----------------------------------------------------------------------
// Map renderer - composes the map PDF with fpdf
// -----------------------------------------------------------------------

package render

import (
	"fmt"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mapgen/internal/common"
	"github.com/ternarybob/mapgen/internal/geo"
	"github.com/ternarybob/mapgen/internal/interfaces"
	"github.com/ternarybob/mapgen/internal/models"
)

// pageMargin leaves room for frame annotations around the map, in mm
const pageMargin = 12.0

// PDFRenderer implements interfaces.Renderer
type PDFRenderer struct {
	config *common.RenderConfig
	logger arbor.ILogger
}

// Compile-time assertion
var _ interfaces.Renderer = (*PDFRenderer)(nil)

// NewPDFRenderer creates a new renderer
func NewPDFRenderer(config *common.RenderConfig, logger arbor.ILogger) *PDFRenderer {
	return &PDFRenderer{
		config: config,
		logger: logger,
	}
}

// NewDocument starts a single-page document sized to the requested map width
func (r *PDFRenderer) NewDocument(params models.MapParams) (interfaces.MapDocument, error) {
	widthMM := models.UnitToMM(params.Width, params.Unit)
	if widthMM <= 0 {
		return nil, fmt.Errorf("map width must be positive, got %g%s", params.Width, params.Unit)
	}
	if !params.Bounds.Normalized().Valid() {
		return nil, fmt.Errorf("map bounds %s are empty", params.Bounds)
	}

	main := fitFrame(pageMargin, pageMargin, widthMM, 0, params.Bounds)

	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: main.w + 2*pageMargin, Ht: main.h + 2*pageMargin},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle("Map "+params.Bounds.String(), false)
	pdf.SetCreator("mapgen "+common.GetVersion(), false)
	pdf.AddPage()

	r.logger.Debug().
		Str("bounds", params.Bounds.String()).
		Str("width_mm", fmt.Sprintf("%.1f", main.w)).
		Str("height_mm", fmt.Sprintf("%.1f", main.h)).
		Msg("Created map document")

	overview, err := geo.FromSlice(r.config.OverviewBounds)
	if err != nil {
		return nil, fmt.Errorf("invalid overview bounds: %w", err)
	}

	return &Document{
		pdf:             pdf,
		params:          params,
		main:            main,
		defaultOverview: overview,
		minStationZoom:  r.config.MinStationZoom,
		tr:              pdf.UnicodeTranslatorFromDescriptor(""),
		used:            make(map[string]symbol),
		logger:          r.logger,
	}, nil
}
