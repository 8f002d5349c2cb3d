package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"math"
	"os"
	"strconv"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mapgen/internal/geo"
	"github.com/ternarybob/mapgen/internal/geo/proj"
	"github.com/ternarybob/mapgen/internal/interfaces"
	"github.com/ternarybob/mapgen/internal/models"
	"github.com/ternarybob/mapgen/pkg/geotiff"
)

// Document is one map being composed. It is not safe for concurrent use.
type Document struct {
	pdf             *fpdf.Fpdf
	params          models.MapParams
	main            frame
	defaultOverview geo.Bounds
	minStationZoom  float64
	tr              func(string) string
	logger          arbor.ILogger

	images int

	// Station categories plotted so far, in first-use order, for the legend
	used      map[string]symbol
	usedOrder []string
}

func (d *Document) DrawBasemap(ctx context.Context, layers []interfaces.HillshadeLayer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fillRect(d.pdf, d.main, colorLand)
	return d.drawLayers(d.main, layers)
}

// DrawUploads draws user imagery over the basemap
func (d *Document) DrawUploads(ctx context.Context, layers []interfaces.HillshadeLayer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.drawLayers(d.main, layers)
}

// DrawCoastlines draws the graticule and the annotated map frame
func (d *Document) DrawCoastlines(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.drawGraticule(d.main, true)
	d.drawBorder(d.main, 0.4)
	return d.pdf.Error()
}

// DrawScaleBar draws a kilometre scale an eighth of the map width long
func (d *Document) DrawScaleBar(ctx context.Context, position string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if position == "" {
		return nil
	}

	b := d.main.bounds
	midLat := b.South + b.Height()/2
	metres, err := geo.VincentyDistance(b.West, midLat, b.East, midLat)
	if err != nil {
		return fmt.Errorf("failed to measure map width: %w", err)
	}
	widthKm := metres / 1000
	lengthKm := math.Ceil(widthKm / 8)
	barW := lengthKm / widthKm * d.main.w

	label := strconv.FormatFloat(lengthKm, 'f', -1, 64) + " km"
	d.pdf.SetFont("Helvetica", "", 7)
	boxW := math.Max(barW, d.pdf.GetStringWidth(label)) + 6
	boxH := 9.0

	offY := 6.5
	if position[0] == 'T' {
		offY += 3
	}
	offX := 0.0
	if position[1] == 'L' || position[1] == 'R' {
		offX = 3.75
	}
	x, y := place(d.main, position, boxW, boxH, offX, offY)

	d.pdf.SetLineWidth(0.2)
	d.pdf.SetDrawColor(0, 0, 0)
	d.pdf.SetFillColor(255, 255, 255)
	d.pdf.Rect(x, y, boxW, boxH, "FD")

	barX := x + (boxW-barW)/2
	barY := y + 5.5
	d.pdf.SetFillColor(0, 0, 0)
	d.pdf.Rect(barX, barY, barW/2, 1.5, "FD")
	d.pdf.SetFillColor(255, 255, 255)
	d.pdf.Rect(barX+barW/2, barY, barW/2, 1.5, "FD")

	d.pdf.SetTextColor(0, 0, 0)
	d.pdf.Text(x+(boxW-d.pdf.GetStringWidth(label))/2, y+4, label)

	return d.pdf.Error()
}

// PlotStations draws station symbols on the main map
func (d *Document) PlotStations(ctx context.Context, stations []models.Station) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.plotStations(d.main, stations, d.params.Zoom)
	return d.pdf.Error()
}

func (d *Document) plotStations(f frame, stations []models.Station, zoom float64) {
	if zoom < d.minStationZoom || len(stations) == 0 {
		return
	}

	size := stationSizePoints(zoom) * mmPerPoint
	outline := 0.25
	if zoom < 10 {
		outline = 0.1
	}

	d.pdf.ClipRect(f.x, f.y, f.w, f.h, false)
	d.pdf.SetLineWidth(outline)
	d.pdf.SetDrawColor(colorOutline.r, colorOutline.g, colorOutline.b)
	for _, st := range stations {
		sym := symbolFor(st.Category)
		if _, ok := d.used[st.Category]; !ok {
			d.used[st.Category] = sym
			d.usedOrder = append(d.usedOrder, st.Category)
		}

		px, py := f.point(st.Lon, st.Lat)
		drawSymbol(d.pdf, sym, px, py, size)
	}
	d.pdf.ClipEnd()
}

// DrawOverview draws a locator map of region with a star on the main map's centre
func (d *Document) DrawOverview(ctx context.Context, position string, width float64, region geo.Bounds) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if position == "" {
		return nil
	}
	if !region.Normalized().Valid() {
		region = d.defaultOverview
	}

	widthMM := models.UnitToMM(width, d.params.Unit)
	ov := fitFrame(0, 0, widthMM, 0, region)
	ov.x, ov.y = place(d.main, position, ov.w, ov.h, 1, 1)

	d.pdf.SetLineWidth(1 * mmPerPoint)
	d.pdf.SetDrawColor(0, 0, 0)
	d.pdf.SetFillColor(255, 255, 255)
	d.pdf.Rect(ov.x, ov.y, ov.w, ov.h, "FD")
	fillRect(d.pdf, ov, colorWater)
	d.drawGraticule(ov, false)
	d.drawBorder(ov, 1*mmPerPoint)

	lon, lat := d.main.bounds.Center()
	px, py := ov.point(lon, lat)
	d.pdf.SetLineWidth(0.1)
	d.pdf.SetDrawColor(colorBlue.r, colorBlue.g, colorBlue.b)
	drawSymbol(d.pdf, symbol{shapeStar, colorBlue}, px, py, 16*mmPerPoint)

	return d.pdf.Error()
}

// DrawInset draws a detail map at the inset's page position. Left and Top are
// measured from the bottom-left corner of the main map.
func (d *Document) DrawInset(ctx context.Context, src interfaces.InsetSource) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in := src.Inset
	unit := d.params.Unit
	boxW := models.UnitToMM(in.Width, unit)
	boxH := models.UnitToMM(in.Height, unit)
	x := d.main.x + models.UnitToMM(in.Left, unit)
	y := d.main.y + d.main.h - models.UnitToMM(in.Top, unit)

	d.pdf.SetLineWidth(1 * mmPerPoint)
	d.pdf.SetDrawColor(0, 0, 0)
	d.pdf.SetFillColor(255, 255, 255)
	d.pdf.Rect(x, y, boxW, boxH, "FD")

	f := fitFrame(x, y, boxW, boxH, in.Bounds)
	fillRect(d.pdf, f, colorLand)
	if err := d.drawLayers(f, src.Layers); err != nil {
		return err
	}
	d.drawBorder(f, 0.3)
	d.plotStations(f, d.params.Stations, in.Zoom)

	return d.pdf.Error()
}

// DrawLegend lists the station symbols used on the map
func (d *Document) DrawLegend(ctx context.Context, position string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if position == "" || len(d.usedOrder) == 0 {
		return nil
	}

	const (
		rowH    = 6.0
		symSize = 16 * mmPerPoint
		pad     = 2.0
	)

	d.pdf.SetFont("Helvetica", "", 8)
	textW := 0.0
	for _, name := range d.usedOrder {
		textW = math.Max(textW, d.pdf.GetStringWidth(d.tr(name)))
	}

	boxW := pad + symSize + 3 + textW + pad
	boxH := pad*2 + rowH*float64(len(d.usedOrder))
	x, y := place(d.main, position, boxW, boxH, 2, 2)

	d.pdf.SetLineWidth(1 * mmPerPoint)
	d.pdf.SetDrawColor(0, 0, 0)
	d.pdf.SetFillColor(255, 255, 255)
	d.pdf.Rect(x, y, boxW, boxH, "FD")

	d.pdf.SetLineWidth(0.1)
	d.pdf.SetDrawColor(colorOutline.r, colorOutline.g, colorOutline.b)
	d.pdf.SetTextColor(0, 0, 0)
	for i, name := range d.usedOrder {
		cy := y + pad + rowH*float64(i) + rowH/2
		drawSymbol(d.pdf, d.used[name], x+pad+symSize/2, cy, symSize)
		d.pdf.Text(x+pad+symSize+3, cy+1.2, d.tr(name))
	}

	return d.pdf.Error()
}

// Save writes the document to path and reads it back
func (d *Document) Save(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("failed to write PDF: %w", err)
	}

	pages, err := VerifyPDF(path)
	if err != nil {
		os.Remove(path)
		return err
	}

	d.logger.Debug().Str("path", path).Int("pages", pages).Msg("Map PDF saved")
	return nil
}

func fillRect(pdf *fpdf.Fpdf, f frame, c rgb) {
	pdf.SetFillColor(c.r, c.g, c.b)
	pdf.Rect(f.x, f.y, f.w, f.h, "F")
}

func (d *Document) drawBorder(f frame, width float64) {
	d.pdf.SetLineWidth(width)
	d.pdf.SetDrawColor(0, 0, 0)
	d.pdf.Rect(f.x, f.y, f.w, f.h, "D")
}

// drawGraticule draws meridians and parallels; annotate labels the west and
// south edges
func (d *Document) drawGraticule(f frame, annotate bool) {
	b := f.bounds
	lonStep := tickStep(b.Width())
	latStep := tickStep(b.Height())

	d.pdf.SetLineWidth(0.1)
	d.pdf.SetDrawColor(colorGrid.r, colorGrid.g, colorGrid.b)
	d.pdf.SetFont("Helvetica", "", 6)
	d.pdf.SetTextColor(0, 0, 0)

	for lon := math.Ceil(b.West/lonStep) * lonStep; lon <= b.East+1e-9; lon += lonStep {
		x := f.xAt(lon)
		d.pdf.Line(x, f.y, x, f.y+f.h)
		if annotate {
			label := d.tr(formatDegrees(geo.NormalizeLon(lon), "E", "W"))
			d.pdf.Text(x-d.pdf.GetStringWidth(label)/2, f.y+f.h+3, label)
		}
	}

	for lat := math.Ceil(b.South/latStep) * latStep; lat <= b.North+1e-9; lat += latStep {
		y := f.yAt(lat)
		d.pdf.Line(f.x, y, f.x+f.w, y)
		if annotate {
			label := d.tr(formatDegrees(lat, "N", "S"))
			d.pdf.Text(f.x-d.pdf.GetStringWidth(label)-1, y+1, label)
		}
	}
}

func formatDegrees(v float64, pos, neg string) string {
	v = math.Round(v*10000) / 10000
	hemi := pos
	if v < 0 {
		hemi = neg
		v = -v
	}
	if v == 0 || v == 180 {
		hemi = ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64) + "°" + hemi
}

func (d *Document) drawLayers(f frame, layers []interfaces.HillshadeLayer) error {
	for _, layer := range layers {
		if _, err := os.Stat(layer.Path); err != nil {
			d.logger.Warn().Str("path", layer.Path).Msg("Hillshade layer missing, skipping")
			continue
		}
		if err := d.drawLayer(f, layer); err != nil {
			return err
		}
	}
	return d.pdf.Error()
}

// drawLayer places an EPSG:4326 raster in the frame, resampled to Mercator rows
func (d *Document) drawLayer(f frame, layer interfaces.HillshadeLayer) error {
	img, ref, err := geotiff.ReadFile(layer.Path)
	if err != nil {
		return fmt.Errorf("failed to read hillshade layer: %w", err)
	}

	bounds := img.Bounds()
	t := ref.Transform
	west := t[0]
	north := t[3]
	east := west + float64(bounds.Dx())*t[1]
	south := north + float64(bounds.Dy())*t[5]
	if !(east > west && north > south) {
		return fmt.Errorf("hillshade layer %s is not north-up", layer.Path)
	}

	fc, _ := f.bounds.Center()
	lc := west + (east-west)/2
	shift := geo.UnwrapNear(lc, fc) - lc
	west += shift
	east += shift

	var buf bytes.Buffer
	if err := png.Encode(&buf, toMercatorRows(img, north, south)); err != nil {
		return fmt.Errorf("failed to encode hillshade layer: %w", err)
	}

	d.images++
	name := fmt.Sprintf("layer-%d", d.images)
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	d.pdf.RegisterImageOptionsReader(name, opts, &buf)

	x0, y0 := f.xAt(west), f.yAt(north)
	x1, y1 := f.xAt(east), f.yAt(south)

	d.pdf.ClipRect(f.x, f.y, f.w, f.h, false)
	d.pdf.ImageOptions(name, x0, y0, x1-x0, y1-y0, false, opts, 0, "")
	d.pdf.ClipEnd()

	return d.pdf.Error()
}

// toMercatorRows resamples an equirectangular raster so its rows are evenly
// spaced in Mercator y. Columns are unchanged.
func toMercatorRows(img image.Image, north, south float64) *image.NRGBA {
	b := img.Bounds()
	src := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(src, src.Bounds(), img, b.Min, draw.Src)

	h := b.Dy()
	dst := image.NewNRGBA(src.Bounds())
	yN := proj.MercatorY(north)
	yS := proj.MercatorY(south)
	rowBytes := src.Stride

	for r := 0; r < h; r++ {
		lat := proj.InverseMercatorY(yN - (float64(r)+0.5)/float64(h)*(yN-yS))
		sr := int((north - lat) / (north - south) * float64(h))
		sr = min(max(sr, 0), h-1)
		copy(dst.Pix[r*rowBytes:(r+1)*rowBytes], src.Pix[sr*rowBytes:(sr+1)*rowBytes])
	}
	return dst
}
