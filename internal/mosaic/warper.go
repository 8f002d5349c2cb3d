package mosaic

import (
	"context"
	"errors"
	"fmt"
	"image"
	stddraw "image/draw"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/ternarybob/mapgen/internal/geo"
	"github.com/ternarybob/mapgen/internal/geo/proj"
	"github.com/ternarybob/mapgen/internal/interfaces"
	"github.com/ternarybob/mapgen/pkg/geotiff"
)

// edgeSamples is the number of points taken along each raster edge when
// projecting its outline to degrees
const edgeSamples = 16

// GeoTIFFWarper reprojects GeoTIFF and JPEG+world-file rasters to EPSG:4326
// GeoTIFFs. Output is capped at maxPixels on its longer side.
type GeoTIFFWarper struct {
	maxPixels int
	logger    arbor.ILogger
}

var _ interfaces.Warper = (*GeoTIFFWarper)(nil)

func NewGeoTIFFWarper(maxPixels int, logger arbor.ILogger) *GeoTIFFWarper {
	if maxPixels <= 0 {
		maxPixels = 4096
	}
	return &GeoTIFFWarper{maxPixels: maxPixels, logger: logger}
}

// source is an opened raster with its resolved reference and projection
type source struct {
	width, height int
	ref           geotiff.GeoReference
	projection    proj.Projection
}

func isJPEG(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".jpg" || ext == ".jpeg"
}

// resolve reads size and georeference without decoding pixels
func (w *GeoTIFFWarper) resolve(path string, sourceEPSG int, worldFile string) (*source, error) {
	var (
		width, height int
		ref           geotiff.GeoReference
		err           error
	)

	if isJPEG(path) {
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, openErr)
		}
		cfg, decodeErr := jpeg.DecodeConfig(f)
		f.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, decodeErr)
		}
		width, height = cfg.Width, cfg.Height
		err = geotiff.ErrNoGeoReference
	} else {
		width, height, ref, err = geotiff.ReadInfo(path)
	}

	if errors.Is(err, geotiff.ErrNoGeoReference) && worldFile != "" {
		ref, err = geotiff.ReadWorldFile(worldFile, sourceEPSG)
	}
	if err != nil {
		return nil, err
	}

	if sourceEPSG != 0 {
		ref.EPSG = sourceEPSG
	}
	if ref.EPSG == 0 {
		ref.EPSG = proj.EPSGWGS84
	}

	projection, err := proj.Lookup(ref.EPSG)
	if err != nil {
		return nil, err
	}

	return &source{width: width, height: height, ref: ref, projection: projection}, nil
}

// extent projects the raster outline to degrees
func (s *source) extent() (geo.Bounds, error) {
	var lons, lats []float64
	w, h := float64(s.width), float64(s.height)

	for i := 0; i <= edgeSamples; i++ {
		t := float64(i) / edgeSamples
		for _, p := range [][2]float64{{t * w, 0}, {t * w, h}, {0, t * h}, {w, t * h}} {
			x, y := s.ref.PixelToModel(p[0], p[1])
			lon, lat := s.projection.Inverse(x, y)
			if math.IsNaN(lon) || math.IsNaN(lat) {
				continue
			}
			lons = append(lons, lon)
			lats = append(lats, lat)
		}
	}

	return geo.ExtentFromCorners(lons, lats)
}

// Extent returns the raster's extent in degrees
func (w *GeoTIFFWarper) Extent(ctx context.Context, path string, sourceEPSG int, worldFile string) (geo.Bounds, error) {
	src, err := w.resolve(path, sourceEPSG, worldFile)
	if err != nil {
		return geo.Bounds{}, err
	}
	return src.extent()
}

// Warp reprojects req.Source to an EPSG:4326 GeoTIFF at req.Dest. The output
// window is req.OutputBounds when set, otherwise the source extent; pixels
// outside the source are transparent.
func (w *GeoTIFFWarper) Warp(ctx context.Context, req interfaces.WarpRequest) error {
	src, err := w.resolve(req.Source, req.SourceEPSG, req.WorldFile)
	if err != nil {
		return err
	}

	extent, err := src.extent()
	if err != nil {
		return fmt.Errorf("failed to compute extent of %s: %w", req.Source, err)
	}

	window := extent
	if req.OutputBounds != nil {
		window = *req.OutputBounds
	}
	if !window.Valid() {
		return fmt.Errorf("output window %s is empty", window)
	}

	img, err := decode(req.Source)
	if err != nil {
		return err
	}

	cols, rows := w.outputSize(window, extent, src)
	dlon := window.Width() / float64(cols)
	dlat := window.Height() / float64(rows)

	// Source longitudes are shifted by whole turns onto the window's side of the antimeridian
	wc, _ := window.Center()
	ec, _ := extent.Center()
	lonShift := math.Round((wc-ec)/360) * 360

	dst := image.NewNRGBA(image.Rect(0, 0, cols, rows))

	if src.projection.Geographic() {
		t := src.ref.Transform
		s2d := f64.Aff3{
			t[1] / dlon, t[2] / dlon, (t[0] + lonShift - window.West) / dlon,
			-t[4] / dlat, -t[5] / dlat, (window.North - t[3]) / dlat,
		}
		draw.BiLinear.Transform(dst, s2d, img, img.Bounds(), draw.Src, nil)
	} else {
		if err := resampleProjected(ctx, dst, img, src, window, dlon, dlat, lonShift); err != nil {
			return err
		}
	}

	ref := geotiff.NorthUp(window.West, window.North, dlon, dlat, proj.EPSGWGS84)
	if err := geotiff.WriteFile(req.Dest, dst, ref); err != nil {
		return fmt.Errorf("failed to write %s: %w", req.Dest, err)
	}

	w.logger.Debug().
		Str("source", filepath.Base(req.Source)).
		Str("dest", filepath.Base(req.Dest)).
		Str("window", window.String()).
		Int("cols", cols).
		Int("rows", rows).
		Msg("Warped raster")

	return nil
}

// outputSize keeps roughly the source resolution, capped at maxPixels
func (w *GeoTIFFWarper) outputSize(window, extent geo.Bounds, src *source) (cols, rows int) {
	resLon := extent.Width() / float64(src.width)
	resLat := extent.Height() / float64(src.height)

	c := math.Ceil(window.Width() / resLon)
	r := math.Ceil(window.Height() / resLat)

	if longest := math.Max(c, r); longest > float64(w.maxPixels) {
		scale := float64(w.maxPixels) / longest
		c *= scale
		r *= scale
	}

	return max(1, int(math.Round(c))), max(1, int(math.Round(r)))
}

func decode(path string) (image.Image, error) {
	if isJPEG(path) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		img, err := jpeg.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		return img, nil
	}

	img, _, err := geotiff.ReadFile(path)
	if err != nil && !errors.Is(err, geotiff.ErrNoGeoReference) {
		return nil, err
	}
	return img, nil
}

// resampleProjected fills dst by inverse mapping each output pixel center
// through the source projection and sampling bilinearly
func resampleProjected(ctx context.Context, dst *image.NRGBA, img image.Image, src *source, window geo.Bounds, dlon, dlat, lonShift float64) error {
	b := img.Bounds()
	srcPix := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	stddraw.Draw(srcPix, srcPix.Bounds(), img, b.Min, stddraw.Src)

	cols, rows := dst.Bounds().Dx(), dst.Bounds().Dy()
	for r := 0; r < rows; r++ {
		if r%64 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		lat := window.North - (float64(r)+0.5)*dlat
		for c := 0; c < cols; c++ {
			lon := window.West + (float64(c)+0.5)*dlon - lonShift
			x, y := src.projection.Forward(lon, lat)
			col, row, err := src.ref.ModelToPixel(x, y)
			if err != nil {
				return err
			}
			if px, ok := bilinear(srcPix, col-0.5, row-0.5); ok {
				i := dst.PixOffset(c, r)
				copy(dst.Pix[i:i+4], px[:])
			}
		}
	}
	return nil
}

// bilinear samples m at a pixel-center coordinate
func bilinear(m *image.NRGBA, x, y float64) ([4]uint8, bool) {
	var out [4]uint8
	w, h := m.Bounds().Dx(), m.Bounds().Dy()
	if x < -0.5 || y < -0.5 || x > float64(w)-0.5 || y > float64(h)-0.5 {
		return out, false
	}

	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := x - float64(x0)
	fy := y - float64(y0)

	clampX := func(v int) int { return min(max(v, 0), w-1) }
	clampY := func(v int) int { return min(max(v, 0), h-1) }

	p00 := m.PixOffset(clampX(x0), clampY(y0))
	p10 := m.PixOffset(clampX(x0+1), clampY(y0))
	p01 := m.PixOffset(clampX(x0), clampY(y0+1))
	p11 := m.PixOffset(clampX(x0+1), clampY(y0+1))

	for k := 0; k < 4; k++ {
		top := float64(m.Pix[p00+k])*(1-fx) + float64(m.Pix[p10+k])*fx
		bottom := float64(m.Pix[p01+k])*(1-fx) + float64(m.Pix[p11+k])*fx
		out[k] = uint8(math.Round(top*(1-fy) + bottom*fy))
	}
	return out, true
}
