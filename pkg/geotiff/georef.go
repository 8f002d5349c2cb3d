package geotiff

import (
	"fmt"
	"math"
)

// GeoReference maps pixel (col,row) corners to model coordinates with a
// GDAL-style affine transform:
//
//	X = T[0] + col*T[1] + row*T[2]
//	Y = T[3] + col*T[4] + row*T[5]
type GeoReference struct {
	Transform [6]float64
	EPSG      int
}

// NorthUp builds a rotation-free reference from the top-left corner and
// positive pixel sizes
func NorthUp(originX, originY, pixelWidth, pixelHeight float64, epsg int) GeoReference {
	return GeoReference{
		Transform: [6]float64{originX, pixelWidth, 0, originY, 0, -pixelHeight},
		EPSG:      epsg,
	}
}

// PixelToModel returns model coordinates of a pixel-space position
func (g GeoReference) PixelToModel(col, row float64) (x, y float64) {
	t := g.Transform
	return t[0] + col*t[1] + row*t[2], t[3] + col*t[4] + row*t[5]
}

// ModelToPixel inverts the affine transform
func (g GeoReference) ModelToPixel(x, y float64) (col, row float64, err error) {
	t := g.Transform
	det := t[1]*t[5] - t[2]*t[4]
	if det == 0 || math.IsNaN(det) {
		return 0, 0, fmt.Errorf("geotransform is not invertible")
	}
	dx := x - t[0]
	dy := y - t[3]
	col = (t[5]*dx - t[2]*dy) / det
	row = (-t[4]*dx + t[1]*dy) / det
	return col, row, nil
}

// IsNorthUp reports whether the transform has no rotation terms
func (g GeoReference) IsNorthUp() bool {
	return g.Transform[2] == 0 && g.Transform[4] == 0
}

// Corners returns the model coordinates of the four image corners
func (g GeoReference) Corners(width, height int) (xs, ys []float64) {
	w, h := float64(width), float64(height)
	for _, p := range [][2]float64{{0, 0}, {w, 0}, {0, h}, {w, h}} {
		x, y := g.PixelToModel(p[0], p[1])
		xs = append(xs, x)
		ys = append(ys, y)
	}
	return xs, ys
}

// Tags returns the GeoTIFF tags describing this reference, for Encode
func (g GeoReference) Tags() (map[uint16]interface{}, error) {
	if !g.IsNorthUp() {
		return map[uint16]interface{}{
			TagModelTransformation: []float64{
				g.Transform[1], g.Transform[2], 0, g.Transform[0],
				g.Transform[4], g.Transform[5], 0, g.Transform[3],
				0, 0, 0, 0,
				0, 0, 0, 1,
			},
			TagGeoKeyDirectory: g.geoKeys(),
		}, nil
	}

	if g.Transform[1] <= 0 || g.Transform[5] >= 0 {
		return nil, fmt.Errorf("north-up reference needs positive pixel width and negative row step")
	}

	return map[uint16]interface{}{
		TagModelPixelScale: []float64{g.Transform[1], -g.Transform[5], 0},
		TagModelTiepoint:   []float64{0, 0, 0, g.Transform[0], g.Transform[3], 0},
		TagGeoKeyDirectory: g.geoKeys(),
	}, nil
}

func (g GeoReference) geoKeys() []uint16 {
	modelType := uint16(modelTypeProjected)
	crsKey := uint16(keyProjectedCSType)
	if isGeographicEPSG(g.EPSG) {
		modelType = modelTypeGeographic
		crsKey = keyGeographicType
	}
	return []uint16{
		1, 1, 0, 3, // version 1.1.0, 3 keys
		keyGTModelType, 0, 1, modelType,
		keyGTRasterType, 0, 1, rasterPixelIsArea,
		crsKey, 0, 1, uint16(g.EPSG),
	}
}

func isGeographicEPSG(code int) bool {
	switch code {
	case 4326, 4269, 4258, 4267:
		return true
	}
	return false
}
