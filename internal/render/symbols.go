package render

import (
	"math"

	"github.com/go-pdf/fpdf"
)

type shape int

const (
	shapeStar shape = iota
	shapeTriangle
	shapeInvertedTriangle
	shapeDiamond
	shapeSquare
	shapeCircle
)

type rgb struct{ r, g, b int }

var (
	colorRed     = rgb{255, 0, 0}
	colorGreen   = rgb{0, 128, 0}
	colorBlue    = rgb{0, 0, 255}
	colorGray    = rgb{190, 190, 190}
	colorBlack   = rgb{0, 0, 0}
	colorYellow  = rgb{255, 255, 0}
	colorMagenta = rgb{255, 0, 255}
	colorOutline = rgb{128, 128, 128}
	colorWater   = rgb{0xCB, 0xE7, 0xFF}
	colorLand    = rgb{0xF4, 0xF1, 0xEA}
	colorGrid    = rgb{170, 170, 170}
)

// symbol is how a station category is drawn
type symbol struct {
	shape shape
	color rgb
}

var stationSymbols = map[string]symbol{
	"GPS":          {shapeStar, colorRed},
	"Seismometer":  {shapeTriangle, colorGreen},
	"Tiltmeter":    {shapeDiamond, colorBlue},
	"Camera":       {shapeSquare, colorBlue},
	"Gas":          {shapeCircle, colorGray},
	"Infrasound":   {shapeInvertedTriangle, colorBlack},
	"User Defined": {shapeStar, colorYellow},
}

var unknownSymbol = symbol{shapeStar, colorMagenta}

func symbolFor(category string) symbol {
	if s, ok := stationSymbols[category]; ok {
		return s
	}
	return unknownSymbol
}

// stationSizePoints is the symbol size for a map zoom level
func stationSizePoints(zoom float64) float64 {
	return (8.0/3.0)*zoom - (13 + 1.0/3.0)
}

// drawSymbol draws s centred on (cx, cy) with an outer diameter of size mm
func drawSymbol(pdf *fpdf.Fpdf, s symbol, cx, cy, size float64) {
	pdf.SetFillColor(s.color.r, s.color.g, s.color.b)
	r := size / 2

	switch s.shape {
	case shapeCircle:
		pdf.Circle(cx, cy, r, "FD")
	case shapeSquare:
		side := size / math.Sqrt2
		pdf.Rect(cx-side/2, cy-side/2, side, side, "FD")
	case shapeDiamond:
		pdf.Polygon(regularPolygon(cx, cy, r, 4, -90, 0), "FD")
	case shapeTriangle:
		pdf.Polygon(regularPolygon(cx, cy, r, 3, -90, 0), "FD")
	case shapeInvertedTriangle:
		pdf.Polygon(regularPolygon(cx, cy, r, 3, 90, 0), "FD")
	default:
		pdf.Polygon(regularPolygon(cx, cy, r, 5, -90, 0.382*r), "FD")
	}
}

// regularPolygon returns the vertices of an n-gon, or an n-pointed star when
// inner > 0. Angles are in degrees, page y grows downwards.
func regularPolygon(cx, cy, r float64, n int, startDeg, inner float64) []fpdf.PointType {
	steps := n
	if inner > 0 {
		steps = n * 2
	}
	pts := make([]fpdf.PointType, 0, steps)
	for i := 0; i < steps; i++ {
		radius := r
		if inner > 0 && i%2 == 1 {
			radius = inner
		}
		a := (startDeg + float64(i)*360/float64(steps)) * math.Pi / 180
		pts = append(pts, fpdf.PointType{X: cx + radius*math.Cos(a), Y: cy + radius*math.Sin(a)})
	}
	return pts
}
