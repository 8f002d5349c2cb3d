package render

import (
	"math"

	"github.com/ternarybob/mapgen/internal/geo"
	"github.com/ternarybob/mapgen/internal/geo/proj"
)

// frame is a Mercator map viewport on the page, in millimetres
type frame struct {
	x, y, w, h float64
	bounds     geo.Bounds // normalized, East > West
	yNorth     float64    // unit-sphere Mercator ordinates of the edges
	ySouth     float64
}

// fitFrame returns the largest frame for b that fits a maxW x maxH box at
// (x, y), centred in the box. A non-positive maxH sizes the height from maxW.
func fitFrame(x, y, maxW, maxH float64, b geo.Bounds) frame {
	n := b.Normalized()
	f := frame{
		bounds: n,
		yNorth: proj.MercatorY(n.North),
		ySouth: proj.MercatorY(n.South),
	}

	aspect := (f.yNorth - f.ySouth) / (n.Width() * math.Pi / 180)
	w, h := maxW, maxW*aspect
	if maxH > 0 && h > maxH {
		h = maxH
		w = h / aspect
	}

	f.w, f.h = w, h
	f.x = x
	f.y = y
	if maxH > 0 {
		f.x += (maxW - w) / 2
		f.y += (maxH - h) / 2
	}
	return f
}

// xAt maps a longitude already in the frame's longitude range
func (f frame) xAt(lon float64) float64 {
	return f.x + (lon-f.bounds.West)/f.bounds.Width()*f.w
}

func (f frame) yAt(lat float64) float64 {
	return f.y + (f.yNorth-proj.MercatorY(lat))/(f.yNorth-f.ySouth)*f.h
}

// point maps any longitude, unwrapped to the copy nearest the frame centre
func (f frame) point(lon, lat float64) (float64, float64) {
	c, _ := f.bounds.Center()
	return f.xAt(geo.UnwrapNear(lon, c)), f.yAt(lat)
}

func (f frame) contains(px, py float64) bool {
	return px >= f.x && px <= f.x+f.w && py >= f.y && py <= f.y+f.h
}

// mmPerPoint converts typographic points to millimetres
const mmPerPoint = 25.4 / 72

// place returns the top-left corner of a w x h box justified inside f by a
// two-letter position code ("TL", "BC" ...), offset dx/dy from the edges
func place(f frame, pos string, w, h, dx, dy float64) (float64, float64) {
	x := f.x + (f.w-w)/2
	y := f.y + dy
	if len(pos) == 2 {
		if pos[0] == 'B' {
			y = f.y + f.h - h - dy
		}
		switch pos[1] {
		case 'L':
			x = f.x + dx
		case 'R':
			x = f.x + f.w - w - dx
		}
	}
	return x, y
}

// tickStep picks a graticule interval giving a handful of lines over span degrees
func tickStep(span float64) float64 {
	for _, s := range []float64{0.01, 0.02, 0.05, 0.1, 0.2, 0.25, 0.5, 1, 2, 5, 10, 15, 30} {
		if span/s <= 6 {
			return s
		}
	}
	return 45
}
