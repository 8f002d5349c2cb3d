// Package geo holds the longitude/latitude arithmetic shared by the tile
// fetcher, the mosaic builder and the renderer. Longitude is treated as
// circular everywhere: two values that differ by a multiple of 360 name the
// same meridian, and comparisons are made after unwrapping to the nearest copy.
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Bounds is a geographic rectangle in degrees.
// West may be less than -180 or East greater than 180 to express a box
// that wraps past the antimeridian; West > East means the same thing.
type Bounds struct {
	West  float64 `json:"west" validate:"gte=-360,lte=360"`
	South float64 `json:"south" validate:"gte=-90,lte=90"`
	East  float64 `json:"east" validate:"gte=-360,lte=360"`
	North float64 `json:"north" validate:"gte=-90,lte=90"`
}

// ParseBounds parses "west,south,east,north" (the sw_lng,sw_lat,ne_lng,ne_lat form
// posted by the map client).
func ParseBounds(s string) (Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Bounds{}, fmt.Errorf("bounds must have 4 comma separated values, got %d", len(parts))
	}

	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Bounds{}, fmt.Errorf("invalid bounds value %q: %w", p, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Bounds{}, fmt.Errorf("invalid bounds value %q", p)
		}
		vals[i] = v
	}

	return Bounds{West: vals[0], South: vals[1], East: vals[2], North: vals[3]}, nil
}

// FromSlice builds bounds from [west, south, east, north]
func FromSlice(v []float64) (Bounds, error) {
	if len(v) != 4 {
		return Bounds{}, fmt.Errorf("bounds must have 4 values, got %d", len(v))
	}
	return Bounds{West: v[0], South: v[1], East: v[2], North: v[3]}, nil
}

func (b Bounds) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.West, b.South, b.East, b.North)
}

// Width is the east-west extent in degrees, measured eastward from West
func (b Bounds) Width() float64 {
	w := b.East - b.West
	if w < 0 {
		w += 360
	}
	return w
}

func (b Bounds) Height() float64 {
	return b.North - b.South
}

// Center returns the midpoint, with longitude measured eastward from West
func (b Bounds) Center() (lon, lat float64) {
	return b.West + b.Width()/2, b.South + b.Height()/2
}

// Valid reports whether the box is a non-empty, non-inverted rectangle
func (b Bounds) Valid() bool {
	return b.West < b.East && b.South < b.North
}

// Normalized returns the same area as a single rectangle with West in
// [-180, 180) and East > West. East may exceed 180 when the box wraps.
func (b Bounds) Normalized() Bounds {
	width := b.Width()
	if width >= 360 {
		return Bounds{West: -180, South: b.South, East: 180, North: b.North}
	}
	west := NormalizeLon(b.West)
	return Bounds{West: west, South: b.South, East: west + width, North: b.North}
}

// CrossesAntimeridian reports whether the box, read circularly, spans the
// ±180 meridian. Boxes written with out-of-range longitudes that lie wholly on
// one side (west=-360, east=-350) do not cross.
func (b Bounds) CrossesAntimeridian() bool {
	if b.West >= -180 && b.East <= 180 && b.West <= b.East {
		return false
	}
	n := b.Normalized()
	return n.East > 180 && n.Width() < 360
}

// SplitAntimeridian returns the boxes a catalog with [-180, 180] longitudes
// must be queried with. A crossing box yields exactly two pieces,
// [west, 180] and [-180, east] with both edges normalized; any other box yields
// one piece shifted into range.
func SplitAntimeridian(b Bounds) []Bounds {
	if !b.CrossesAntimeridian() {
		if b.West >= -180 && b.East <= 180 && b.West <= b.East {
			return []Bounds{b}
		}
		return []Bounds{b.Normalized()}
	}

	n := b.Normalized()
	return []Bounds{
		{West: n.West, South: b.South, East: 180, North: b.North},
		{West: -180, South: b.South, East: n.East - 360, North: b.North},
	}
}

// AlignTo shifts b by a whole number of turns so its center is as close as
// possible to target's center. Used before comparing a raster extent with the
// requested bounds when the two were computed on different sides of the
// antimeridian.
func (b Bounds) AlignTo(target Bounds) Bounds {
	bc, _ := b.Center()
	tc, _ := target.Center()
	shift := math.Round((tc-bc)/360) * 360
	if shift == 0 {
		return b
	}
	return Bounds{West: b.West + shift, South: b.South, East: b.East + shift, North: b.North}
}

// ClampTo limits each side of b to target independently.
// The flag reports whether any side moved.
func (b Bounds) ClampTo(target Bounds) (Bounds, bool) {
	out := b
	clamped := false

	if out.West < target.West {
		out.West = target.West
		clamped = true
	}
	if out.East > target.East {
		out.East = target.East
		clamped = true
	}
	if out.South < target.South {
		out.South = target.South
		clamped = true
	}
	if out.North > target.North {
		out.North = target.North
		clamped = true
	}

	return out, clamped
}

// NormalizeLon maps a longitude into [-180, 180)
func NormalizeLon(lon float64) float64 {
	l := math.Mod(lon+180, 360)
	if l < 0 {
		l += 360
	}
	return l - 180
}

// UnwrapNear returns the copy of lon (lon + k*360) closest to ref
func UnwrapNear(lon, ref float64) float64 {
	return lon + math.Round((ref-lon)/360)*360
}

// ExtentFromCorners returns the bounding box of a set of projected corner points.
// Longitudes are unwrapped relative to the first corner so a raster lying
// across the antimeridian gets a contiguous West < East extent.
func ExtentFromCorners(lons, lats []float64) (Bounds, error) {
	if len(lons) == 0 || len(lons) != len(lats) {
		return Bounds{}, fmt.Errorf("need matching, non-empty corner lists")
	}

	ref := lons[0]
	out := Bounds{West: math.Inf(1), South: math.Inf(1), East: math.Inf(-1), North: math.Inf(-1)}
	for i := range lons {
		lon := UnwrapNear(lons[i], ref)
		out.West = math.Min(out.West, lon)
		out.East = math.Max(out.East, lon)
		out.South = math.Min(out.South, lats[i])
		out.North = math.Max(out.North, lats[i])
	}
	return out, nil
}
