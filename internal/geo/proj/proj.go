// Package proj implements the handful of coordinate reference systems the
// service meets: WGS84 geographic, Web Mercator and Alaska Albers.
package proj

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Projection converts between geographic degrees and projected coordinates
type Projection interface {
	EPSG() int
	// Forward maps lon/lat degrees to projected x/y
	Forward(lon, lat float64) (x, y float64)
	// Inverse maps projected x/y to lon/lat degrees
	Inverse(x, y float64) (lon, lat float64)
	// Geographic reports whether x/y are already degrees
	Geographic() bool
}

const (
	EPSGWGS84        = 4326
	EPSGWebMercator  = 3857
	EPSGAlaskaAlbers = 3338
)

// Lookup returns the projection for an EPSG code
func Lookup(code int) (Projection, error) {
	switch code {
	case EPSGWGS84, 4269, 4258, 4267:
		// NAD83, ETRS89 and NAD27 are treated as WGS84
		return Geographic{}, nil
	case EPSGWebMercator, 900913:
		return WebMercator{}, nil
	case EPSGAlaskaAlbers:
		return AlaskaAlbers(), nil
	default:
		return nil, fmt.Errorf("unsupported projection EPSG:%d", code)
	}
}

// ParseEPSG accepts "EPSG:3338", "epsg:3338" or "3338"
func ParseEPSG(s string) (int, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		if !strings.EqualFold(s[:i], "EPSG") {
			return 0, fmt.Errorf("unsupported authority in %q", s)
		}
		s = s[i+1:]
	}
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid EPSG code %q: %w", s, err)
	}
	return code, nil
}

// Geographic is EPSG:4326, x=lon y=lat
type Geographic struct{}

func (Geographic) EPSG() int                               { return EPSGWGS84 }
func (Geographic) Geographic() bool                        { return true }
func (Geographic) Forward(lon, lat float64) (x, y float64) { return lon, lat }
func (Geographic) Inverse(x, y float64) (lon, lat float64) { return x, y }

const webMercatorRadius = 6378137.0

// maxMercatorLat keeps the Mercator y finite
const maxMercatorLat = 85.05112878

// WebMercator is EPSG:3857 (spherical Mercator)
type WebMercator struct{}

func (WebMercator) EPSG() int        { return EPSGWebMercator }
func (WebMercator) Geographic() bool { return false }

func (WebMercator) Forward(lon, lat float64) (x, y float64) {
	lat = math.Max(-maxMercatorLat, math.Min(maxMercatorLat, lat))
	return webMercatorRadius * rad(lon), webMercatorRadius * MercatorY(lat)
}

func (WebMercator) Inverse(x, y float64) (lon, lat float64) {
	return deg(x / webMercatorRadius), InverseMercatorY(y / webMercatorRadius)
}

// MercatorY is the unit-sphere Mercator ordinate for a latitude in degrees
func MercatorY(lat float64) float64 {
	lat = math.Max(-maxMercatorLat, math.Min(maxMercatorLat, lat))
	return math.Log(math.Tan(math.Pi/4 + rad(lat)/2))
}

// InverseMercatorY returns the latitude in degrees for a unit-sphere Mercator ordinate
func InverseMercatorY(y float64) float64 {
	return deg(2*math.Atan(math.Exp(y)) - math.Pi/2)
}

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }
