package models

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/ternarybob/mapgen/internal/geo"
)

// Upload image types posted by the map client
const (
	ImageTypeGeoTIFF = "t" // GeoTIFF carrying its own georeference
	ImageTypeJPEG    = "j" // JPEG plus world file; projection from ImageProjection
)

// Page units for map width and inset placement
const (
	UnitPoints      = "p"
	UnitInches      = "i"
	UnitCentimeters = "c"
)

// MapParams are the rendering inputs of one request. The pipeline reads them;
// only the bounds and zoom influence which elevation data is fetched.
type MapParams struct {
	Width  float64    `json:"width" validate:"gt=0"`
	Unit   string     `json:"unit" validate:"oneof=p i c"`
	Bounds geo.Bounds `json:"bounds"`
	Zoom   float64    `json:"zoom" validate:"gte=0,lte=24"`

	// Position codes ("TL", "BR", "BC" ...); empty disables the element
	ScalePosition    string      `json:"scale,omitempty" validate:"omitempty,mappos"`
	LegendPosition   string      `json:"legend,omitempty" validate:"omitempty,mappos"`
	OverviewPosition string      `json:"overview,omitempty" validate:"omitempty,mappos"`
	OverviewWidth    float64     `json:"overview_width,omitempty" validate:"gte=0"`
	OverviewBounds   *geo.Bounds `json:"overview_bounds,omitempty"`

	ImageType       string `json:"img_type,omitempty" validate:"omitempty,oneof=t j"`
	ImageProjection string `json:"img_proj,omitempty" validate:"omitempty,startswith=EPSG:"`

	Stations []Station `json:"stations,omitempty" validate:"dive"`
	Insets   []Inset   `json:"insets,omitempty" validate:"dive"`
}

// Station is a point symbol plotted on the map
type Station struct {
	Name     string  `json:"name,omitempty"`
	Category string  `json:"category" validate:"required"`
	Lat      float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon      float64 `json:"lon" validate:"gte=-360,lte=360"`
}

// Inset is a detail map drawn inside the main map frame.
// Left, Top, Width and Height are in the request's page unit.
type Inset struct {
	Bounds geo.Bounds `json:"bounds"`
	Zoom   float64    `json:"zoom" validate:"gte=0,lte=24"`
	Left   float64    `json:"left" validate:"gte=0"`
	Top    float64    `json:"top" validate:"gte=0"`
	Width  float64    `json:"width" validate:"gt=0"`
	Height float64    `json:"height" validate:"gt=0"`
}

var positionPattern = regexp.MustCompile(`^[TB][LRC]$`)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func paramsValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("mappos", func(fl validator.FieldLevel) bool {
			return positionPattern.MatchString(fl.Field().String())
		})
		validate.RegisterStructValidation(boundsStructLevel, geo.Bounds{})
	})
	return validate
}

func boundsStructLevel(sl validator.StructLevel) {
	b := sl.Current().Interface().(geo.Bounds)
	if b.South >= b.North {
		sl.ReportError(b.North, "North", "north", "gtsouth", "")
	}
	// Longitude is circular: West=180, East=-180 spans nothing
	if b.Width() == 0 {
		sl.ReportError(b.East, "East", "east", "nezerowidth", "")
	}
}

// Validate checks the parameters before a job is created
func (p *MapParams) Validate() error {
	if err := paramsValidator().Struct(p); err != nil {
		return fmt.Errorf("invalid map parameters: %w", err)
	}
	if p.OverviewPosition != "" && p.OverviewWidth <= 0 {
		return fmt.Errorf("invalid map parameters: overview width is required when an overview is placed")
	}
	return nil
}

// NormalizePosition maps the client's position field to a position code.
// The client sends "False" (or nothing) to disable an element.
func NormalizePosition(v string) string {
	v = strings.ToUpper(strings.TrimSpace(v))
	switch v {
	case "", "FALSE", "NONE", "0":
		return ""
	}
	return v
}

// UnitToMM converts a length in the given page unit to millimetres
func UnitToMM(v float64, unit string) float64 {
	switch unit {
	case UnitInches:
		return v * 25.4
	case UnitCentimeters:
		return v * 10
	default: // points
		return v * 25.4 / 72
	}
}
