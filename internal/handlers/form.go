package handlers

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/ternarybob/mapgen/internal/geo"
	"github.com/ternarybob/mapgen/internal/models"
)

// Station icons the map client sends in place of a category
var iconCategories = map[string]string{
	"gps.png":         "GPS",
	"seismometer.png": "Seismometer",
	"tiltmeter.png":   "Tiltmeter",
	"webcam.png":      "Camera",
	"gas.png":         "Gas",
	"infrasound.png":  "Infrasound",
}

// stationField is one "station" form value as posted by the map client
type stationField struct {
	Name     string      `json:"name"`
	Category string      `json:"category"`
	Type     string      `json:"type"`
	Icon     string      `json:"icon"`
	Lat      json.Number `json:"lat"`
	Lon      json.Number `json:"lon"`
}

// parseMapForm builds map parameters from the client's form fields
func parseMapForm(form url.Values) (models.MapParams, error) {
	var params models.MapParams
	var err error

	if params.Width, err = requiredFloat(form, "width"); err != nil {
		return params, err
	}
	params.Unit = strings.ToLower(strings.TrimSpace(form.Get("unit")))

	if params.Bounds, err = parseBoundsField(form.Get("bounds")); err != nil {
		return params, fmt.Errorf("bounds: %w", err)
	}
	if params.Zoom, err = optionalFloat(form, "mapZoom"); err != nil {
		return params, err
	}

	params.ScalePosition = models.NormalizePosition(form.Get("scale"))
	params.LegendPosition = models.NormalizePosition(form.Get("legend"))
	params.OverviewPosition = models.NormalizePosition(form.Get("overview"))
	if params.OverviewWidth, err = optionalFloat(form, "overviewWidth"); err != nil {
		return params, err
	}
	if v := strings.TrimSpace(form.Get("overviewBounds")); v != "" {
		b, err := parseBoundsField(v)
		if err != nil {
			return params, fmt.Errorf("overviewBounds: %w", err)
		}
		params.OverviewBounds = &b
	}

	params.ImageType = strings.ToLower(strings.TrimSpace(form.Get("imgType")))
	params.ImageProjection = strings.ToUpper(strings.TrimSpace(form.Get("imgProj")))

	for _, raw := range form["station"] {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		station, err := parseStation(raw)
		if err != nil {
			return params, err
		}
		params.Stations = append(params.Stations, station)
	}

	if params.Insets, err = parseInsets(form); err != nil {
		return params, err
	}

	return params, nil
}

func parseBoundsField(v string) (geo.Bounds, error) {
	if unescaped, err := url.QueryUnescape(v); err == nil {
		v = unescaped
	}
	return geo.ParseBounds(v)
}

func requiredFloat(form url.Values, name string) (float64, error) {
	if strings.TrimSpace(form.Get(name)) == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	return optionalFloat(form, name)
}

func optionalFloat(form url.Values, name string) (float64, error) {
	v := strings.TrimSpace(form.Get(name))
	if v == "" {
		return 0, nil
	}
	return parseFloat(name, v)
}

func parseFloat(name, v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", name, v)
	}
	return f, nil
}

func parseStation(raw string) (models.Station, error) {
	var field stationField
	if err := json.Unmarshal([]byte(raw), &field); err != nil {
		return models.Station{}, fmt.Errorf("station: invalid JSON: %w", err)
	}

	lat, err := field.Lat.Float64()
	if err != nil {
		return models.Station{}, fmt.Errorf("station %q: invalid lat", field.Name)
	}
	lon, err := field.Lon.Float64()
	if err != nil {
		return models.Station{}, fmt.Errorf("station %q: invalid lon", field.Name)
	}

	category := field.Category
	if category == "" {
		category = field.Type
	}
	if category == "" && field.Icon != "" {
		category = iconCategories[strings.ToLower(path.Base(field.Icon))]
	}
	if category == "" {
		category = "Unknown"
	}

	return models.Station{Name: field.Name, Category: category, Lat: lat, Lon: lon}, nil
}

// parseInsets zips the repeated inset fields; extra values in longer lists are ignored
func parseInsets(form url.Values) ([]models.Inset, error) {
	bounds := form["insetBounds"]
	zooms := form["insetZoom"]
	lefts := form["insetLeft"]
	tops := form["insetTop"]
	widths := form["insetWidth"]
	heights := form["insetHeight"]

	n := len(bounds)
	for _, l := range [][]string{zooms, lefts, tops, widths, heights} {
		if len(l) < n {
			n = len(l)
		}
	}

	insets := make([]models.Inset, 0, n)
	for i := 0; i < n; i++ {
		if strings.TrimSpace(bounds[i]) == "" {
			continue
		}
		b, err := parseBoundsField(bounds[i])
		if err != nil {
			return nil, fmt.Errorf("insetBounds[%d]: %w", i, err)
		}

		inset := models.Inset{Bounds: b}
		fields := []struct {
			name string
			raw  string
			dst  *float64
		}{
			{"insetZoom", zooms[i], &inset.Zoom},
			{"insetLeft", lefts[i], &inset.Left},
			{"insetTop", tops[i], &inset.Top},
			{"insetWidth", widths[i], &inset.Width},
			{"insetHeight", heights[i], &inset.Height},
		}
		for _, f := range fields {
			v, err := parseFloat(f.name, f.raw)
			if err != nil {
				return nil, fmt.Errorf("inset %d: %w", i+1, err)
			}
			*f.dst = v
		}
		insets = append(insets, inset)
	}

	if len(insets) == 0 {
		return nil, nil
	}
	return insets, nil
}
