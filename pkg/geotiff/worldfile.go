package geotiff

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ParseWorldFile reads an ESRI world file (.jgw, .tfw): six lines holding
// pixel width, row rotation, column rotation, pixel height (negative), and the
// model coordinates of the centre of the upper-left pixel.
func ParseWorldFile(r io.Reader, epsg int) (GeoReference, error) {
	var vals []float64
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return GeoReference{}, fmt.Errorf("invalid world file value %q: %w", line, err)
		}
		vals = append(vals, v)
	}
	if err := scanner.Err(); err != nil {
		return GeoReference{}, fmt.Errorf("failed to read world file: %w", err)
	}
	if len(vals) != 6 {
		return GeoReference{}, fmt.Errorf("world file must have 6 values, got %d", len(vals))
	}

	a, d, b, e, c, f := vals[0], vals[1], vals[2], vals[3], vals[4], vals[5]
	return GeoReference{
		// Shift from the centre of pixel (0,0) to its outer corner
		Transform: [6]float64{c - 0.5*a - 0.5*b, a, b, f - 0.5*d - 0.5*e, d, e},
		EPSG:      epsg,
	}, nil
}

// ReadWorldFile parses the world file at path
func ReadWorldFile(path string, epsg int) (GeoReference, error) {
	f, err := os.Open(path)
	if err != nil {
		return GeoReference{}, fmt.Errorf("failed to open world file %s: %w", path, err)
	}
	defer f.Close()
	return ParseWorldFile(f, epsg)
}
