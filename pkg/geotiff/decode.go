package geotiff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"

	"golang.org/x/image/tiff"
)

// ErrNoGeoReference is returned for a TIFF without model tie points,
// pixel scale or transformation tags
var ErrNoGeoReference = errors.New("tiff has no georeference")

type rawEntry struct {
	datatype uint16
	count    uint32
	value    []byte
}

// ReadGeoReference parses the first IFD of a classic TIFF and returns the
// affine transform and EPSG code carried by its GeoTIFF tags.
// EPSG is 0 when the file has no (or a user-defined) coordinate system key.
func ReadGeoReference(r io.ReaderAt) (GeoReference, error) {
	header := make([]byte, 8)
	if _, err := r.ReadAt(header, 0); err != nil {
		return GeoReference{}, fmt.Errorf("failed to read tiff header: %w", err)
	}

	var order binary.ByteOrder
	switch string(header[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return GeoReference{}, fmt.Errorf("not a tiff file")
	}
	if v := order.Uint16(header[2:4]); v != 42 {
		return GeoReference{}, fmt.Errorf("unsupported tiff version %d", v)
	}

	entries, err := readIFD(r, order, int64(order.Uint32(header[4:8])))
	if err != nil {
		return GeoReference{}, err
	}

	ref := GeoReference{}
	rasterType := uint16(rasterPixelIsArea)

	if keys, ok := entries[TagGeoKeyDirectory]; ok {
		shorts := decodeShorts(order, keys.value)
		if len(shorts) >= 4 {
			n := int(shorts[3])
			var geographic, projected uint16
			for i := 0; i < n && 4+i*4+3 < len(shorts); i++ {
				k := shorts[4+i*4 : 4+i*4+4]
				if k[1] != 0 {
					continue // value lives in another tag
				}
				switch k[0] {
				case keyGTRasterType:
					rasterType = k[3]
				case keyGeographicType:
					geographic = k[3]
				case keyProjectedCSType:
					projected = k[3]
				}
			}
			switch {
			case projected != 0 && projected != userDefined:
				ref.EPSG = int(projected)
			case geographic != 0 && geographic != userDefined:
				ref.EPSG = int(geographic)
			}
		}
	}

	if m, ok := entries[TagModelTransformation]; ok {
		d := decodeDoubles(order, m.value)
		if len(d) < 8 {
			return GeoReference{}, fmt.Errorf("model transformation has %d values", len(d))
		}
		ref.Transform = [6]float64{d[3], d[0], d[1], d[7], d[4], d[5]}
	} else {
		tp, okTie := entries[TagModelTiepoint]
		sc, okScale := entries[TagModelPixelScale]
		if !okTie || !okScale {
			return GeoReference{}, ErrNoGeoReference
		}
		tie := decodeDoubles(order, tp.value)
		scale := decodeDoubles(order, sc.value)
		if len(tie) < 6 || len(scale) < 2 {
			return GeoReference{}, fmt.Errorf("malformed tie point or pixel scale")
		}
		ref.Transform = [6]float64{
			tie[3] - tie[0]*scale[0], scale[0], 0,
			tie[4] + tie[1]*scale[1], 0, -scale[1],
		}
	}

	if rasterType == rasterPixelIsPoint {
		// Tie point names a pixel center; move to the corner
		ref.Transform[0] -= 0.5 * (ref.Transform[1] + ref.Transform[2])
		ref.Transform[3] -= 0.5 * (ref.Transform[4] + ref.Transform[5])
	}

	return ref, nil
}

func readIFD(r io.ReaderAt, order binary.ByteOrder, offset int64) (map[uint16]rawEntry, error) {
	countBuf := make([]byte, 2)
	if _, err := r.ReadAt(countBuf, offset); err != nil {
		return nil, fmt.Errorf("failed to read ifd: %w", err)
	}
	n := int(order.Uint16(countBuf))

	table := make([]byte, 12*n)
	if _, err := r.ReadAt(table, offset+2); err != nil {
		return nil, fmt.Errorf("failed to read ifd entries: %w", err)
	}

	entries := make(map[uint16]rawEntry, n)
	for i := 0; i < n; i++ {
		e := table[i*12 : i*12+12]
		tag := order.Uint16(e[0:2])
		switch tag {
		case TagModelPixelScale, TagModelTiepoint, TagModelTransformation, TagGeoKeyDirectory:
		default:
			continue
		}

		datatype := order.Uint16(e[2:4])
		count := order.Uint32(e[4:8])
		size := int64(typeSize(datatype)) * int64(count)
		if size <= 0 || size > 1<<20 {
			return nil, fmt.Errorf("tag %d has unsupported size", tag)
		}

		value := make([]byte, size)
		if size <= 4 {
			copy(value, e[8:8+size])
		} else if _, err := r.ReadAt(value, int64(order.Uint32(e[8:12]))); err != nil {
			return nil, fmt.Errorf("failed to read tag %d: %w", tag, err)
		}
		entries[tag] = rawEntry{datatype: datatype, count: count, value: value}
	}
	return entries, nil
}

func typeSize(datatype uint16) int {
	switch datatype {
	case dtByte, dtASCII:
		return 1
	case dtShort:
		return 2
	case dtLong:
		return 4
	case dtRational, dtDouble:
		return 8
	}
	return 0
}

func decodeShorts(order binary.ByteOrder, b []byte) []uint16 {
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = order.Uint16(b[i*2:])
	}
	return out
}

func decodeDoubles(order binary.ByteOrder, b []byte) []float64 {
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(order.Uint64(b[i*8:]))
	}
	return out
}

// ReadFile decodes the pixels and georeference of a GeoTIFF.
// A plain TIFF returns ErrNoGeoReference together with its pixels.
func ReadFile(path string) (image.Image, GeoReference, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, GeoReference{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	img, err := tiff.Decode(f)
	if err != nil {
		return nil, GeoReference{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	ref, err := ReadGeoReference(f)
	return img, ref, err
}

// ReadInfo returns the size and georeference without decoding pixels
func ReadInfo(path string) (width, height int, ref GeoReference, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, GeoReference{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := tiff.DecodeConfig(f)
	if err != nil {
		return 0, 0, GeoReference{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	ref, err = ReadGeoReference(f)
	return cfg.Width, cfg.Height, ref, err
}
