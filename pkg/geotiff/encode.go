package geotiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/draw"
	"io"
	"math"
	"os"
	"sort"
)

var le = binary.LittleEndian

type ifdEntry struct {
	tag      uint16
	datatype uint16
	count    uint32
	data     []byte
}

// Encode writes m to w as a single-strip uncompressed little-endian TIFF with
// 8-bit RGBA samples (unassociated alpha), plus the given extra tags.
// Supported tag value types: []uint16 (SHORT), []float64 (DOUBLE), string (ASCII).
func Encode(w io.Writer, m image.Image, extraTags map[uint16]interface{}) error {
	nrgba, ok := m.(*image.NRGBA)
	if !ok {
		b := m.Bounds()
		nrgba = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), m, b.Min, draw.Src)
	}

	width, height := nrgba.Rect.Dx(), nrgba.Rect.Dy()
	if width == 0 || height == 0 {
		return fmt.Errorf("cannot encode empty image")
	}

	pixels := make([]byte, 0, width*height*4)
	for y := 0; y < height; y++ {
		start := y * nrgba.Stride
		pixels = append(pixels, nrgba.Pix[start:start+width*4]...)
	}

	var entries []ifdEntry
	add := func(tag, datatype uint16, count uint32, data []byte) {
		entries = append(entries, ifdEntry{tag, datatype, count, data})
	}

	add(tagImageWidth, dtLong, 1, enc32(uint32(width)))
	add(tagImageLength, dtLong, 1, enc32(uint32(height)))
	add(tagBitsPerSample, dtShort, 4, enc16s([]uint16{8, 8, 8, 8}))
	add(tagCompression, dtShort, 1, enc16s([]uint16{1}))               // none
	add(tagPhotometricInterpretation, dtShort, 1, enc16s([]uint16{2})) // RGB
	add(tagSamplesPerPixel, dtShort, 1, enc16s([]uint16{4}))
	add(tagRowsPerStrip, dtLong, 1, enc32(uint32(height)))
	add(tagXResolution, dtRational, 1, encRational(72, 1))
	add(tagYResolution, dtRational, 1, encRational(72, 1))
	add(tagResolutionUnit, dtShort, 1, enc16s([]uint16{2})) // inch
	add(tagExtraSamples, dtShort, 1, enc16s([]uint16{2}))   // unassociated alpha
	add(tagStripOffsets, dtLong, 1, make([]byte, 4))
	add(tagStripByteCounts, dtLong, 1, enc32(uint32(len(pixels))))

	for tag, val := range extraTags {
		switch v := val.(type) {
		case []uint16:
			add(tag, dtShort, uint32(len(v)), enc16s(v))
		case []float64:
			add(tag, dtDouble, uint32(len(v)), encDoubles(v))
		case string:
			b := append([]byte(v), 0)
			add(tag, dtASCII, uint32(len(b)), b)
		default:
			return fmt.Errorf("unsupported tag value type %T for tag %d", val, tag)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	// Layout: header(8) | IFD | out-of-line values | pixels
	ifdSize := 2 + 12*len(entries) + 4
	valueOffset := 8 + ifdSize

	var values bytes.Buffer
	for i := range entries {
		e := &entries[i]
		if len(e.data) <= 4 {
			continue
		}
		if (valueOffset+values.Len())%2 == 1 {
			values.WriteByte(0) // values start on a word boundary
		}
		offset := uint32(valueOffset + values.Len())
		values.Write(e.data)
		e.data = enc32(offset)
	}

	pixelOffset := uint32(valueOffset + values.Len())
	for i := range entries {
		if entries[i].tag == tagStripOffsets {
			entries[i].data = enc32(pixelOffset)
		}
	}

	var out bytes.Buffer
	out.Write([]byte{'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00})
	_ = binary.Write(&out, le, uint16(len(entries)))
	for _, e := range entries {
		_ = binary.Write(&out, le, e.tag)
		_ = binary.Write(&out, le, e.datatype)
		_ = binary.Write(&out, le, e.count)
		var val [4]byte
		copy(val[:], e.data)
		out.Write(val[:])
	}
	_ = binary.Write(&out, le, uint32(0)) // no next IFD
	values.WriteTo(&out)

	if _, err := out.WriteTo(w); err != nil {
		return err
	}
	if _, err := w.Write(pixels); err != nil {
		return err
	}
	return nil
}

// WriteFile encodes m with the tags of ref into path
func WriteFile(path string, m image.Image, ref GeoReference) error {
	tags, err := ref.Tags()
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := Encode(f, m, tags); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

func enc32(v uint32) []byte {
	b := make([]byte, 4)
	le.PutUint32(b, v)
	return b
}

func enc16s(vs []uint16) []byte {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		le.PutUint16(b[i*2:], v)
	}
	return b
}

func encDoubles(vs []float64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		le.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return b
}

func encRational(num, den uint32) []byte {
	b := make([]byte, 8)
	le.PutUint32(b[:4], num)
	le.PutUint32(b[4:], den)
	return b
}
