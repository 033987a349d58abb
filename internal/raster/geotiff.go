package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
	"slices"
	"strconv"
	"strings"

	"github.com/jobrunner/flotsam/internal/domain"
)

// TIFF tags used by the codec.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagPhotometric         = 262
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagPlanarConfig        = 284
	tagTileWidth           = 322
	tagSampleFormat        = 339
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGDALNoData          = 42113
)

// GeoKeys.
const (
	keyModelType       = 1024
	keyRasterType      = 1025
	keyGeographicType  = 2048
	keyProjectedCSType = 3072

	modelTypeProjected  = 1
	modelTypeGeographic = 2
	rasterPixelIsArea   = 1
	rasterPixelIsPoint  = 2
	userDefined         = 32767
)

type fieldType uint16

const (
	typeByte      fieldType = 1
	typeASCII     fieldType = 2
	typeShort     fieldType = 3
	typeLong      fieldType = 4
	typeRational  fieldType = 5
	typeSByte     fieldType = 6
	typeUndefined fieldType = 7
	typeSShort    fieldType = 8
	typeSLong     fieldType = 9
	typeSRational fieldType = 10
	typeFloat     fieldType = 11
	typeDouble    fieldType = 12
)

func (t fieldType) size() int {
	switch t {
	case typeByte, typeASCII, typeSByte, typeUndefined:
		return 1
	case typeShort, typeSShort:
		return 2
	case typeLong, typeSLong, typeFloat:
		return 4
	case typeRational, typeSRational, typeDouble:
		return 8
	}
	return 0
}

var errMalformed = fmt.Errorf("malformed tiff: %w", domain.ErrInvalidInput)

// sampleLayout returns BitsPerSample and SampleFormat of a dtype.
func sampleLayout(dt domain.DType) (uint16, uint16) {
	format := uint16(1)
	switch {
	case dt == domain.Float32 || dt == domain.Float64:
		format = 3
	case dt.IsSigned():
		format = 2
	}
	return uint16(dt.Size() * 8), format
}

func dtypeFromLayout(bps, format uint64) (domain.DType, error) {
	switch {
	case bps == 8 && format == 1:
		return domain.Uint8, nil
	case bps == 8 && format == 2:
		return domain.Int8, nil
	case bps == 16 && format == 1:
		return domain.Uint16, nil
	case bps == 16 && format == 2:
		return domain.Int16, nil
	case bps == 32 && format == 1:
		return domain.Uint32, nil
	case bps == 32 && format == 2:
		return domain.Int32, nil
	case bps == 32 && format == 3:
		return domain.Float32, nil
	case bps == 64 && format == 3:
		return domain.Float64, nil
	}
	return domain.DTypeInvalid, fmt.Errorf("%d bit samples with format %d: %w", bps, format, domain.ErrUnsupportedDType)
}

// ifdEntry is one directory entry with its value already encoded.
type ifdEntry struct {
	tag   uint16
	typ   fieldType
	count uint32
	data  []byte
}

func shortEntry(tag uint16, vals ...uint16) ifdEntry {
	data := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(data[2*i:], v)
	}
	return ifdEntry{tag: tag, typ: typeShort, count: uint32(len(vals)), data: data}
}

func longEntry(tag uint16, vals ...uint32) ifdEntry {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[4*i:], v)
	}
	return ifdEntry{tag: tag, typ: typeLong, count: uint32(len(vals)), data: data}
}

func doubleEntry(tag uint16, vals ...float64) ifdEntry {
	data := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(v))
	}
	return ifdEntry{tag: tag, typ: typeDouble, count: uint32(len(vals)), data: data}
}

func asciiEntry(tag uint16, s string) ifdEntry {
	data := append([]byte(s), 0)
	return ifdEntry{tag: tag, typ: typeASCII, count: uint32(len(data)), data: data}
}

func geoKeys(crs int) ([]uint16, error) {
	keys := [][4]uint16{}
	if crs > 0 {
		if crs >= userDefined {
			return nil, fmt.Errorf("EPSG:%d does not fit a GeoKey: %w", crs, domain.ErrUnsupportedCRS)
		}
		if domain.IsGeographic(crs) {
			keys = append(keys,
				[4]uint16{keyModelType, 0, 1, modelTypeGeographic},
				[4]uint16{keyRasterType, 0, 1, rasterPixelIsArea},
				[4]uint16{keyGeographicType, 0, 1, uint16(crs)})
		} else {
			keys = append(keys,
				[4]uint16{keyModelType, 0, 1, modelTypeProjected},
				[4]uint16{keyRasterType, 0, 1, rasterPixelIsArea},
				[4]uint16{keyProjectedCSType, 0, 1, uint16(crs)})
		}
	} else {
		keys = append(keys, [4]uint16{keyRasterType, 0, 1, rasterPixelIsArea})
	}

	out := []uint16{1, 1, 0, uint16(len(keys))}
	for _, k := range keys {
		out = append(out, k[:]...)
	}
	return out, nil
}

// Encode writes g as a little-endian, uncompressed, band-interleaved GeoTIFF.
// The output depends only on the grid, so encoding a decoded file reproduces
// it byte for byte.
func Encode(g *Grid) ([]byte, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	n := len(g.Bands)
	if n > math.MaxUint16 {
		return nil, fmt.Errorf("%d bands: %w", n, domain.ErrUnsupportedFormat)
	}
	stripSize := uint64(g.Width) * uint64(g.Height) * uint64(g.DType.Size())

	bits, format := sampleLayout(g.DType)
	bitsPerSample := make([]uint16, n)
	sampleFormat := make([]uint16, n)
	byteCounts := make([]uint32, n)
	for i := range n {
		bitsPerSample[i] = bits
		sampleFormat[i] = format
		byteCounts[i] = uint32(stripSize)
	}

	keys, err := geoKeys(g.CRS)
	if err != nil {
		return nil, err
	}

	entries := []ifdEntry{
		longEntry(tagImageWidth, uint32(g.Width)),
		longEntry(tagImageLength, uint32(g.Height)),
		shortEntry(tagBitsPerSample, bitsPerSample...),
		shortEntry(tagCompression, 1),
		shortEntry(tagPhotometric, 1),
		longEntry(tagStripOffsets, make([]uint32, n)...),
		shortEntry(tagSamplesPerPixel, uint16(n)),
		longEntry(tagRowsPerStrip, uint32(g.Height)),
		longEntry(tagStripByteCounts, byteCounts...),
		shortEntry(tagPlanarConfig, 2),
		shortEntry(tagSampleFormat, sampleFormat...),
	}
	t := g.Transform
	if t.IsNorthUp() && t.A > 0 && t.E < 0 {
		entries = append(entries,
			doubleEntry(tagModelPixelScale, t.A, -t.E, 0),
			doubleEntry(tagModelTiepoint, 0, 0, 0, t.C, t.F, 0))
	} else {
		entries = append(entries, doubleEntry(tagModelTransformation,
			t.A, t.B, 0, t.C,
			t.D, t.E, 0, t.F,
			0, 0, 0, 0,
			0, 0, 0, 1))
	}
	entries = append(entries, shortEntry(tagGeoKeyDirectory, keys...))
	if g.HasNoData {
		entries = append(entries, asciiEntry(tagGDALNoData, strconv.FormatFloat(g.NoData, 'g', -1, 64)))
	}
	slices.SortFunc(entries, func(a, b ifdEntry) int { return int(a.tag) - int(b.tag) })

	// Layout: header, IFD, out-of-line values (word aligned), strips.
	ifdSize := uint64(2 + 12*len(entries) + 4)
	cursor := 8 + ifdSize
	offsets := make([]uint64, len(entries))
	stripEntry := -1
	for i, e := range entries {
		if e.tag == tagStripOffsets {
			stripEntry = i
		}
		if len(e.data) > 4 {
			offsets[i] = cursor
			cursor += uint64(len(e.data))
			cursor += cursor % 2
		}
	}
	total := cursor + stripSize*uint64(n)
	if total > math.MaxUint32 {
		return nil, fmt.Errorf("raster of %d bytes needs BigTIFF: %w", total, domain.ErrUnsupportedFormat)
	}
	stripOffsets := make([]uint32, n)
	for i := range n {
		stripOffsets[i] = uint32(cursor + uint64(i)*stripSize)
	}
	entries[stripEntry] = longEntry(tagStripOffsets, stripOffsets...)

	bo := binary.LittleEndian
	buf := bytes.NewBuffer(make([]byte, 0, total))
	buf.WriteString("II")
	_ = binary.Write(buf, bo, uint16(42))
	_ = binary.Write(buf, bo, uint32(8))
	_ = binary.Write(buf, bo, uint16(len(entries)))
	for i, e := range entries {
		_ = binary.Write(buf, bo, e.tag)
		_ = binary.Write(buf, bo, uint16(e.typ))
		_ = binary.Write(buf, bo, e.count)
		if len(e.data) <= 4 {
			var inline [4]byte
			copy(inline[:], e.data)
			buf.Write(inline[:])
		} else {
			_ = binary.Write(buf, bo, uint32(offsets[i]))
		}
	}
	_ = binary.Write(buf, bo, uint32(0))
	for _, e := range entries {
		if len(e.data) > 4 {
			buf.Write(e.data)
			if buf.Len()%2 == 1 {
				buf.WriteByte(0)
			}
		}
	}

	sample := make([]byte, g.DType.Size())
	for _, band := range g.Bands {
		for _, v := range band {
			putSample(sample, bo, g.DType, g.DType.Clamp(v))
			buf.Write(sample)
		}
	}
	return buf.Bytes(), nil
}

func putSample(dst []byte, bo binary.ByteOrder, dt domain.DType, v float64) {
	switch dt {
	case domain.Uint8:
		dst[0] = uint8(v)
	case domain.Int8:
		dst[0] = uint8(int8(v))
	case domain.Uint16:
		bo.PutUint16(dst, uint16(v))
	case domain.Int16:
		bo.PutUint16(dst, uint16(int16(v)))
	case domain.Uint32:
		bo.PutUint32(dst, uint32(v))
	case domain.Int32:
		bo.PutUint32(dst, uint32(int32(v)))
	case domain.Float32:
		bo.PutUint32(dst, math.Float32bits(float32(v)))
	case domain.Float64:
		bo.PutUint64(dst, math.Float64bits(v))
	}
}

func readSample(src []byte, bo binary.ByteOrder, dt domain.DType) float64 {
	switch dt {
	case domain.Uint8:
		return float64(src[0])
	case domain.Int8:
		return float64(int8(src[0]))
	case domain.Uint16:
		return float64(bo.Uint16(src))
	case domain.Int16:
		return float64(int16(bo.Uint16(src)))
	case domain.Uint32:
		return float64(bo.Uint32(src))
	case domain.Int32:
		return float64(int32(bo.Uint32(src)))
	case domain.Float32:
		return float64(math.Float32frombits(bo.Uint32(src)))
	case domain.Float64:
		return math.Float64frombits(bo.Uint64(src))
	}
	return 0
}

type field struct {
	typ   fieldType
	count int
	raw   []byte
}

type tiffReader struct {
	data   []byte
	bo     binary.ByteOrder
	fields map[uint16]field
}

func (r *tiffReader) uints(tag uint16) ([]uint64, bool) {
	f, ok := r.fields[tag]
	if !ok {
		return nil, false
	}
	out := make([]uint64, f.count)
	for i := range out {
		switch f.typ {
		case typeByte, typeUndefined:
			out[i] = uint64(f.raw[i])
		case typeShort:
			out[i] = uint64(r.bo.Uint16(f.raw[2*i:]))
		case typeLong:
			out[i] = uint64(r.bo.Uint32(f.raw[4*i:]))
		default:
			return nil, false
		}
	}
	return out, true
}

func (r *tiffReader) uint(tag uint16, def uint64) uint64 {
	if v, ok := r.uints(tag); ok && len(v) > 0 {
		return v[0]
	}
	return def
}

func (r *tiffReader) floats(tag uint16) ([]float64, bool) {
	f, ok := r.fields[tag]
	if !ok {
		return nil, false
	}
	out := make([]float64, f.count)
	for i := range out {
		switch f.typ {
		case typeDouble:
			out[i] = math.Float64frombits(r.bo.Uint64(f.raw[8*i:]))
		case typeFloat:
			out[i] = float64(math.Float32frombits(r.bo.Uint32(f.raw[4*i:])))
		default:
			return nil, false
		}
	}
	return out, true
}

func (r *tiffReader) ascii(tag uint16) (string, bool) {
	f, ok := r.fields[tag]
	if !ok || f.typ != typeASCII {
		return "", false
	}
	return strings.TrimSpace(strings.TrimRight(string(f.raw), "\x00")), true
}

func (r *tiffReader) readIFD() error {
	if len(r.data) < 8 {
		return errMalformed
	}
	switch string(r.data[:2]) {
	case "II":
		r.bo = binary.LittleEndian
	case "MM":
		r.bo = binary.BigEndian
	default:
		return fmt.Errorf("byte order %q: %w", r.data[:2], domain.ErrUnsupportedFormat)
	}
	if magic := r.bo.Uint16(r.data[2:]); magic != 42 {
		return fmt.Errorf("magic %d: %w", magic, domain.ErrUnsupportedFormat)
	}
	off := uint64(r.bo.Uint32(r.data[4:]))
	if off+2 > uint64(len(r.data)) {
		return errMalformed
	}
	n := uint64(r.bo.Uint16(r.data[off:]))
	if off+2+12*n > uint64(len(r.data)) {
		return errMalformed
	}

	r.fields = make(map[uint16]field, n)
	for i := uint64(0); i < n; i++ {
		e := r.data[off+2+12*i : off+14+12*i]
		tag := r.bo.Uint16(e)
		typ := fieldType(r.bo.Uint16(e[2:]))
		count := uint64(r.bo.Uint32(e[4:]))
		size := uint64(typ.size()) * count
		if typ.size() == 0 {
			continue
		}
		var raw []byte
		if size <= 4 {
			raw = e[8 : 8+size]
		} else {
			vo := uint64(r.bo.Uint32(e[8:]))
			if vo+size > uint64(len(r.data)) {
				return fmt.Errorf("tag %d value out of range: %w", tag, errMalformed)
			}
			raw = r.data[vo : vo+size]
		}
		r.fields[tag] = field{typ: typ, count: int(count), raw: raw}
	}
	return nil
}

// pixelBytes returns w*h*samples*size, reporting false on overflow.
func pixelBytes(w, h, samples, size uint64) (uint64, bool) {
	n := uint64(1)
	for _, f := range []uint64{w, h, samples, size} {
		hi, lo := bits.Mul64(n, f)
		if hi != 0 {
			return 0, false
		}
		n = lo
	}
	return n, true
}

// Decode reads the first image of a baseline GeoTIFF. Uncompressed strips
// in either byte order and either planar configuration are supported.
func Decode(data []byte) (*Grid, error) {
	r := &tiffReader{data: data}
	if err := r.readIFD(); err != nil {
		return nil, err
	}
	if _, tiled := r.fields[tagTileWidth]; tiled {
		return nil, fmt.Errorf("tiled layout: %w", domain.ErrUnsupportedFormat)
	}
	if c := r.uint(tagCompression, 1); c != 1 {
		return nil, fmt.Errorf("compression %d: %w", c, domain.ErrUnsupportedFormat)
	}

	w, h := r.uint(tagImageWidth, 0), r.uint(tagImageLength, 0)
	samples := r.uint(tagSamplesPerPixel, 1)
	if w == 0 || h == 0 || samples == 0 {
		return nil, fmt.Errorf("image %dx%d with %d samples: %w", h, w, samples, errMalformed)
	}
	bps := r.uint(tagBitsPerSample, 1)
	format := r.uint(tagSampleFormat, 1)
	dt, err := dtypeFromLayout(bps, format)
	if err != nil {
		return nil, err
	}
	// The pixel data cannot be larger than the file holding it.
	need, ok := pixelBytes(w, h, samples, uint64(dt.Size()))
	if !ok || need > uint64(len(data)) {
		return nil, fmt.Errorf("image %dx%d with %d samples exceeds %d bytes: %w", h, w, samples, len(data), errMalformed)
	}
	width, height, spp := int(w), int(h), int(samples)

	offsets, ok1 := r.uints(tagStripOffsets)
	counts, ok2 := r.uints(tagStripByteCounts)
	if !ok1 || !ok2 || len(offsets) != len(counts) {
		return nil, fmt.Errorf("strip table: %w", errMalformed)
	}
	pix := make([]byte, 0, need)
	for i, o := range offsets {
		if uint64(len(pix)) >= need {
			break
		}
		if o+counts[i] > uint64(len(data)) {
			return nil, fmt.Errorf("strip %d out of range: %w", i, errMalformed)
		}
		pix = append(pix, data[o:o+counts[i]]...)
	}
	if uint64(len(pix)) < need {
		return nil, fmt.Errorf("pixel data %d bytes, want %d: %w", len(pix), need, errMalformed)
	}
	size := dt.Size()

	g := NewGrid(height, width, spp, dt, 0, domain.Affine{A: 1, E: 1})
	planar := r.uint(tagPlanarConfig, 1) == 2
	for b := range spp {
		band := g.Bands[b]
		for i := range band {
			idx := i*spp + b
			if planar {
				idx = b*width*height + i
			}
			band[i] = readSample(pix[idx*size:], r.bo, dt)
		}
	}

	g.CRS, err = r.crs()
	if err != nil {
		return nil, err
	}
	g.Transform = r.transform()
	if s, ok := r.ascii(tagGDALNoData); ok && s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("nodata %q: %w", s, errMalformed)
		}
		g.NoData = v
		g.HasNoData = true
	}
	return g, nil
}

func (r *tiffReader) geoKey(id uint64) (uint64, bool) {
	dir, ok := r.uints(tagGeoKeyDirectory)
	if !ok || len(dir) < 4 {
		return 0, false
	}
	n := int(dir[3])
	for i := 0; i < n && 4+4*i+3 < len(dir); i++ {
		k := dir[4+4*i : 8+4*i]
		if k[0] == id && k[1] == 0 {
			return k[3], true
		}
	}
	return 0, false
}

func (r *tiffReader) crs() (int, error) {
	for _, key := range []uint64{keyProjectedCSType, keyGeographicType} {
		if v, ok := r.geoKey(key); ok {
			if v == userDefined {
				return 0, fmt.Errorf("user defined CRS: %w", domain.ErrUnsupportedCRS)
			}
			return int(v), nil
		}
	}
	return 0, nil
}

func (r *tiffReader) transform() domain.Affine {
	var t domain.Affine
	if m, ok := r.floats(tagModelTransformation); ok && len(m) >= 8 {
		t = domain.Affine{A: m[0], B: m[1], C: m[3], D: m[4], E: m[5], F: m[7]}
	} else if tp, ok := r.floats(tagModelTiepoint); ok && len(tp) >= 6 {
		scale, ok := r.floats(tagModelPixelScale)
		if !ok || len(scale) < 2 {
			scale = []float64{1, 1}
		}
		t = domain.Affine{
			A: scale[0], C: tp[3] - tp[0]*scale[0],
			E: -scale[1], F: tp[4] + tp[1]*scale[1],
		}
	} else {
		return domain.Affine{A: 1, E: 1}
	}
	if rt, ok := r.geoKey(keyRasterType); ok && rt == rasterPixelIsPoint {
		t.C -= 0.5 * (t.A + t.B)
		t.F -= 0.5 * (t.D + t.E)
	}
	return t
}
