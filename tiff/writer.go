package tiff

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/RayPlante/scifio/source"
	"github.com/RayPlante/scifio/stream"
)

// CompressionCodec names the compression a Writer applies to outgoing
// plane bytes.
//
// CodecLZW is accepted as a COMPRESSION tag value on read (via
// golang.org/x/image/tiff/lzw, which -- like this package -- only
// implements the decoder side of LZW) but SavePlane rejects it as a write
// codec rather than emit a body tagged LZW that isn't actually LZW-encoded.
type CompressionCodec int

const (
	CodecNone     CompressionCodec = CompressionCodec(CompressionNone)
	CodecLZW      CompressionCodec = CompressionCodec(CompressionLZW)
	CodecPackBits CompressionCodec = CompressionCodec(CompressionPackBits)
)

// WriterConfig configures a Writer.
type WriterConfig struct {
	// BigTIFF: nil means auto-promote on overflow; non-nil pins the choice.
	BigTIFF          *bool
	Compression      CompressionCodec
	LittleEndian     bool
	SequentialWrites bool
}

// writtenPlane records enough about an already-written plane to replay it
// (body re-read from its current file position, IFD tags rebuilt with a new
// StripOffsets/StripByteCounts) during a mid-stream BigTIFF promotion.
type writtenPlane struct {
	ifd        *IFD
	dataOffset int64
	dataLen    int64
}

// Writer streams planes to dst, rewriting the IFD chain's "next offset"
// links as planes are appended, with BigTIFF auto-promotion.
type Writer struct {
	mu  sync.Mutex
	s   *stream.Stream
	cfg WriterConfig

	headerWritten bool
	bigTIFF       bool
	nextOffsetPos int64 // file position of the next-offset field to relink
	planeCount    int
	written       []writtenPlane
}

// NewWriter wraps dst in a Writer.
func NewWriter(dst source.Handle, cfg WriterConfig) *Writer {
	s := stream.New(dst)
	if cfg.LittleEndian {
		s.SetOrder(binary.LittleEndian)
	} else {
		s.SetOrder(binary.BigEndian)
	}
	return &Writer{s: s, cfg: cfg}
}

func (w *Writer) writeHeader() error {
	if w.headerWritten {
		return nil
	}
	if w.cfg.LittleEndian {
		if err := w.s.WriteU8('I'); err != nil {
			return err
		}
		if err := w.s.WriteU8('I'); err != nil {
			return err
		}
	} else {
		if err := w.s.WriteU8('M'); err != nil {
			return err
		}
		if err := w.s.WriteU8('M'); err != nil {
			return err
		}
	}

	w.bigTIFF = w.cfg.BigTIFF != nil && *w.cfg.BigTIFF
	if w.bigTIFF {
		if err := w.writeBigHeaderBody(); err != nil {
			return err
		}
	} else {
		if err := w.s.WriteU16(ClassicMagic); err != nil {
			return err
		}
		w.nextOffsetPos = w.s.Position()
		if err := w.s.WriteU32(0); err != nil { // placeholder first-IFD offset
			return err
		}
	}
	w.headerWritten = true
	return nil
}

func (w *Writer) writeBigHeaderBody() error {
	if err := w.s.WriteU16(BigMagic); err != nil {
		return err
	}
	if err := w.s.WriteU16(8); err != nil {
		return err
	}
	if err := w.s.WriteU16(0); err != nil {
		return err
	}
	w.nextOffsetPos = w.s.Position()
	return w.s.WriteU64(0) // placeholder first-IFD offset
}

// SavePlane appends plane as IFD planeIndex of imageIndex, compressing with
// the configured codec and relinking the previous IFD's next-offset
// pointer.
func (w *Writer) SavePlane(imageIndex, planeIndex int, plane *Plane, offsets, lengths []int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writeHeader(); err != nil {
		return err
	}
	if err := w.maybePromoteBigTIFF(int64(len(plane.Bytes))); err != nil {
		return err
	}

	var body []byte
	switch w.cfg.Compression {
	case CodecNone:
		body = plane.Bytes
	case CodecPackBits:
		body = packBits(plane.Bytes)
	default:
		return UnsupportedCompressionError{Code: CompressionCode(w.cfg.Compression)}
	}

	dataOffset := mustLength(w.s)
	if _, err := w.s.WriteAt(body, dataOffset); err != nil {
		return err
	}

	ifd := buildOutgoingIFD(plane.Meta, uint32(dataOffset), uint32(len(body)), CompressionCode(w.cfg.Compression))
	ifdOffset, nextFieldPos, err := w.writeIFD(ifd)
	if err != nil {
		return err
	}

	if err := w.relink(ifdOffset); err != nil {
		return err
	}
	w.nextOffsetPos = nextFieldPos
	w.planeCount++
	w.written = append(w.written, writtenPlane{ifd: ifd, dataOffset: dataOffset, dataLen: int64(len(body))})
	return nil
}

func mustLength(s *stream.Stream) int64 {
	// Stream.Length reports the handle's length, so buffered writes must
	// reach the handle first for the result to be the end of the file.
	if err := s.Flush(); err != nil {
		return s.Position()
	}
	n, err := s.Length()
	if err != nil {
		return s.Position()
	}
	return n
}

// maybePromoteBigTIFF upgrades an already-classic file to BigTIFF when the
// projected file length (the current length plus twice the next plane's
// size) would exceed the promotion threshold. Before any plane has been written
// this is a pure header rewrite; once planes exist, every already-written
// IFD also has to be widened from 32-bit to 64-bit fields, which
// promoteToBigTIFFMidStream handles by replaying the written planes.
func (w *Writer) maybePromoteBigTIFF(planeSize int64) error {
	if w.bigTIFF {
		return nil
	}
	cur := mustLength(w.s)
	projected := cur + 2*planeSize
	if projected <= BigTIFFPromoteThreshold {
		return nil
	}
	if w.cfg.BigTIFF != nil && !*w.cfg.BigTIFF {
		return ErrWouldOverflow32
	}
	if w.planeCount == 0 {
		return w.promoteToBigTIFF()
	}
	return w.promoteToBigTIFFMidStream()
}

// promoteToBigTIFF rewrites the header in place with magic 43 and 64-bit
// offset fields, leaving the 2-byte byte-order marker untouched.
func (w *Writer) promoteToBigTIFF() error {
	if err := w.s.Seek(2); err != nil {
		return err
	}
	if err := w.writeBigHeaderBody(); err != nil {
		return err
	}
	w.bigTIFF = true
	return nil
}

// promoteToBigTIFFMidStream upgrades an in-progress classic file to BigTIFF
// after one or more planes have already been written. Every IFD written so
// far used a 16-bit entry count and 32-bit value/offset fields, neither of
// which can address the file this one is about to become, so each plane is
// replayed: its pixel bytes are re-read from their current (still-classic)
// location and re-appended after the widened header, and a fresh (wide) IFD
// is written pointing at the new location. The stale classic-format bytes
// left behind are simply abandoned.
func (w *Writer) promoteToBigTIFFMidStream() error {
	type snapshot struct {
		ifd  *IFD
		body []byte
	}
	snaps := make([]snapshot, len(w.written))
	for i, wp := range w.written {
		body := make([]byte, wp.dataLen)
		if _, err := w.s.ReadAt(body, wp.dataOffset); err != nil {
			return err
		}
		snaps[i] = snapshot{ifd: wp.ifd, body: body}
	}

	if err := w.s.Seek(2); err != nil {
		return err
	}
	if err := w.writeBigHeaderBody(); err != nil {
		return err
	}
	w.bigTIFF = true

	w.written = w.written[:0]
	for _, snap := range snaps {
		dataOffset := mustLength(w.s)
		if _, err := w.s.WriteAt(snap.body, dataOffset); err != nil {
			return err
		}
		snap.ifd.Set(Tag{ID: TagStripOffsets, Type: TypeLong8, Value: Long8Values{uint64(dataOffset)}})
		snap.ifd.Set(Tag{ID: TagStripByteCounts, Type: TypeLong8, Value: Long8Values{uint64(len(snap.body))}})

		ifdOffset, nextFieldPos, err := w.writeIFD(snap.ifd)
		if err != nil {
			return err
		}
		if err := w.relink(ifdOffset); err != nil {
			return err
		}
		w.nextOffsetPos = nextFieldPos
		w.written = append(w.written, writtenPlane{ifd: snap.ifd, dataOffset: dataOffset, dataLen: int64(len(snap.body))})
	}
	return nil
}

// writeIFD writes ifd's entries at the file's current end and returns the
// offset it was written at plus the file position of its next-offset
// field (for the following plane to relink through).
func (w *Writer) writeIFD(ifd *IFD) (ifdOffset, nextFieldPos int64, err error) {
	offset := mustLength(w.s)
	tags := ifd.Tags()

	// Reserve the whole IFD first so out-of-line values, which
	// writeTagEntry appends at the end of the file, land after it.
	ifdSize := int64(2 + len(tags)*ClassicIFDEntryLen + 4)
	if w.bigTIFF {
		ifdSize = int64(8 + len(tags)*BigIFDEntryLen + 8)
	}
	if _, err = w.s.WriteAt(make([]byte, ifdSize), offset); err != nil {
		return 0, 0, err
	}

	if err = w.s.Seek(offset); err != nil {
		return 0, 0, err
	}
	if w.bigTIFF {
		if err = w.s.WriteU64(uint64(len(tags))); err != nil {
			return 0, 0, err
		}
	} else {
		if err = w.s.WriteU16(uint16(len(tags))); err != nil {
			return 0, 0, err
		}
	}

	for _, t := range tags {
		if err = w.writeTagEntry(t); err != nil {
			return 0, 0, err
		}
	}

	nextFieldPos = w.s.Position()
	if w.bigTIFF {
		if err = w.s.WriteU64(0); err != nil { // next-offset placeholder
			return 0, 0, err
		}
	} else {
		if err = w.s.WriteU32(0); err != nil {
			return 0, 0, err
		}
	}
	return offset, nextFieldPos, nil
}

func (w *Writer) writeTagEntry(t Tag) error {
	if err := w.s.WriteU16(t.ID); err != nil {
		return err
	}
	if err := w.s.WriteU16(uint16(t.Type)); err != nil {
		return err
	}
	count := t.Value.Len()
	if w.bigTIFF {
		if err := w.s.WriteU64(uint64(count)); err != nil {
			return err
		}
	} else {
		if err := w.s.WriteU32(uint32(count)); err != nil {
			return err
		}
	}

	little := w.s.Order() == binary.LittleEndian
	raw := encodeTagValue(t, little)
	valueFieldSize := 4
	if w.bigTIFF {
		valueFieldSize = 8
	}
	if len(raw) <= valueFieldSize {
		padded := make([]byte, valueFieldSize)
		copy(padded, raw)
		valuePos := w.s.Position()
		if _, err := w.s.WriteAt(padded, valuePos); err != nil {
			return err
		}
		return w.s.Seek(valuePos + int64(valueFieldSize))
	}

	// Out-of-line: append raw bytes at end of file, record the offset.
	savedPos := w.s.Position()
	extOffset := mustLength(w.s)
	if _, err := w.s.WriteAt(raw, extOffset); err != nil {
		return err
	}
	if err := w.s.Seek(savedPos); err != nil {
		return err
	}
	if w.bigTIFF {
		return w.s.WriteU64(uint64(extOffset))
	}
	return w.s.WriteU32(uint32(extOffset))
}

// relink patches the previously written IFD's (or the header's)
// next-offset field to point at ifdOffset.
func (w *Writer) relink(ifdOffset int64) error {
	savedPos := w.s.Position()
	if w.bigTIFF {
		if err := w.s.Seek(w.nextOffsetPos); err != nil {
			return err
		}
		if err := w.s.WriteU64(uint64(ifdOffset)); err != nil {
			return err
		}
	} else {
		if err := w.s.Seek(w.nextOffsetPos); err != nil {
			return err
		}
		if err := w.s.WriteU32(uint32(ifdOffset)); err != nil {
			return err
		}
	}
	return w.s.Seek(savedPos)
}

// Close flushes all pending writes.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.s.Close()
}

// buildOutgoingIFD assembles the tag set for one plane from its
// ImageMetadata: dimensions, sample layout, resolution, and the strip
// location/compression tags describing the body already written.
func buildOutgoingIFD(meta *ImageMetadata, dataOffset, dataLen uint32, compression CompressionCode) *IFD {
	ifd := NewIFD()
	planar := meta.PlanarAxes()
	width, height := 0, 0
	for _, a := range planar {
		switch a.Type {
		case AxisX:
			width = a.Length
		case AxisY:
			height = a.Length
		}
	}

	ifd.Set(Tag{ID: TagImageWidth, Type: TypeLong, Value: LongValues{uint32(width)}})
	ifd.Set(Tag{ID: TagImageLength, Type: TypeLong, Value: LongValues{uint32(height)}})
	ifd.Set(Tag{ID: TagBitsPerSample, Type: TypeShort, Value: ShortValues{uint16(meta.PixelType.BytesPerPixel() * 8)}})
	ifd.Set(Tag{ID: TagCompression, Type: TypeShort, Value: ShortValues{uint16(compression)}})

	photometric := PhotometricBlackIsZero
	if meta.Indexed {
		photometric = PhotometricPaletted
	}
	ifd.Set(Tag{ID: TagPhotometricInterpretation, Type: TypeShort, Value: ShortValues{uint16(photometric)}})

	samplesPerPixel := meta.InterleavedSamplesOrOne()
	ifd.Set(Tag{ID: TagSamplesPerPixel, Type: TypeShort, Value: ShortValues{uint16(samplesPerPixel)}})
	ifd.Set(Tag{ID: TagRowsPerStrip, Type: TypeLong, Value: LongValues{uint32(height)}})
	ifd.Set(Tag{ID: TagStripOffsets, Type: TypeLong, Value: LongValues{dataOffset}})
	ifd.Set(Tag{ID: TagStripByteCounts, Type: TypeLong, Value: LongValues{dataLen}})

	sampleFormat := sampleFormatFor(meta.PixelType)
	ifd.Set(Tag{ID: TagSampleFormat, Type: TypeShort, Value: ShortValues{uint16(sampleFormat)}})

	if meta.Indexed && len(meta.ColorTable) > 0 {
		flat := make(ShortValues, 0, len(meta.ColorTable)*len(meta.ColorTable[0]))
		for _, channel := range meta.ColorTable {
			for _, v := range channel {
				flat = append(flat, v)
			}
		}
		ifd.Set(Tag{ID: TagColorMap, Type: TypeShort, Value: flat})
	}

	if meta.PixelWidth > 0 {
		num, denom := rationalize(1 / meta.PixelWidth)
		ifd.Set(Tag{ID: TagXResolution, Type: TypeRational, Value: RationalValues{{Num: num, Denom: denom}}})
	}
	if meta.PixelHeight > 0 {
		num, denom := rationalize(1 / meta.PixelHeight)
		ifd.Set(Tag{ID: TagYResolution, Type: TypeRational, Value: RationalValues{{Num: num, Denom: denom}}})
	}

	return ifd
}

func sampleFormatFor(pt PixelType) int {
	switch pt {
	case Float32, Float64:
		return 3
	case Int8, Int16, Int32:
		return 2
	default:
		return 1
	}
}

// rationalize approximates f as a fraction with a fixed denominator,
// adequate for resolution round-tripping (not a general best-rational
// algorithm).
func rationalize(f float64) (num, denom uint32) {
	const scale = 1000000
	return uint32(f * scale), scale
}

// encodeTagValue serializes t.Value to raw bytes in the given byte order,
// the writer-side inverse of decodeTagValue.
func encodeTagValue(t Tag, little bool) []byte {
	put := func(v uint64, n int) []byte { return putBytes(v, n, little) }
	switch v := t.Value.(type) {
	case ByteValues:
		return []byte(v)
	case ASCIIValue:
		return append([]byte(v), 0)
	case UndefinedValues:
		return []byte(v)
	case ShortValues:
		out := make([]byte, 0, len(v)*2)
		for _, x := range v {
			out = append(out, put(uint64(x), 2)...)
		}
		return out
	case LongValues:
		out := make([]byte, 0, len(v)*4)
		for _, x := range v {
			out = append(out, put(uint64(x), 4)...)
		}
		return out
	case IFDValues:
		out := make([]byte, 0, len(v)*4)
		for _, x := range v {
			out = append(out, put(x, 4)...)
		}
		return out
	case RationalValues:
		out := make([]byte, 0, len(v)*8)
		for _, r := range v {
			out = append(out, put(uint64(r.Num), 4)...)
			out = append(out, put(uint64(r.Denom), 4)...)
		}
		return out
	case SByteValues:
		out := make([]byte, len(v))
		for i, x := range v {
			out[i] = byte(x)
		}
		return out
	case SShortValues:
		out := make([]byte, 0, len(v)*2)
		for _, x := range v {
			out = append(out, put(uint64(uint16(x)), 2)...)
		}
		return out
	case SLongValues:
		out := make([]byte, 0, len(v)*4)
		for _, x := range v {
			out = append(out, put(uint64(uint32(x)), 4)...)
		}
		return out
	case FloatValues:
		out := make([]byte, 0, len(v)*4)
		for _, x := range v {
			out = append(out, put(uint64(math.Float32bits(x)), 4)...)
		}
		return out
	case DoubleValues:
		out := make([]byte, 0, len(v)*8)
		for _, x := range v {
			out = append(out, put(math.Float64bits(x), 8)...)
		}
		return out
	case Long8Values:
		out := make([]byte, 0, len(v)*8)
		for _, x := range v {
			out = append(out, put(x, 8)...)
		}
		return out
	default:
		return nil
	}
}

func putBytes(v uint64, n int, little bool) []byte {
	out := make([]byte, n)
	if little {
		for i := 0; i < n; i++ {
			out[i] = byte(v >> (8 * uint(i)))
		}
	} else {
		for i := 0; i < n; i++ {
			out[n-1-i] = byte(v >> (8 * uint(i)))
		}
	}
	return out
}
