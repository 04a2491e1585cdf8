package tiff

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/RayPlante/scifio/source"
	"github.com/RayPlante/scifio/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ifdEntry is a (tag, type, count, inline-or-offset value) builder for
// hand-assembled classic TIFF fixtures.
type ifdEntry struct {
	tag   uint16
	typ   DataType
	count uint32
	value uint32 // inline value (left-justified for SHORT) or external offset
}

// buildClassicTIFF assembles a minimal classic (32-bit) little-endian TIFF:
// one IFD at offset 8, immediately followed by stripData.
func buildClassicTIFF(entries []ifdEntry, stripData []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("II")
	binary.Write(&buf, binary.LittleEndian, uint16(ClassicMagic))
	binary.Write(&buf, binary.LittleEndian, uint32(8))

	ifdSize := 2 + len(entries)*12 + 4
	stripOffset := uint32(8 + ifdSize)

	binary.Write(&buf, binary.LittleEndian, uint16(len(entries)))
	for _, e := range entries {
		v := e.value
		if e.tag == TagStripOffsets {
			v = stripOffset
		}
		binary.Write(&buf, binary.LittleEndian, e.tag)
		binary.Write(&buf, binary.LittleEndian, uint16(e.typ))
		binary.Write(&buf, binary.LittleEndian, e.count)
		binary.Write(&buf, binary.LittleEndian, v)
	}
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // next IFD offset: none

	buf.Write(stripData)
	return buf.Bytes()
}

func grayEntries(width, height int, stripByteCount uint32) []ifdEntry {
	return []ifdEntry{
		{TagImageWidth, TypeShort, 1, uint32(width)},
		{TagImageLength, TypeShort, 1, uint32(height)},
		{TagBitsPerSample, TypeShort, 1, 8},
		{TagCompression, TypeShort, 1, uint32(CompressionNone)},
		{TagPhotometricInterpretation, TypeShort, 1, uint32(PhotometricBlackIsZero)},
		{TagStripOffsets, TypeLong, 1, 0}, // patched to the real offset by buildClassicTIFF
		{TagRowsPerStrip, TypeShort, 1, uint32(height)},
		{TagStripByteCounts, TypeLong, 1, stripByteCount},
	}
}

func newStreamOver(data []byte) *stream.Stream {
	h := source.NewMemoryHandle(data, binary.LittleEndian)
	return stream.New(h)
}

func TestParse_SingleStripGray32x32(t *testing.T) {
	stripData := bytes.Repeat([]byte{0x7f}, 32*32)
	data := buildClassicTIFF(grayEntries(32, 32, uint32(len(stripData))), stripData)

	result, err := Parse(newStreamOver(data))
	require.NoError(t, err)
	require.Len(t, result.Chain, 1)
	assert.True(t, result.LittleEndian)
	assert.False(t, result.BigTIFF)

	r, err := NewReader(newStreamOver(data))
	require.NoError(t, err)
	meta, err := r.Metadata(0)
	require.NoError(t, err)
	assert.Equal(t, Uint8, meta.PixelType)
	assert.Equal(t, 1, meta.PlaneCount())
	require.Len(t, meta.PlanarAxes(), 2)
	assert.Equal(t, AxisX, meta.PlanarAxes()[0].Type)
	assert.Equal(t, 32, meta.PlanarAxes()[0].Length)
	assert.Equal(t, AxisY, meta.PlanarAxes()[1].Type)
	assert.Equal(t, 32, meta.PlanarAxes()[1].Length)

	plane, err := r.OpenPlane(0, 0, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, stripData, plane.Bytes)
}

func TestParse_RejectsNonTIFF(t *testing.T) {
	_, err := Parse(newStreamOver([]byte("not a tiff at all")))
	assert.ErrorIs(t, err, ErrNotATIFF)
}

func TestParse_DetectsBigEndian(t *testing.T) {
	stripData := []byte{1, 2, 3, 4}
	entries := grayEntries(2, 2, uint32(len(stripData)))

	var buf bytes.Buffer
	buf.WriteString("MM")
	binary.Write(&buf, binary.BigEndian, uint16(ClassicMagic))
	binary.Write(&buf, binary.BigEndian, uint32(8))
	ifdSize := 2 + len(entries)*12 + 4
	stripOffset := uint32(8 + ifdSize)
	binary.Write(&buf, binary.BigEndian, uint16(len(entries)))
	for _, e := range entries {
		v := e.value
		if e.tag == TagStripOffsets {
			v = stripOffset
		}
		binary.Write(&buf, binary.BigEndian, e.tag)
		binary.Write(&buf, binary.BigEndian, uint16(e.typ))
		binary.Write(&buf, binary.BigEndian, e.count)
		if e.typ == TypeShort {
			// BE SHORT-in-LONG-field values are left-justified too.
			binary.Write(&buf, binary.BigEndian, uint16(v))
			binary.Write(&buf, binary.BigEndian, uint16(0))
		} else {
			binary.Write(&buf, binary.BigEndian, v)
		}
	}
	binary.Write(&buf, binary.BigEndian, uint32(0))
	buf.Write(stripData)

	result, err := Parse(newStreamOver(buf.Bytes()))
	require.NoError(t, err)
	assert.False(t, result.LittleEndian)
}

func TestParse_CyclicIFDIsRejected(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("II")
	binary.Write(&buf, binary.LittleEndian, uint16(ClassicMagic))
	binary.Write(&buf, binary.LittleEndian, uint32(8))
	// A single IFD whose next-offset points back at itself.
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // zero entries
	binary.Write(&buf, binary.LittleEndian, uint32(8)) // next = self

	_, err := Parse(newStreamOver(buf.Bytes()))
	require.Error(t, err)
	var cyc CyclicIFDError
	assert.ErrorAs(t, err, &cyc)
}

func TestParse_ImageJTruncatedStackSynthesis(t *testing.T) {
	desc := "ImageJ=1.47\nimages=3\nchannels=3\nslices=1\nframes=1"
	stripData := bytes.Repeat([]byte{0x01}, 4)

	entries := grayEntries(2, 2, uint32(len(stripData)))
	// Lay the description bytes out after the strip data and append a
	// DescOffset entry pointing at them (ASCII values of count>4 bytes
	// live out-of-line).
	descBytes := append([]byte(desc), 0)

	var buf bytes.Buffer
	buf.WriteString("II")
	binary.Write(&buf, binary.LittleEndian, uint16(ClassicMagic))
	binary.Write(&buf, binary.LittleEndian, uint32(8))

	allEntries := append([]ifdEntry{}, entries...)
	allEntries = append(allEntries, ifdEntry{TagImageDescription, TypeASCII, uint32(len(descBytes)), 0})

	ifdSize := 2 + len(allEntries)*12 + 4
	stripOffset := uint32(8 + ifdSize)
	descOffset := stripOffset + uint32(len(stripData))

	binary.Write(&buf, binary.LittleEndian, uint16(len(allEntries)))
	for _, e := range allEntries {
		v := e.value
		switch e.tag {
		case TagStripOffsets:
			v = stripOffset
		case TagImageDescription:
			v = descOffset
		}
		binary.Write(&buf, binary.LittleEndian, e.tag)
		binary.Write(&buf, binary.LittleEndian, uint16(e.typ))
		binary.Write(&buf, binary.LittleEndian, e.count)
		binary.Write(&buf, binary.LittleEndian, v)
	}
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	buf.Write(stripData)
	buf.Write(descBytes)

	result, err := Parse(newStreamOver(buf.Bytes()))
	require.NoError(t, err)
	assert.Len(t, result.Chain, 3)
	assert.NotEmpty(t, result.Warnings)
}
