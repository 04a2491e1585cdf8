package tiff

import (
	"encoding/binary"
	"testing"

	"github.com/RayPlante/scifio/source"
	"github.com/RayPlante/scifio/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grayMeta(width, height int) *ImageMetadata {
	return &ImageMetadata{
		PixelType: Uint8,
		Axes: []Axis{
			{Type: AxisX, Length: width, Planar: true},
			{Type: AxisY, Length: height, Planar: true},
		},
	}
}

func TestWriter_RoundTripSinglePlane(t *testing.T) {
	h := source.NewWritableMemoryHandle(binary.LittleEndian)
	w := NewWriter(h, WriterConfig{LittleEndian: true})

	meta := grayMeta(4, 4)
	body := make([]byte, 16)
	for i := range body {
		body[i] = byte(i)
	}
	require.NoError(t, w.SavePlane(0, 0, &Plane{Bytes: body, Meta: meta}, nil, nil))
	require.NoError(t, w.Close())

	s := stream.New(source.NewMemoryHandle(h.Bytes(), binary.LittleEndian))
	r, err := NewReader(s)
	require.NoError(t, err)

	rm, err := r.Metadata(0)
	require.NoError(t, err)
	assert.Equal(t, Uint8, rm.PixelType)
	assert.Equal(t, 4, rm.PlanarAxes()[0].Length)
	assert.Equal(t, 4, rm.PlanarAxes()[1].Length)

	plane, err := r.OpenPlane(0, 0, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, body, plane.Bytes)
}

func TestWriter_RoundTripMultiplePlanes(t *testing.T) {
	h := source.NewWritableMemoryHandle(binary.LittleEndian)
	w := NewWriter(h, WriterConfig{LittleEndian: true})

	meta := grayMeta(2, 2)
	const planeCount = 4
	bodies := make([][]byte, planeCount)
	for i := 0; i < planeCount; i++ {
		bodies[i] = []byte{byte(i), byte(i + 1), byte(i + 2), byte(i + 3)}
		require.NoError(t, w.SavePlane(0, i, &Plane{Bytes: bodies[i], Meta: meta}, nil, nil))
	}
	require.NoError(t, w.Close())

	s := stream.New(source.NewMemoryHandle(h.Bytes(), binary.LittleEndian))
	r, err := NewReader(s)
	require.NoError(t, err)

	count, err := r.GetPlaneCount(0)
	require.NoError(t, err)
	assert.EqualValues(t, planeCount, count)

	for i := 0; i < planeCount; i++ {
		plane, err := r.OpenPlane(0, i, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, bodies[i], plane.Bytes, "plane %d", i)
	}
}

func TestWriter_PackBitsRoundTrip(t *testing.T) {
	h := source.NewWritableMemoryHandle(binary.LittleEndian)
	w := NewWriter(h, WriterConfig{LittleEndian: true, Compression: CodecPackBits})

	meta := grayMeta(8, 1)
	body := []byte{9, 9, 9, 9, 9, 9, 9, 9} // a run PackBits compresses well
	require.NoError(t, w.SavePlane(0, 0, &Plane{Bytes: body, Meta: meta}, nil, nil))
	require.NoError(t, w.Close())

	s := stream.New(source.NewMemoryHandle(h.Bytes(), binary.LittleEndian))
	r, err := NewReader(s)
	require.NoError(t, err)

	plane, err := r.OpenPlane(0, 0, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, body, plane.Bytes)
}

func TestWriter_BigTIFFPinnedUpFront(t *testing.T) {
	h := source.NewWritableMemoryHandle(binary.LittleEndian)
	big := true
	w := NewWriter(h, WriterConfig{LittleEndian: true, BigTIFF: &big})

	meta := grayMeta(2, 2)
	body := []byte{1, 2, 3, 4}
	require.NoError(t, w.SavePlane(0, 0, &Plane{Bytes: body, Meta: meta}, nil, nil))
	require.NoError(t, w.Close())

	data := h.Bytes()
	require.True(t, len(data) >= 4)
	magic := binary.LittleEndian.Uint16(data[2:4])
	assert.EqualValues(t, BigMagic, magic)

	s := stream.New(source.NewMemoryHandle(data, binary.LittleEndian))
	r, err := NewReader(s)
	require.NoError(t, err)
	plane, err := r.OpenPlane(0, 0, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, body, plane.Bytes)
}

// These exercise maybePromoteBigTIFF directly (same package) rather than
// via SavePlane with a real multi-gigabyte Plane.Bytes, since only the
// projected byte count -- not actual pixel data -- drives this decision.

func TestWriter_PromotesBigTIFFBeforeFirstPlane(t *testing.T) {
	h := source.NewWritableMemoryHandle(binary.LittleEndian)
	w := NewWriter(h, WriterConfig{LittleEndian: true})
	require.NoError(t, w.writeHeader())

	// A single plane whose projected size already exceeds the threshold
	// forces promotion before any bytes are written.
	require.NoError(t, w.maybePromoteBigTIFF(BigTIFFPromoteThreshold))
	assert.True(t, w.bigTIFF)

	require.NoError(t, w.s.Flush())
	data := h.Bytes()
	magic := binary.LittleEndian.Uint16(data[2:4])
	assert.EqualValues(t, BigMagic, magic)
}

func TestWriter_ExplicitlyDisabledBigTIFFOverflows(t *testing.T) {
	h := source.NewWritableMemoryHandle(binary.LittleEndian)
	no := false
	w := NewWriter(h, WriterConfig{LittleEndian: true, BigTIFF: &no})
	require.NoError(t, w.writeHeader())

	err := w.maybePromoteBigTIFF(BigTIFFPromoteThreshold)
	assert.ErrorIs(t, err, ErrWouldOverflow32)
}

func TestWriter_PromotesBigTIFFMidStream(t *testing.T) {
	h := source.NewWritableMemoryHandle(binary.LittleEndian)
	w := NewWriter(h, WriterConfig{LittleEndian: true})

	meta := grayMeta(2, 2)
	body := []byte{1, 2, 3, 4}
	require.NoError(t, w.SavePlane(0, 0, &Plane{Bytes: body, Meta: meta}, nil, nil))

	// A second, much larger plane now demands promotion, even though the
	// header and first plane's IFD were already committed in classic
	// (32-bit) form -- both must be widened and relocated rather than
	// rejected or left inconsistent.
	require.NoError(t, w.maybePromoteBigTIFF(BigTIFFPromoteThreshold))
	assert.True(t, w.bigTIFF)

	body2 := []byte{5, 6, 7, 8}
	require.NoError(t, w.SavePlane(0, 1, &Plane{Bytes: body2, Meta: meta}, nil, nil))
	require.NoError(t, w.Close())

	data := h.Bytes()
	magic := binary.LittleEndian.Uint16(data[2:4])
	assert.EqualValues(t, BigMagic, magic)

	s := stream.New(source.NewMemoryHandle(data, binary.LittleEndian))
	r, err := NewReader(s)
	require.NoError(t, err)
	plane0, err := r.OpenPlane(0, 0, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, body, plane0.Bytes)
	plane1, err := r.OpenPlane(0, 1, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, body2, plane1.Bytes)
}
