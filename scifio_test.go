package scifio_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RayPlante/scifio"
	"github.com/RayPlante/scifio/location"
	"github.com/RayPlante/scifio/source"
	"github.com/RayPlante/scifio/tiff"
)

// buildRGBTIFF writes a 2x2 RGB-interleaved single-plane TIFF into an
// in-memory handle and returns its bytes, for registering with a Registry
// via MapSource (no filesystem or network I/O needed to test Open).
func buildRGBTIFF(t *testing.T) []byte {
	t.Helper()
	h := source.NewWritableMemoryHandle(binary.LittleEndian)
	w := tiff.NewWriter(h, tiff.WriterConfig{LittleEndian: true})

	meta := &tiff.ImageMetadata{
		PixelType:            tiff.Uint8,
		InterleavedAxisCount: 1,
		Axes: []tiff.Axis{
			{Type: tiff.AxisX, Length: 2, Planar: true},
			{Type: tiff.AxisY, Length: 2, Planar: true},
			{Type: tiff.AxisChannel, Length: 3, Planar: true},
		},
	}
	body := []byte{
		0, 100, 200, 1, 101, 201,
		10, 110, 210, 11, 111, 211,
	}
	require.NoError(t, w.SavePlane(0, 0, &tiff.Plane{Bytes: body, Meta: meta}, nil, nil))
	require.NoError(t, w.Close())
	return h.Bytes()
}

func TestOpen_ReadsMetadataAndPlane(t *testing.T) {
	data := buildRGBTIFF(t)
	reg := location.NewRegistry()
	reg.MapSource("mem://rgb.tif", source.NewMemoryHandle(data, binary.LittleEndian))

	r, err := scifio.Open("mem://rgb.tif", scifio.NewConfig(scifio.WithRegistry(reg)))
	require.NoError(t, err)
	defer r.Close()

	meta, err := r.Metadata(0)
	require.NoError(t, err)
	assert.Equal(t, tiff.Uint8, meta.PixelType)

	plane, err := r.OpenPlane(0, 0, nil, nil)
	require.NoError(t, err)
	assert.Len(t, plane.Bytes, 12)
}

func TestOpen_WithPlaneSeparatorFilter(t *testing.T) {
	data := buildRGBTIFF(t)
	reg := location.NewRegistry()
	reg.MapSource("mem://rgb.tif", source.NewMemoryHandle(data, binary.LittleEndian))

	cfg := scifio.NewConfig(
		scifio.WithRegistry(reg),
		scifio.WithFilter(scifio.PlaneSeparatorSpec{Axes: []tiff.AxisType{tiff.AxisChannel}}),
	)
	r, err := scifio.Open("mem://rgb.tif", cfg)
	require.NoError(t, err)
	defer r.Close()

	count, err := r.GetPlaneCount(0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count, "separating the channel axis yields one virtual plane per channel")

	green, err := r.OpenPlane(0, 1, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{100, 101, 110, 111}, green.Bytes)
}

func TestOpen_UnimplementedFilterIsRejectedBeforeAnyIO(t *testing.T) {
	reg := location.NewRegistry()
	cfg := scifio.NewConfig(
		scifio.WithRegistry(reg),
		scifio.WithFilter(scifio.ChannelFillerSpec{}),
	)

	_, err := scifio.Open("mem://does-not-exist.tif", cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, scifio.ErrFilterNotImplemented)
}

func TestOpen_SubRegionAppliesDefaultOffsetsLengths(t *testing.T) {
	data := buildRGBTIFF(t)
	reg := location.NewRegistry()
	reg.MapSource("mem://rgb.tif", source.NewMemoryHandle(data, binary.LittleEndian))

	cfg := scifio.NewConfig(
		scifio.WithRegistry(reg),
		scifio.WithSubRegion(scifio.Region{X: 0, Y: 0, Width: 2, Height: 1}),
	)
	r, err := scifio.Open("mem://rgb.tif", cfg)
	require.NoError(t, err)
	defer r.Close()

	plane, err := r.OpenPlane(0, 0, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, plane)
}
