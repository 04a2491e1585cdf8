package planesep_test

import (
	"testing"

	"github.com/RayPlante/scifio/planesep"
	"github.com/RayPlante/scifio/tiff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeParent is a minimal planesep.Parent backed by a single in-memory
// interleaved plane, used to exercise the filter without a real TIFF file.
type fakeParent struct {
	meta  *tiff.ImageMetadata
	bytes []byte
	opens int
}

func (p *fakeParent) GetPlaneCount(imageIndex int) (uint64, error) { return 1, nil }

func (p *fakeParent) Metadata(imageIndex int) (*tiff.ImageMetadata, error) { return p.meta, nil }

func (p *fakeParent) ThumbnailPlane(imageIndex int) (*tiff.Plane, error) {
	return &tiff.Plane{Bytes: p.bytes, Meta: p.meta}, nil
}

func (p *fakeParent) OpenPlane(imageIndex, planeIndex int, offsets, lengths []int64) (*tiff.Plane, error) {
	p.opens++
	// This fake always returns the full plane; the filter crops further.
	return &tiff.Plane{Bytes: p.bytes, Offsets: offsets, Lengths: lengths, Meta: p.meta}, nil
}

// newRGBParent builds a 2x2 RGB-interleaved parent where pixel (x,y) has
// bytes (R,G,B) = (10*y+x, 100+10*y+x, 200+10*y+x).
func newRGBParent() *fakeParent {
	meta := &tiff.ImageMetadata{
		PixelType:            tiff.Uint8,
		InterleavedAxisCount: 1,
		Axes: []tiff.Axis{
			{Type: tiff.AxisX, Length: 2, Planar: true},
			{Type: tiff.AxisY, Length: 2, Planar: true},
			{Type: tiff.AxisChannel, Length: 3, Planar: true},
		},
	}
	bytes := make([]byte, 2*2*3)
	i := 0
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			bytes[i] = byte(10*y + x)
			bytes[i+1] = byte(100 + 10*y + x)
			bytes[i+2] = byte(200 + 10*y + x)
			i += 3
		}
	}
	return &fakeParent{meta: meta, bytes: bytes}
}

func TestS5Scenario_PlaneSeparatorExtractsMiddleChannel(t *testing.T) {
	parent := newRGBParent()
	f := planesep.New(parent, []tiff.AxisType{tiff.AxisChannel})

	meta, err := f.Metadata(0)
	require.NoError(t, err)
	assert.Equal(t, 3, meta.PlaneCount())

	plane, err := f.OpenPlane(0, 1, nil, nil)
	require.NoError(t, err)

	// Channel 1 (green) at every (x,y): 100, 101, 110, 111.
	assert.Equal(t, []byte{100, 101, 110, 111}, plane.Bytes)
}

func TestPlaneSeparatorCorrectness_AllChannels(t *testing.T) {
	parent := newRGBParent()
	f := planesep.New(parent, []tiff.AxisType{tiff.AxisChannel})

	expected := [][]byte{
		{0, 1, 10, 11},
		{100, 101, 110, 111},
		{200, 201, 210, 211},
	}
	for c := 0; c < 3; c++ {
		plane, err := f.OpenPlane(0, c, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, expected[c], plane.Bytes, "channel %d", c)
	}
}

func TestGetOriginalIndex_IsPure(t *testing.T) {
	parent := newRGBParent()
	f := planesep.New(parent, []tiff.AxisType{tiff.AxisChannel})

	for c := 0; c < 3; c++ {
		idx, err := f.GetOriginalIndex(0, c)
		require.NoError(t, err)
		assert.Equal(t, 0, idx) // single-plane parent: every virtual plane maps to parent plane 0.
	}
}

func TestCacheHit_AvoidsRefetch(t *testing.T) {
	parent := newRGBParent()
	f := planesep.New(parent, []tiff.AxisType{tiff.AxisChannel})

	_, err := f.OpenPlane(0, 0, nil, nil)
	require.NoError(t, err)
	opensAfterFirst := parent.opens

	_, err = f.OpenPlane(0, 1, nil, nil)
	require.NoError(t, err)
	// Same parent plane (parentPlaneIndex 0) and same translated
	// offsets/lengths (full [0,axisLength) span for the split axis each
	// time) -- this must be a cache hit, not a second parent fetch.
	assert.Equal(t, opensAfterFirst, parent.opens)
}

func TestSetSource_InvalidatesCache(t *testing.T) {
	parent := newRGBParent()
	f := planesep.New(parent, []tiff.AxisType{tiff.AxisChannel})

	_, err := f.OpenPlane(0, 0, nil, nil)
	require.NoError(t, err)

	parent2 := newRGBParent()
	f.SetSource(parent2)

	_, err = f.OpenPlane(0, 1, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, parent2.opens, "after SetSource the stale cache entry must not serve a hit")
}

func TestIndexedColor_BypassesSeparation(t *testing.T) {
	meta := &tiff.ImageMetadata{
		PixelType: tiff.Uint8,
		Indexed:   true,
		Axes: []tiff.Axis{
			{Type: tiff.AxisX, Length: 2, Planar: true},
			{Type: tiff.AxisY, Length: 2, Planar: true},
		},
	}
	parent := &fakeParent{meta: meta, bytes: []byte{1, 2, 3, 4}}
	f := planesep.New(parent, []tiff.AxisType{tiff.AxisChannel})

	got, err := f.Metadata(0)
	require.NoError(t, err)
	assert.Same(t, meta, got)

	plane, err := f.OpenPlane(0, 0, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, parent.bytes, plane.Bytes)
}
