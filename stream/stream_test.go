package stream_test

import (
	"encoding/binary"
	"testing"

	"github.com/RayPlante/scifio/source"
	"github.com/RayPlante/scifio/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS1Scenario(t *testing.T) {
	data := []byte{0x0F, 0x0E, 0x0F, 0x0E, 0x0F, 0x0E, 0x0F, 0x0E}
	h := source.NewMemoryHandle(data, binary.BigEndian)
	s := stream.New(h)

	require.NoError(t, s.Seek(6))
	v, err := s.ReadU16()
	require.NoError(t, err)
	assert.Equal(t, uint16(3854), v)

	s.SetOrder(binary.LittleEndian)
	require.NoError(t, s.Seek(6))
	v, err = s.ReadU16()
	require.NoError(t, err)
	assert.Equal(t, uint16(3599), v)

	require.NoError(t, s.Seek(0))
	s.SetOrder(binary.BigEndian)
	i, err := s.ReadU32()
	require.NoError(t, err)
	assert.Equal(t, uint32(252579598), i)

	require.NoError(t, s.Seek(0))
	s.SetOrder(binary.LittleEndian)
	i, err = s.ReadU32()
	require.NoError(t, err)
	assert.Equal(t, uint32(235867663), i)

	require.NoError(t, s.Seek(0))
	s.SetOrder(binary.BigEndian)
	l, err := s.ReadU64()
	require.NoError(t, err)
	assert.Equal(t, uint64(1084821113299406606), l)
}

func TestS2GrowableWrites(t *testing.T) {
	h := source.NewWritableMemoryHandle(binary.BigEndian)
	s := stream.New(h)

	require.NoError(t, s.WriteI64(1))
	require.NoError(t, s.Flush())
	n, err := s.Length()
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)

	require.NoError(t, s.WriteI64(1152921504606846722))
	require.NoError(t, s.Flush())
	n, _ = s.Length()
	assert.Equal(t, int64(16), n)

	require.NoError(t, s.WriteI64(3))
	require.NoError(t, s.Flush())
	n, _ = s.Length()
	assert.Equal(t, int64(24), n)

	require.NoError(t, s.Seek(0))
	a, err := s.ReadI64()
	require.NoError(t, err)
	b, err := s.ReadI64()
	require.NoError(t, err)
	c, err := s.ReadI64()
	require.NoError(t, err)
	assert.Equal(t, int64(1), a)
	assert.Equal(t, int64(1152921504606846722), b)
	assert.Equal(t, int64(3), c)
}

func TestSeekIdempotence(t *testing.T) {
	h := source.NewMemoryHandle([]byte("hello world, this is a test string"), binary.BigEndian)
	s := stream.New(h)
	require.NoError(t, s.Seek(3))
	a, err := s.ReadString(5)
	require.NoError(t, err)
	require.NoError(t, s.Seek(3))
	b, err := s.ReadString(5)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRoundTripAcrossBufferBoundary(t *testing.T) {
	h := source.NewWritableMemoryHandle(binary.LittleEndian)
	s := stream.New(h, stream.WithBufferSize(4))
	values := []uint32{1, 2, 3, 4, 5, 6, 7, 8}
	for _, v := range values {
		require.NoError(t, s.WriteU32(v))
	}
	require.NoError(t, s.Seek(0))
	for _, want := range values {
		got, err := s.ReadU32()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestPascalString(t *testing.T) {
	h := source.NewWritableMemoryHandle(binary.BigEndian)
	s := stream.New(h)
	require.NoError(t, s.WritePascalString("hello"))
	require.NoError(t, s.Seek(0))
	got, err := s.ReadPascalString()
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestReadLine(t *testing.T) {
	h := source.NewMemoryHandle([]byte("first\nsecond\nthird"), binary.BigEndian)
	s := stream.New(h)
	l1, err := s.ReadLine('\n')
	require.NoError(t, err)
	assert.Equal(t, "first", l1)
	l2, err := s.ReadLine('\n')
	require.NoError(t, err)
	assert.Equal(t, "second", l2)
}
