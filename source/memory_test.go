package source_test

import (
	"encoding/binary"
	"testing"

	"github.com/RayPlante/scifio/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryHandleReadPastEndFails(t *testing.T) {
	h := source.NewMemoryHandle([]byte{1, 2, 3}, binary.BigEndian)
	buf := make([]byte, 4)
	_, err := h.Read(buf)
	assert.ErrorIs(t, err, source.ErrUnexpectedEnd)
}

func TestWritableMemoryHandleGrows(t *testing.T) {
	h := source.NewWritableMemoryHandle(binary.BigEndian)
	n, err := h.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	length, _ := h.Length()
	assert.Equal(t, int64(5), length)

	require.NoError(t, h.Seek(0))
	buf := make([]byte, 5)
	_, err = h.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestMemoryHandleReadOnlyWriteFails(t *testing.T) {
	h := source.NewMemoryHandle([]byte{1}, binary.BigEndian)
	_, err := h.Write([]byte{2})
	assert.ErrorIs(t, err, source.ErrReadOnly)
}

func TestMemoryHandleSeekPastEndExtends(t *testing.T) {
	h := source.NewWritableMemoryHandle(binary.BigEndian)
	require.NoError(t, h.Seek(10))
	length, _ := h.Length()
	assert.Equal(t, int64(10), length)
}

func TestMemoryHandleSetLengthTruncates(t *testing.T) {
	h := source.NewWritableMemoryHandle(binary.BigEndian)
	_, err := h.Write([]byte("hello world"))
	require.NoError(t, err)
	h.SetLength(5)
	length, _ := h.Length()
	assert.Equal(t, int64(5), length)
	assert.Equal(t, "hello", string(h.Bytes()))
}
