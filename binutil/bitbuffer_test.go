package binutil_test

import (
	"math/rand"
	"testing"

	"github.com/RayPlante/scifio/binutil"
	"github.com/stretchr/testify/assert"
)

func TestBitBufferRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	type pair struct {
		value uint32
		width int
	}
	var pairs []pair
	w := binutil.NewBitWriter()
	for i := 0; i < 500; i++ {
		width := 1 + rng.Intn(32)
		var max uint64 = 1 << uint(width)
		value := uint32(rng.Uint64() % max)
		pairs = append(pairs, pair{value, width})
		w.WriteBits(value, width)
	}

	r := binutil.NewBitBuffer(w.Bytes())
	for _, p := range pairs {
		got := r.ReadBits(p.width)
		assert.False(t, r.EOF())
		assert.Equal(t, int32(p.value), got)
	}
}

func TestBitBufferEOF(t *testing.T) {
	r := binutil.NewBitBuffer([]byte{0xFF})
	assert.Equal(t, int32(0xFF), r.ReadBits(8))
	assert.Equal(t, int32(-1), r.ReadBits(1))
	assert.True(t, r.EOF())
	assert.Equal(t, int32(-1), r.ReadBits(1))
}

func TestSkipBits(t *testing.T) {
	w := binutil.NewBitWriter()
	w.WriteBits(0xAB, 8)
	w.WriteBits(0xCD, 8)
	r := binutil.NewBitBuffer(w.Bytes())
	r.SkipBits(8)
	assert.Equal(t, int32(0xCD), r.ReadBits(8))
}
