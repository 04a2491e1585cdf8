package tiff

import "math/big"

// Rational is an unsigned TIFF rational value (numerator over denominator).
type Rational struct{ Num, Denom uint32 }

// Float64 returns the rational as a float64 (0 if Denom is 0).
func (r Rational) Float64() float64 {
	if r.Denom == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Denom)
}

// Rat returns the rational as an exact math/big.Rat.
func (r Rational) Rat() *big.Rat { return big.NewRat(int64(r.Num), int64(r.Denom)) }

// SRational is a signed TIFF rational value.
type SRational struct{ Num, Denom int32 }

func (r SRational) Float64() float64 {
	if r.Denom == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Denom)
}

func (r SRational) Rat() *big.Rat { return big.NewRat(int64(r.Num), int64(r.Denom)) }

// TagValue is the decoded payload of a Tag. Each concrete type corresponds
// to one or more TIFF DataTypes.
type TagValue interface {
	isTagValue()
	// Len returns the number of values in the array.
	Len() int
}

type ByteValues []uint8

func (ByteValues) isTagValue() {}
func (v ByteValues) Len() int  { return len(v) }

type ASCIIValue string

func (ASCIIValue) isTagValue() {}
func (v ASCIIValue) Len() int  { return len(v) }

type ShortValues []uint16

func (ShortValues) isTagValue() {}
func (v ShortValues) Len() int  { return len(v) }

type LongValues []uint32

func (LongValues) isTagValue() {}
func (v LongValues) Len() int  { return len(v) }

type RationalValues []Rational

func (RationalValues) isTagValue() {}
func (v RationalValues) Len() int  { return len(v) }

type SByteValues []int8

func (SByteValues) isTagValue() {}
func (v SByteValues) Len() int  { return len(v) }

type SShortValues []int16

func (SShortValues) isTagValue() {}
func (v SShortValues) Len() int  { return len(v) }

type SLongValues []int32

func (SLongValues) isTagValue() {}
func (v SLongValues) Len() int  { return len(v) }

type SRationalValues []SRational

func (SRationalValues) isTagValue() {}
func (v SRationalValues) Len() int  { return len(v) }

type FloatValues []float32

func (FloatValues) isTagValue() {}
func (v FloatValues) Len() int  { return len(v) }

type DoubleValues []float64

func (DoubleValues) isTagValue() {}
func (v DoubleValues) Len() int  { return len(v) }

// Long8Values holds BigTIFF 64-bit unsigned integers (DataType 16).
type Long8Values []uint64

func (Long8Values) isTagValue() {}
func (v Long8Values) Len() int  { return len(v) }

// SLong8Values holds BigTIFF 64-bit signed integers (DataType 17).
type SLong8Values []int64

func (SLong8Values) isTagValue() {}
func (v SLong8Values) Len() int  { return len(v) }

type UndefinedValues []byte

func (UndefinedValues) isTagValue() {}
func (v UndefinedValues) Len() int  { return len(v) }

// IFDValues holds pointer-to-IFD offsets (DataType 13/18).
type IFDValues []uint64

func (IFDValues) isTagValue() {}
func (v IFDValues) Len() int  { return len(v) }
