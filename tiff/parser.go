package tiff

import (
	"encoding/binary"

	"github.com/RayPlante/scifio/binutil"
	"github.com/RayPlante/scifio/stream"
)

// Parse walks the TIFF header and IFD chain of s, decodes every tag, and
// applies comment interpretation (ImageJ/MetaMorph). It does not read any
// strip/tile pixel bytes -- that happens lazily in Reader.OpenPlane.
func Parse(s *stream.Stream) (*ParseResult, error) {
	if err := s.Seek(0); err != nil {
		return nil, err
	}
	b0, err := s.ReadU8()
	if err != nil {
		return nil, ErrNotATIFF
	}
	b1, err := s.ReadU8()
	if err != nil {
		return nil, ErrNotATIFF
	}
	var little bool
	switch {
	case b0 == 'I' && b1 == 'I':
		little = true
	case b0 == 'M' && b1 == 'M':
		little = false
	default:
		return nil, ErrNotATIFF
	}
	if little {
		s.SetOrder(binary.LittleEndian)
	} else {
		s.SetOrder(binary.BigEndian)
	}

	magic, err := s.ReadU16()
	if err != nil {
		return nil, ErrNotATIFF
	}

	var bigTIFF bool
	var firstOffset uint64
	switch magic {
	case ClassicMagic:
		bigTIFF = false
		off, err := s.ReadU32()
		if err != nil {
			return nil, ErrNotATIFF
		}
		firstOffset = uint64(off)
	case BigMagic:
		bigTIFF = true
		offsetSize, err := s.ReadU16()
		if err != nil || offsetSize != 8 {
			return nil, ErrNotATIFF
		}
		reserved, err := s.ReadU16()
		if err != nil || reserved != 0 {
			return nil, ErrNotATIFF
		}
		off, err := s.ReadU64()
		if err != nil {
			return nil, ErrNotATIFF
		}
		firstOffset = off
	default:
		return nil, ErrNotATIFF
	}

	chain, err := walkIFDChain(s, firstOffset, bigTIFF, little)
	if err != nil {
		return nil, err
	}

	result := &ParseResult{Chain: chain, LittleEndian: little, BigTIFF: bigTIFF}
	applyCommentInterpretation(result)
	return result, nil
}

// walkIFDChain walks the linked list of IFDs starting at firstOffset,
// decoding every entry's tag/type/value, with cycle detection and a hard
// cap on IFD count.
func walkIFDChain(s *stream.Stream, firstOffset uint64, bigTIFF, little bool) (IFDChain, error) {
	var chain IFDChain
	visited := make(map[uint64]bool)
	offset := firstOffset
	for offset != 0 {
		if visited[offset] {
			return nil, CyclicIFDError{Offset: int64(offset)}
		}
		if len(chain) >= MaxIFDCount {
			return nil, fmtError("IFD count exceeds MaxIFDCount")
		}
		visited[offset] = true

		ifd, next, err := readOneIFD(s, offset, bigTIFF, little)
		if err != nil {
			return nil, err
		}
		ifd.SelfOffset = offset
		ifd.NextOffset = next
		chain = append(chain, ifd)
		offset = next
	}
	return chain, nil
}

// readOneIFD decodes a single IFD starting at offset and returns it plus
// the next-IFD offset.
func readOneIFD(s *stream.Stream, offset uint64, bigTIFF, little bool) (*IFD, uint64, error) {
	if err := s.Seek(int64(offset)); err != nil {
		return nil, 0, err
	}

	var entryCount uint64
	if bigTIFF {
		n, err := s.ReadU64()
		if err != nil {
			return nil, 0, err
		}
		entryCount = n
	} else {
		n, err := s.ReadU16()
		if err != nil {
			return nil, 0, err
		}
		entryCount = uint64(n)
	}

	ifd := NewIFD()
	for i := uint64(0); i < entryCount; i++ {
		tag, err := readTagEntry(s, bigTIFF, little)
		if err != nil {
			return nil, 0, err
		}
		ifd.Set(tag)
	}

	var next uint64
	if bigTIFF {
		n, err := s.ReadU64()
		if err != nil {
			return nil, 0, err
		}
		next = n
	} else {
		n, err := s.ReadU32()
		if err != nil {
			return nil, 0, err
		}
		next = uint64(n)
	}
	return ifd, next, nil
}

// readTagEntry decodes one 12-byte (classic) or 20-byte (BigTIFF) IFD
// entry: tag-id(2), type(2), count(4/8), value-or-offset(4/8).
func readTagEntry(s *stream.Stream, bigTIFF, little bool) (Tag, error) {
	id, err := s.ReadU16()
	if err != nil {
		return Tag{}, err
	}
	typ, err := s.ReadU16()
	if err != nil {
		return Tag{}, err
	}
	dt := DataType(typ)

	var count uint64
	if bigTIFF {
		count, err = s.ReadU64()
	} else {
		var c32 uint32
		c32, err = s.ReadU32()
		count = uint64(c32)
	}
	if err != nil {
		return Tag{}, err
	}

	valueFieldSize := 4
	if bigTIFF {
		valueFieldSize = 8
	}
	valueFieldPos := s.Position()

	elemSize := TypeSize[dt]
	if elemSize == 0 {
		elemSize = 1 // UNDEFINED and unknown types default to byte-sized.
	}
	totalSize := elemSize * int(count)

	var raw []byte
	if totalSize <= valueFieldSize {
		raw = make([]byte, valueFieldSize)
		if err := readExact(s, raw); err != nil {
			return Tag{}, err
		}
		raw = raw[:totalSize]
	} else {
		// The value field holds an offset to external bytes.
		var dataOffset uint64
		if bigTIFF {
			dataOffset, err = s.ReadU64()
		} else {
			var o32 uint32
			o32, err = s.ReadU32()
			dataOffset = uint64(o32)
		}
		if err != nil {
			return Tag{}, err
		}
		raw = make([]byte, totalSize)
		if _, err := s.ReadAt(raw, int64(dataOffset)); err != nil {
			return Tag{}, err
		}
		// Restore cursor to just after the value-or-offset field.
		if err := s.Seek(valueFieldPos + int64(valueFieldSize)); err != nil {
			return Tag{}, err
		}
	}

	value, err := decodeTagValue(dt, int(count), raw, little)
	if err != nil {
		return Tag{}, err
	}
	return Tag{ID: id, Type: dt, Value: value}, nil
}

func readExact(s *stream.Stream, buf []byte) error {
	for i := range buf {
		b, err := s.ReadU8()
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}

// decodeTagValue decodes raw bytes of the given DataType/count into a
// TagValue.
func decodeTagValue(dt DataType, count int, raw []byte, little bool) (TagValue, error) {
	switch dt {
	case TypeByte:
		return ByteValues(append([]byte(nil), raw...)), nil
	case TypeASCII:
		s := string(raw)
		if i := indexByte(raw, 0); i >= 0 {
			s = string(raw[:i])
		}
		return ASCIIValue(s), nil
	case TypeShort:
		out := make(ShortValues, count)
		for i := 0; i < count; i++ {
			out[i] = binutil.BytesToU16(raw, i*2, 2, little)
		}
		return out, nil
	case TypeLong, TypeIFD:
		out := make(LongValues, count)
		for i := 0; i < count; i++ {
			out[i] = binutil.BytesToU32(raw, i*4, 4, little)
		}
		if dt == TypeIFD {
			ifdv := make(IFDValues, count)
			for i, v := range out {
				ifdv[i] = uint64(v)
			}
			return ifdv, nil
		}
		return out, nil
	case TypeRational:
		out := make(RationalValues, count)
		for i := 0; i < count; i++ {
			out[i] = Rational{
				Num:   binutil.BytesToU32(raw, i*8, 4, little),
				Denom: binutil.BytesToU32(raw, i*8+4, 4, little),
			}
		}
		return out, nil
	case TypeSByte:
		out := make(SByteValues, count)
		for i := 0; i < count; i++ {
			out[i] = int8(raw[i])
		}
		return out, nil
	case TypeUndefined:
		return UndefinedValues(append([]byte(nil), raw...)), nil
	case TypeSShort:
		out := make(SShortValues, count)
		for i := 0; i < count; i++ {
			out[i] = binutil.BytesToI16(raw, i*2, 2, little)
		}
		return out, nil
	case TypeSLong:
		out := make(SLongValues, count)
		for i := 0; i < count; i++ {
			out[i] = binutil.BytesToI32(raw, i*4, 4, little)
		}
		return out, nil
	case TypeSRational:
		out := make(SRationalValues, count)
		for i := 0; i < count; i++ {
			out[i] = SRational{
				Num:   binutil.BytesToI32(raw, i*8, 4, little),
				Denom: binutil.BytesToI32(raw, i*8+4, 4, little),
			}
		}
		return out, nil
	case TypeFloat:
		out := make(FloatValues, count)
		for i := 0; i < count; i++ {
			out[i] = binutil.BytesToF32(raw, i*4, little)
		}
		return out, nil
	case TypeDouble:
		out := make(DoubleValues, count)
		for i := 0; i < count; i++ {
			out[i] = binutil.BytesToF64(raw, i*8, little)
		}
		return out, nil
	case TypeLong8:
		out := make(Long8Values, count)
		for i := 0; i < count; i++ {
			out[i] = binutil.BytesToU64(raw, i*8, 8, little)
		}
		return out, nil
	case TypeSLong8:
		out := make(SLong8Values, count)
		for i := 0; i < count; i++ {
			out[i] = binutil.BytesToI64(raw, i*8, 8, little)
		}
		return out, nil
	case TypeIFD8:
		out := make(IFDValues, count)
		for i := 0; i < count; i++ {
			out[i] = binutil.BytesToU64(raw, i*8, 8, little)
		}
		return out, nil
	default:
		// Unknown type: keep the raw bytes so round-trip re-serialization
		// is still possible even if this engine doesn't interpret it.
		return UndefinedValues(append([]byte(nil), raw...)), nil
	}
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

// applyCommentInterpretation inspects IFD #0's IMAGE_DESCRIPTION and
// SOFTWARE tags to pick an ImageJ/MetaMorph/generic comment parse, and
// triggers the ImageJ truncated-stack recovery when warranted.
func applyCommentInterpretation(r *ParseResult) {
	if len(r.Chain) == 0 {
		return
	}
	ifd0 := r.Chain[0]
	desc, _ := ifd0.GetString(TagImageDescription)
	software, _ := ifd0.GetString(TagSoftware)

	switch {
	case isImageJDescription(desc):
		meta := parseImageJComment(desc)
		if len(r.Chain) == 1 {
			want := meta.Images
			if want <= 0 {
				want = meta.Channels * meta.Slices * meta.Frames
			}
			c, z, t := axisLengthsFromImageJ(meta, want)
			if want > len(r.Chain) && c*z*t > 1 {
				compression := ifd0.GetIntDefault(TagCompression, int(CompressionNone))
				if compression == int(CompressionNone) || compression == 0 {
					synthesizeTruncatedStack(r, want)
					r.Warnings = append(r.Warnings,
						"ImageJ truncated-stack recovery applied: synthesized additional IFDs from IFD #0's strip layout (best-effort)")
				}
			}
		}
	case isMetaMorphSoftware(software):
		_ = parseMetaMorphComment(desc)
	default:
		if desc != "" {
			_ = parseGenericComment(desc)
		}
	}
}

// synthesizeTruncatedStack copies IFD #0 wantCount-1 additional times,
// rewriting STRIP_OFFSETS based on the first IFD's strip layout -- an
// explicitly best-effort recovery, flagged via ParseResult.Warnings, never
// silently "fixed" beyond this.
func synthesizeTruncatedStack(r *ParseResult, wantCount int) {
	if wantCount <= len(r.Chain) {
		return
	}
	ifd0 := r.Chain[0]
	byteCounts, err := ifd0.GetLongArray(TagStripByteCounts)
	if err != nil || len(byteCounts) == 0 {
		return
	}
	offsets, err := ifd0.GetLongArray(TagStripOffsets)
	if err != nil || len(offsets) == 0 {
		return
	}
	var planeSize uint32
	for _, bc := range byteCounts {
		planeSize += bc
	}
	for i := len(r.Chain); i < wantCount; i++ {
		clone := NewIFD()
		for _, t := range ifd0.Tags() {
			clone.Set(t)
		}
		newOffsets := make(LongValues, len(offsets))
		for j, o := range offsets {
			newOffsets[j] = o + planeSize*uint32(i)
		}
		clone.Set(Tag{ID: TagStripOffsets, Type: TypeLong, Value: newOffsets})
		r.Chain = append(r.Chain, clone)
	}
}
