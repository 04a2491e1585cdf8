package tiff

// Tag pairs a tag ID with its decoded Type and Value.
type Tag struct {
	ID    uint16
	Type  DataType
	Value TagValue
}

// IFD is an ordered mapping tag-id -> Tag, preserving insertion order for
// stable serialization.
type IFD struct {
	order []uint16
	tags  map[uint16]Tag
	// NextOffset is the file offset of the next IFD in the chain, 0 if
	// this is the last one. Populated by the parser; the writer tracks its
	// own relink positions and does not read it.
	NextOffset uint64
	// SelfOffset is the file offset this IFD itself was read from.
	// Populated by the parser; the writer does not set it.
	SelfOffset uint64
}

// NewIFD returns an empty IFD.
func NewIFD() *IFD {
	return &IFD{tags: make(map[uint16]Tag)}
}

// Set inserts or replaces tag t, preserving the original insertion position
// on replace.
func (d *IFD) Set(t Tag) {
	if _, exists := d.tags[t.ID]; !exists {
		d.order = append(d.order, t.ID)
	}
	d.tags[t.ID] = t
}

// Get returns the tag with the given ID and whether it was present.
func (d *IFD) Get(id uint16) (Tag, bool) {
	t, ok := d.tags[id]
	return t, ok
}

// Has reports whether tag id is present.
func (d *IFD) Has(id uint16) bool {
	_, ok := d.tags[id]
	return ok
}

// Tags returns every tag in insertion order.
func (d *IFD) Tags() []Tag {
	out := make([]Tag, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.tags[id])
	}
	return out
}

// --- typed getters, coercing narrower integer types up to a common width ---

// GetUintArray returns tag id's value widened to a []uint64, coercing
// Byte/Short/Long/Long8 arrays. Signed arrays are not coerced. Fails with
// MissingTagError, or with BadTagTypeError for any other value type.
func (d *IFD) GetUintArray(id uint16) ([]uint64, error) {
	t, ok := d.tags[id]
	if !ok {
		return nil, MissingTagError{ID: id}
	}
	switch v := t.Value.(type) {
	case ByteValues:
		out := make([]uint64, len(v))
		for i, b := range v {
			out[i] = uint64(b)
		}
		return out, nil
	case ShortValues:
		out := make([]uint64, len(v))
		for i, s := range v {
			out[i] = uint64(s)
		}
		return out, nil
	case LongValues:
		out := make([]uint64, len(v))
		for i, l := range v {
			out[i] = uint64(l)
		}
		return out, nil
	case Long8Values:
		out := make([]uint64, len(v))
		copy(out, v)
		return out, nil
	default:
		return nil, BadTagTypeError{ID: id, Have: t.Type, Want: TypeLong}
	}
}

// GetInt returns the first value of an integer-typed tag widened to int.
func (d *IFD) GetInt(id uint16) (int, error) {
	vs, err := d.GetUintArray(id)
	if err != nil {
		return 0, err
	}
	if len(vs) == 0 {
		return 0, MissingTagError{ID: id}
	}
	return int(vs[0]), nil
}

// GetIntDefault is GetInt but returns def if the tag is absent.
func (d *IFD) GetIntDefault(id uint16, def int) int {
	v, err := d.GetInt(id)
	if err != nil {
		return def
	}
	return v
}

// GetString returns an ASCII tag's value.
func (d *IFD) GetString(id uint16) (string, error) {
	t, ok := d.tags[id]
	if !ok {
		return "", MissingTagError{ID: id}
	}
	s, ok := t.Value.(ASCIIValue)
	if !ok {
		return "", BadTagTypeError{ID: id, Have: t.Type, Want: TypeASCII}
	}
	return string(s), nil
}

// GetLongArray returns tag id's value as []uint32, truncating from a wider
// decoded representation if necessary.
func (d *IFD) GetLongArray(id uint16) ([]uint32, error) {
	vs, err := d.GetUintArray(id)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, len(vs))
	for i, v := range vs {
		out[i] = uint32(v)
	}
	return out, nil
}

// GetLong8Array returns tag id's value as []uint64 (BigTIFF-width), an
// alias of GetUintArray kept for naming symmetry with BigTIFF's dedicated
// 64-bit tag types.
func (d *IFD) GetLong8Array(id uint16) ([]uint64, error) { return d.GetUintArray(id) }

// GetRationalArray returns a RATIONAL-typed tag's value.
func (d *IFD) GetRationalArray(id uint16) ([]Rational, error) {
	t, ok := d.tags[id]
	if !ok {
		return nil, MissingTagError{ID: id}
	}
	v, ok := t.Value.(RationalValues)
	if !ok {
		return nil, BadTagTypeError{ID: id, Have: t.Type, Want: TypeRational}
	}
	return []Rational(v), nil
}

// GetBitsPerSample returns the BITS_PER_SAMPLE array, defaulting to a
// single entry of 1 if absent (bilevel images sometimes omit it).
func (d *IFD) GetBitsPerSample() ([]uint32, error) {
	if !d.Has(TagBitsPerSample) {
		return []uint32{1}, nil
	}
	return d.GetLongArray(TagBitsPerSample)
}

// SamplesPerPixel returns SAMPLES_PER_PIXEL, defaulting to 1 per the TIFF
// 6.0 spec.
func (d *IFD) SamplesPerPixel() int { return d.GetIntDefault(TagSamplesPerPixel, 1) }

// PlanarConfiguration returns PLANAR_CONFIGURATION, defaulting to 1
// (chunky) per the TIFF 6.0 spec.
func (d *IFD) PlanarConfiguration() int { return d.GetIntDefault(TagPlanarConfiguration, PlanarChunky) }

// RequireTags validates that every tag ID in ids is present.
func (d *IFD) RequireTags(ids ...uint16) error {
	for _, id := range ids {
		if !d.Has(id) {
			return MissingTagError{ID: id}
		}
	}
	return nil
}

// RequiredBaselineTags is the set of baseline TIFF tags required once
// parsing finishes. Strip-or-tile offsets/byte-counts are checked
// separately since which pair is required depends on the layout in use.
var RequiredBaselineTags = []uint16{
	TagImageWidth,
	TagImageLength,
	TagBitsPerSample,
	TagCompression,
	TagPhotometricInterpretation,
}

// IFDChain is an ordered sequence of IFDs; position i corresponds to the
// i-th plane.
type IFDChain []*IFD
