// Package tiff implements a TIFF directory model, parser, and writer: IFD
// chain walking, tag/value decoding, strip/tile plane reassembly, BigTIFF
// upgrade logic, ImageJ/MetaMorph comment interpretation, and a writer that
// streams planes while rewriting directory offsets.
package tiff

// Header magic.
const (
	LEHeader = "II"
	BEHeader = "MM"

	ClassicMagic = 42
	BigMagic     = 43

	ClassicIFDEntryLen = 12 // tag(2) type(2) count(4) value/offset(4)
	BigIFDEntryLen     = 20 // tag(2) type(2) count(8) value/offset(8)
)

// DataType is a TIFF/BigTIFF tag value type code (TIFF 6.0 spec §2, BigTIFF
// extension types 16-18).
type DataType uint16

const (
	TypeByte      DataType = 1
	TypeASCII     DataType = 2
	TypeShort     DataType = 3
	TypeLong      DataType = 4
	TypeRational  DataType = 5
	TypeSByte     DataType = 6
	TypeUndefined DataType = 7
	TypeSShort    DataType = 8
	TypeSLong     DataType = 9
	TypeSRational DataType = 10
	TypeFloat     DataType = 11
	TypeDouble    DataType = 12
	TypeIFD       DataType = 13
	TypeLong8     DataType = 16 // BigTIFF
	TypeSLong8    DataType = 17
	TypeIFD8      DataType = 18
)

// TypeSize is the byte size of one value of each DataType.
var TypeSize = map[DataType]int{
	TypeByte:      1,
	TypeASCII:     1,
	TypeShort:     2,
	TypeLong:      4,
	TypeRational:  8,
	TypeSByte:     1,
	TypeUndefined: 1,
	TypeSShort:    2,
	TypeSLong:     4,
	TypeSRational: 8,
	TypeFloat:     4,
	TypeDouble:    8,
	TypeIFD:       4,
	TypeLong8:     8,
	TypeSLong8:    8,
	TypeIFD8:      8,
}

// Well-known tag IDs (TIFF 6.0 spec §3, plus the ImageJ private tags this
// engine recognizes for comment metadata).
const (
	TagNewSubfileType            uint16 = 254
	TagImageWidth                uint16 = 256
	TagImageLength               uint16 = 257
	TagBitsPerSample             uint16 = 258
	TagCompression                uint16 = 259
	TagPhotometricInterpretation  uint16 = 262
	TagImageDescription          uint16 = 270
	TagStripOffsets              uint16 = 273
	TagSamplesPerPixel           uint16 = 277
	TagRowsPerStrip              uint16 = 278
	TagStripByteCounts           uint16 = 279
	TagXResolution               uint16 = 282
	TagYResolution               uint16 = 283
	TagPlanarConfiguration       uint16 = 284
	TagResolutionUnit            uint16 = 296
	TagSoftware                  uint16 = 305
	TagPredictor                 uint16 = 317
	TagColorMap                  uint16 = 320
	TagTileWidth                 uint16 = 322
	TagTileLength                uint16 = 323
	TagTileOffsets               uint16 = 324
	TagTileByteCounts            uint16 = 325
	TagExtraSamples              uint16 = 338
	TagSampleFormat              uint16 = 339

	TagImageJMetadataByteCounts uint16 = 50838
	TagImageJMetadata           uint16 = 50839
)

// Compression codes (TIFF 6.0 spec §3, plus the Adobe PackBits/Deflate
// extensions).
type CompressionCode int

const (
	CompressionNone       CompressionCode = 1
	CompressionCCITT      CompressionCode = 2
	CompressionG3         CompressionCode = 3
	CompressionG4         CompressionCode = 4
	CompressionLZW        CompressionCode = 5
	CompressionJPEGOld    CompressionCode = 6
	CompressionJPEG       CompressionCode = 7
	CompressionDeflate    CompressionCode = 8
	CompressionPackBits   CompressionCode = 32773
	CompressionDeflateOld CompressionCode = 32946
)

// Photometric interpretation values (TIFF 6.0 spec §3).
const (
	PhotometricWhiteIsZero int = 0
	PhotometricBlackIsZero int = 1
	PhotometricRGB         int = 2
	PhotometricPaletted    int = 3
	PhotometricTransMask   int = 4
	PhotometricCMYK        int = 5
	PhotometricYCbCr       int = 6
	PhotometricCIELab      int = 8
)

// Predictor values (TIFF 6.0 spec §14).
const (
	PredictorNone       int = 1
	PredictorHorizontal int = 2
	PredictorFloat      int = 3
)

// PlanarConfiguration values (TIFF 6.0 spec §3).
const (
	PlanarChunky   int = 1 // interleaved components
	PlanarSeparate int = 2 // planar components
)

// BigTIFFPromoteThreshold is the byte threshold beyond which the writer
// auto-promotes to BigTIFF: 2^31-1, so a projected length of 2 GiB (2^31
// bytes) or more promotes. This is well below the 2^32-1 that a classic
// TIFF's unsigned 32-bit offsets can address.
const BigTIFFPromoteThreshold int64 = 1<<31 - 1

// MaxIFDCount is the hard cap on the number of IFDs walked in a single
// chain, guarding against unbounded parsing of a maliciously crafted or
// corrupt cyclic chain.
const MaxIFDCount = 65536
