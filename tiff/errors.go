package tiff

import "fmt"

// ErrNotATIFF is returned when the header bytes don't match either TIFF
// variant's magic sequence.
var ErrNotATIFF = fmtError("not a TIFF file")

// ErrWouldOverflow32 is returned by the writer when BigTIFF promotion was
// explicitly disabled but the projected file length exceeds
// BigTIFFPromoteThreshold.
var ErrWouldOverflow32 = fmtError("writing this plane would overflow a classic 32-bit offset and BigTIFF was explicitly disabled")

// ErrBadStripLayout / ErrBadTileLayout report a strip/tile offset-count
// array whose length doesn't match the computed strip/tile count.
var ErrBadStripLayout = fmtError("strip offsets/byte-counts inconsistent with image dimensions")
var ErrBadTileLayout = fmtError("tile offsets/byte-counts inconsistent with image dimensions")

type stringError string

func fmtError(msg string) error { return stringError(msg) }

func (e stringError) Error() string { return "tiff: " + string(e) }

// CyclicIFDError reports that the IFD chain walk revisited an offset.
type CyclicIFDError struct{ Offset int64 }

func (e CyclicIFDError) Error() string {
	return fmt.Sprintf("tiff: cyclic IFD chain detected at offset %d", e.Offset)
}

// MissingTagError reports a required tag absent from an IFD.
type MissingTagError struct{ ID uint16 }

func (e MissingTagError) Error() string {
	return fmt.Sprintf("tiff: missing required tag %d", e.ID)
}

// BadTagTypeError reports a tag whose stored type cannot be coerced to the
// type the caller requested.
type BadTagTypeError struct {
	ID        uint16
	Have, Want DataType
}

func (e BadTagTypeError) Error() string {
	return fmt.Sprintf("tiff: tag %d has type %d, cannot coerce to %d", e.ID, e.Have, e.Want)
}

// UnsupportedCompressionError reports a COMPRESSION code this engine cannot
// decode or encode -- codecs beyond LZW and Deflate (both read-only) and
// PackBits/None are out of scope.
type UnsupportedCompressionError struct{ Code CompressionCode }

func (e UnsupportedCompressionError) Error() string {
	return fmt.Sprintf("tiff: unsupported compression code %d", e.Code)
}

// TruncatedPlaneError reports that a plane's strip/tile byte counts exceed
// the file's actual length.
type TruncatedPlaneError struct{ PlaneIndex int }

func (e TruncatedPlaneError) Error() string {
	return fmt.Sprintf("tiff: plane %d is truncated (byte counts exceed file length)", e.PlaneIndex)
}

// IndexOutOfRangeError reports an out-of-range image or plane index.
type IndexOutOfRangeError struct {
	Kind  string
	Index int
}

func (e IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("tiff: %s index %d out of range", e.Kind, e.Index)
}

// InvalidAxisSpecError reports an axis specification that doesn't match the
// image's actual axis layout.
type InvalidAxisSpecError struct{ Reason string }

func (e InvalidAxisSpecError) Error() string {
	return "tiff: invalid axis spec: " + e.Reason
}
