// Package source implements the random-access byte stream layer: a uniform
// SourceHandle interface backed by memory buffers, local files, HTTP URLs,
// and transparent decompression wrappers over any of those.
package source

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Handle is an open byte stream with a current position, a length, and a
// byte order.
type Handle interface {
	// Length returns the current total length of the stream.
	Length() (int64, error)
	// Position returns the current read/write pointer.
	Position() int64
	// Seek moves the pointer to pos. Seeking past the current length is
	// legal for writable handles (MemoryHandle extends length at the seek,
	// FileHandle on the next write) and legal-but-will-fail-on-read for
	// read-only handles.
	Seek(pos int64) error
	// Read fills buf fully or returns ErrUnexpectedEnd; on a short read the
	// returned count says how many leading bytes of buf were filled.
	Read(buf []byte) (int, error)
	// Write writes buf at the current position, growing the handle if
	// writable and necessary. Returns ErrReadOnly otherwise.
	Write(buf []byte) (int, error)
	// Order returns the byte order primitive reads/writes should use.
	Order() binary.ByteOrder
	// SetOrder changes the byte order used by primitive reads/writes.
	SetOrder(o binary.ByteOrder)
	// Writable reports whether Write is supported.
	Writable() bool
	// Close releases any underlying resources.
	Close() error
}

// ErrReadOnly is returned by Write on a read-only handle.
var ErrReadOnly = errors.New("source: handle is read-only")

// ErrUnexpectedEnd is returned when a read cannot be satisfied because the
// stream is shorter than requested.
var ErrUnexpectedEnd = errors.New("source: unexpected end of stream")

// ErrCancelled is returned by an in-flight read/write after the owning
// handle has been closed from another goroutine.
var ErrCancelled = errors.New("source: handle was closed (cancelled)")

// IOError wraps a lower-level I/O failure with context.
type IOError struct {
	Msg   string
	Cause error
}

func (e *IOError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("source: %s: %v", e.Msg, e.Cause)
	}
	return fmt.Sprintf("source: %s", e.Msg)
}

func (e *IOError) Unwrap() error { return e.Cause }

func wrapIO(msg string, cause error) error {
	if cause == nil {
		return nil
	}
	return &IOError{Msg: msg, Cause: cause}
}
