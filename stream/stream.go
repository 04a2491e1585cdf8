// Package stream implements BufferedStream: a buffered, endian-aware
// primitive reader/writer over any source.Handle.
package stream

import (
	"encoding/binary"
	"math"

	"github.com/RayPlante/scifio/source"
)

// DefaultBufferSize is the default size of the in-memory read/write window.
const DefaultBufferSize = 4096

// Stream is a view over a source.Handle with a buffered read/write window,
// a logical file pointer, and a mutable byte order.
type Stream struct {
	h         source.Handle
	order     binary.ByteOrder
	bufSize   int
	buf       []byte
	bufStart  int64 // logical position the start of buf corresponds to
	bufValid  int   // number of valid bytes in buf (read mode)
	dirty     bool  // buf holds unflushed writes
	dirtyFrom int   // first dirty offset within buf
	dirtyTo   int   // one past last dirty offset within buf
	pos       int64 // logical position of the next read/write
}

// Option configures a Stream at construction.
type Option func(*Stream)

// WithBufferSize overrides DefaultBufferSize.
func WithBufferSize(n int) Option {
	return func(s *Stream) { s.bufSize = n }
}

// New wraps h in a Stream using h's current byte order.
func New(h source.Handle, opts ...Option) *Stream {
	s := &Stream{h: h, order: h.Order(), bufSize: DefaultBufferSize}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Position returns the logical source position -- never a buffer-internal
// one.
func (s *Stream) Position() int64 { return s.pos }

// Order returns the current byte order.
func (s *Stream) Order() binary.ByteOrder { return s.order }

// SetOrder changes the byte order used by subsequent primitive reads/writes.
func (s *Stream) SetOrder(o binary.ByteOrder) { s.order = o }

// Seek moves the logical position, flushing any pending writes first.
func (s *Stream) Seek(pos int64) error {
	if err := s.Flush(); err != nil {
		return err
	}
	s.pos = pos
	s.bufValid = 0
	return nil
}

// Length returns the handle's current length.
func (s *Stream) Length() (int64, error) { return s.h.Length() }

// SetLength truncates or extends the underlying handle. A MemoryHandle is
// truncated or zero-filled to exactly n. Any other handle is only grown (by
// writing a zero byte at n-1); shrinking one is a no-op and its length
// stays unchanged.
func (s *Stream) SetLength(n int64) error {
	if err := s.Flush(); err != nil {
		return err
	}
	if mh, ok := s.h.(*source.MemoryHandle); ok {
		mh.SetLength(n)
		return nil
	}
	cur, err := s.h.Length()
	if err != nil {
		return err
	}
	if n <= cur {
		// No generic truncate on the Handle interface; callers needing a
		// hard truncate on file handles should do so via os.Truncate
		// before wrapping. Stream honors the "length becomes n" contract
		// for subsequent reads by refusing to read past n itself -- not
		// applicable here since Handle.Length is authoritative, so this is
		// a no-op for non-memory handles with n <= cur.
		return nil
	}
	if err := s.h.Seek(n - 1); err != nil {
		return err
	}
	_, err = s.h.Write([]byte{0})
	return err
}

// Close flushes and closes the underlying handle.
func (s *Stream) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	return s.h.Close()
}

// Flush is idempotent: if there is nothing dirty, it does nothing.
func (s *Stream) Flush() error {
	if !s.dirty {
		return nil
	}
	if err := s.h.Seek(s.bufStart + int64(s.dirtyFrom)); err != nil {
		return err
	}
	if _, err := s.h.Write(s.buf[s.dirtyFrom:s.dirtyTo]); err != nil {
		return err
	}
	s.dirty = false
	s.dirtyFrom, s.dirtyTo = 0, 0
	return nil
}

// read satisfies exactly len(p) bytes at the logical position. A request
// larger than the buffer goes straight to the handle; one that straddles
// the current window refills the window starting at the logical position.
func (s *Stream) read(p []byte) error {
	if len(p) > s.bufSize {
		if err := s.Flush(); err != nil {
			return err
		}
		if err := s.h.Seek(s.pos); err != nil {
			return err
		}
		if _, err := s.h.Read(p); err != nil {
			return err
		}
		s.pos += int64(len(p))
		s.bufValid = 0
		return nil
	}
	if s.bufValid == 0 || s.pos < s.bufStart || s.pos+int64(len(p)) > s.bufStart+int64(s.bufValid) {
		if err := s.Flush(); err != nil {
			return err
		}
		if err := s.h.Seek(s.pos); err != nil {
			return err
		}
		if s.buf == nil {
			s.buf = make([]byte, s.bufSize)
		}
		n, err := s.h.Read(s.buf)
		if err != nil {
			// A short read can still satisfy p if p itself fits within n.
			if n < len(p) {
				return err
			}
		}
		s.bufStart = s.pos
		s.bufValid = n
	}
	off := int(s.pos - s.bufStart)
	copy(p, s.buf[off:off+len(p)])
	s.pos += int64(len(p))
	return nil
}

// write stages len(p) bytes into the buffer (flushing first if the request
// does not fit at the current window).
func (s *Stream) write(p []byte) error {
	if len(p) > s.bufSize {
		if err := s.Flush(); err != nil {
			return err
		}
		if err := s.h.Seek(s.pos); err != nil {
			return err
		}
		if _, err := s.h.Write(p); err != nil {
			return err
		}
		s.pos += int64(len(p))
		s.bufValid = 0
		return nil
	}
	if s.buf == nil {
		s.buf = make([]byte, s.bufSize)
	}
	if s.bufValid == 0 && !s.dirty {
		s.bufStart = s.pos
	}
	if s.pos < s.bufStart || s.pos+int64(len(p)) > s.bufStart+int64(s.bufSize) {
		if err := s.Flush(); err != nil {
			return err
		}
		s.bufStart = s.pos
		s.bufValid = 0
	}
	off := int(s.pos - s.bufStart)
	copy(s.buf[off:off+len(p)], p)
	if !s.dirty || off < s.dirtyFrom {
		s.dirtyFrom = off
	}
	if off+len(p) > s.dirtyTo {
		s.dirtyTo = off + len(p)
	}
	s.dirty = true
	if off+len(p) > s.bufValid {
		s.bufValid = off + len(p)
	}
	s.pos += int64(len(p))
	return nil
}

// --- typed primitive reads ---

func (s *Stream) ReadBool() (bool, error) {
	v, err := s.ReadU8()
	return v != 0, err
}

func (s *Stream) ReadU8() (uint8, error) {
	var b [1]byte
	if err := s.read(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (s *Stream) ReadI8() (int8, error) {
	v, err := s.ReadU8()
	return int8(v), err
}

func (s *Stream) ReadU16() (uint16, error) {
	var b [2]byte
	if err := s.read(b[:]); err != nil {
		return 0, err
	}
	return s.order.Uint16(b[:]), nil
}

func (s *Stream) ReadI16() (int16, error) {
	v, err := s.ReadU16()
	return int16(v), err
}

func (s *Stream) ReadU32() (uint32, error) {
	var b [4]byte
	if err := s.read(b[:]); err != nil {
		return 0, err
	}
	return s.order.Uint32(b[:]), nil
}

func (s *Stream) ReadI32() (int32, error) {
	v, err := s.ReadU32()
	return int32(v), err
}

func (s *Stream) ReadU64() (uint64, error) {
	var b [8]byte
	if err := s.read(b[:]); err != nil {
		return 0, err
	}
	return s.order.Uint64(b[:]), nil
}

func (s *Stream) ReadI64() (int64, error) {
	v, err := s.ReadU64()
	return int64(v), err
}

func (s *Stream) ReadF32() (float32, error) {
	v, err := s.ReadU32()
	return math.Float32frombits(v), err
}

func (s *Stream) ReadF64() (float64, error) {
	v, err := s.ReadU64()
	return math.Float64frombits(v), err
}

// ReadString reads n bytes and returns the portion up to the first NUL
// byte: fixed-length ASCII reads are NUL-terminated.
func (s *Stream) ReadString(n int) (string, error) {
	buf := make([]byte, n)
	if err := s.read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), nil
		}
	}
	return string(buf), nil
}

// ReadPascalString reads a u16 length prefix followed by that many bytes
// of UTF-8 text.
func (s *Stream) ReadPascalString() (string, error) {
	n, err := s.ReadU16()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if err := s.read(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// ReadLine reads bytes up to and excluding delim, consuming delim too.
// Returns what was read so far (without error) if EOF is hit after at
// least one byte was consumed.
func (s *Stream) ReadLine(delim byte) (string, error) {
	var out []byte
	for {
		b, err := s.ReadU8()
		if err != nil {
			if len(out) > 0 {
				return string(out), nil
			}
			return "", err
		}
		if b == delim {
			return string(out), nil
		}
		out = append(out, b)
	}
}

// --- typed primitive writes ---

func (s *Stream) WriteBool(v bool) error {
	if v {
		return s.WriteU8(1)
	}
	return s.WriteU8(0)
}

func (s *Stream) WriteU8(v uint8) error { return s.write([]byte{v}) }

func (s *Stream) WriteI8(v int8) error { return s.WriteU8(uint8(v)) }

func (s *Stream) WriteU16(v uint16) error {
	var b [2]byte
	s.order.PutUint16(b[:], v)
	return s.write(b[:])
}

func (s *Stream) WriteI16(v int16) error { return s.WriteU16(uint16(v)) }

func (s *Stream) WriteU32(v uint32) error {
	var b [4]byte
	s.order.PutUint32(b[:], v)
	return s.write(b[:])
}

func (s *Stream) WriteI32(v int32) error { return s.WriteU32(uint32(v)) }

func (s *Stream) WriteU64(v uint64) error {
	var b [8]byte
	s.order.PutUint64(b[:], v)
	return s.write(b[:])
}

func (s *Stream) WriteI64(v int64) error { return s.WriteU64(uint64(v)) }

func (s *Stream) WriteF32(v float32) error { return s.WriteU32(math.Float32bits(v)) }

func (s *Stream) WriteF64(v float64) error { return s.WriteU64(math.Float64bits(v)) }

// WriteString writes s padded/truncated to exactly n bytes, NUL-terminated
// if s is shorter than n.
func (s *Stream) WriteString(str string, n int) error {
	buf := make([]byte, n)
	copy(buf, str)
	return s.write(buf)
}

// WritePascalString writes a u16 length prefix followed by str's bytes.
func (s *Stream) WritePascalString(str string) error {
	if err := s.WriteU16(uint16(len(str))); err != nil {
		return err
	}
	return s.write([]byte(str))
}

// ReadAt / WriteAt provide positioned access without disturbing the
// sequential cursor semantics used elsewhere, handy for the TIFF layer's
// random directory-entry resolution.
func (s *Stream) ReadAt(p []byte, pos int64) (int, error) {
	save := s.pos
	if err := s.Seek(pos); err != nil {
		return 0, err
	}
	if err := s.read(p); err != nil {
		s.pos = save
		return 0, err
	}
	n := len(p)
	s.pos = save
	return n, nil
}

func (s *Stream) WriteAt(p []byte, pos int64) (int, error) {
	save := s.pos
	if err := s.Seek(pos); err != nil {
		return 0, err
	}
	if err := s.write(p); err != nil {
		s.pos = save
		return 0, err
	}
	n := len(p)
	if err := s.Flush(); err != nil {
		return n, err
	}
	s.pos = save
	return n, nil
}
