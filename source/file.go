package source

import (
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// FileHandle is a SourceHandle backed by a local file. Go's standard
// library has no portable mmap, so reads/writes are realized as paged
// ReadAt/WriteAt against the OS page cache, which gives much the same
// effective behavior as a real mmap without a cgo dependency.
type FileHandle struct {
	mu       sync.Mutex
	f        *os.File
	pos      int64
	order    binary.ByteOrder
	writable bool
	closed   bool
}

// OpenFileHandle opens path read-only.
func OpenFileHandle(path string, order binary.ByteOrder) (*FileHandle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapIO("opening file", err)
	}
	return &FileHandle{f: f, order: order}, nil
}

// CreateFileHandle opens or creates path for read-write access, truncating
// any existing content.
func CreateFileHandle(path string, order binary.ByteOrder) (*FileHandle, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, wrapIO("creating file", err)
	}
	return &FileHandle{f: f, order: order, writable: true}, nil
}

// OpenFileHandleReadWrite opens an existing file for read-write access
// without truncating it.
func OpenFileHandleReadWrite(path string, order binary.ByteOrder) (*FileHandle, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, wrapIO("opening file for read-write", err)
	}
	return &FileHandle{f: f, order: order, writable: true}, nil
}

func (fh *FileHandle) Length() (int64, error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	if fh.closed {
		return 0, ErrCancelled
	}
	fi, err := fh.f.Stat()
	if err != nil {
		return 0, wrapIO("stat", err)
	}
	return fi.Size(), nil
}

func (fh *FileHandle) Position() int64 {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	return fh.pos
}

func (fh *FileHandle) Seek(pos int64) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	if fh.closed {
		return ErrCancelled
	}
	fh.pos = pos
	return nil
}

func (fh *FileHandle) Read(p []byte) (int, error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	if fh.closed {
		return 0, ErrCancelled
	}
	n, err := io.ReadFull(io.NewSectionReader(fh.f, fh.pos, int64(len(p))), p)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return n, ErrUnexpectedEnd
		}
		return n, wrapIO("read", err)
	}
	fh.pos += int64(n)
	return n, nil
}

func (fh *FileHandle) Write(p []byte) (int, error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	if fh.closed {
		return 0, ErrCancelled
	}
	if !fh.writable {
		return 0, ErrReadOnly
	}
	n, err := fh.f.WriteAt(p, fh.pos)
	if err != nil {
		return n, wrapIO("write", err)
	}
	fh.pos += int64(n)
	return n, nil
}

func (fh *FileHandle) Order() binary.ByteOrder { fh.mu.Lock(); defer fh.mu.Unlock(); return fh.order }

func (fh *FileHandle) SetOrder(o binary.ByteOrder) {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	fh.order = o
}

func (fh *FileHandle) Writable() bool { return fh.writable }

func (fh *FileHandle) Close() error {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	if fh.closed {
		return nil
	}
	fh.closed = true
	return fh.f.Close()
}
