package vaultfs

import (
	"io"

	"github.com/absfs/absfs"
)

// ByteStore is a resizable, randomly-addressable byte sequence. Every layer
// of the stack both consumes and presents this surface.
//
// Read fills p starting at off and returns the number of bytes read: short
// at end of stream, zero past it, never an error for either. Write writes
// all of p at off; writing past the current size extends the stream, and
// the contents of any gap are unspecified at this layer (higher layers
// zero-fill explicitly). Flush commits buffered state durably enough that a
// re-open observes it. IsSparse reports whether extension holes read back
// as zeros without consuming space.
//
// A ByteStore is not safe for concurrent use; callers serialize access per
// stream.
type ByteStore interface {
	Read(p []byte, off int64) (int, error)
	Write(p []byte, off int64) error
	Size() (int64, error)
	Resize(n int64) error
	Flush() error
	IsSparse() bool
	Close() error
}

// Header is the fixed-size authenticated inline record at the front of a
// stream's metadata, distinct from the per-block records. The file table
// stores per-file state in it (link count, flags).
//
// ReadHeader fills p with up to MaxHeaderLength bytes and reports whether a
// header has ever been written. WriteHeader accepts up to MaxHeaderLength
// bytes; shorter writes are zero-padded. FlushHeader persists the header
// without flushing file payload.
type Header interface {
	ReadHeader(p []byte) (bool, error)
	WriteHeader(p []byte) error
	MaxHeaderLength() int
	FlushHeader() error
}

// FileStore adapts an absfs.File to the ByteStore surface. The file handle
// is owned by the store and released on Close.
type FileStore struct {
	f      absfs.File
	sparse bool
}

// NewFileStore wraps an open file. sparse declares whether the host
// filesystem materializes truncate-extension gaps as holes that read back
// as zeros; the resize path uses it to skip encrypting runs of zero blocks.
func NewFileStore(f absfs.File, sparse bool) *FileStore {
	return &FileStore{f: f, sparse: sparse}
}

// Read fills p starting at off. Reads past the end of file are short and
// return no error.
func (s *FileStore) Read(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, ErrNegativeOffset
	}
	if _, err := s.f.Seek(off, io.SeekStart); err != nil {
		return 0, NewIOError("seek", off, err)
	}
	total := 0
	for total < len(p) {
		n, err := s.f.Read(p[total:])
		total += n
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, NewIOError("read", off+int64(total), err)
		}
		if n == 0 {
			return total, nil
		}
	}
	return total, nil
}

// Write writes all of p at off, extending the file as needed.
func (s *FileStore) Write(p []byte, off int64) error {
	if off < 0 {
		return ErrNegativeOffset
	}
	if len(p) == 0 {
		return nil
	}
	if _, err := s.f.Seek(off, io.SeekStart); err != nil {
		return NewIOError("seek", off, err)
	}
	total := 0
	for total < len(p) {
		n, err := s.f.Write(p[total:])
		total += n
		if err != nil {
			return NewIOError("write", off+int64(total), err)
		}
	}
	return nil
}

// Size returns the current file size.
func (s *FileStore) Size() (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, NewIOError("stat", -1, err)
	}
	return info.Size(), nil
}

// Resize truncates or extends the file to n bytes. Extension reads back as
// zeros on hosts that support sparse files.
func (s *FileStore) Resize(n int64) error {
	if n < 0 {
		return ErrNegativeOffset
	}
	if err := s.f.Truncate(n); err != nil {
		return NewIOError("resize", n, err)
	}
	return nil
}

// Flush syncs the file to stable storage.
func (s *FileStore) Flush() error {
	if err := s.f.Sync(); err != nil {
		return NewIOError("flush", -1, err)
	}
	return nil
}

// IsSparse reports the sparseness declared at construction.
func (s *FileStore) IsSparse() bool {
	return s.sparse
}

// Close releases the underlying file handle.
func (s *FileStore) Close() error {
	return s.f.Close()
}
