package vaultfs

import (
	"bytes"
	mrand "math/rand"
	"os"
	"testing"

	"github.com/absfs/absfs"
	"github.com/absfs/memfs"
	"github.com/google/uuid"
)

// newTestFS creates an in-memory host filesystem.
func newTestFS(t *testing.T) absfs.FileSystem {
	t.Helper()
	fs, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("failed to create memfs: %v", err)
	}
	return fs
}

// newTestStore opens a fresh uniquely-named backing file on fs.
func newTestStore(t *testing.T, fs absfs.FileSystem, sparse bool) *FileStore {
	t.Helper()
	name := "/" + uuid.New().String()
	f, err := fs.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		t.Fatalf("failed to open backing file: %v", err)
	}
	return NewFileStore(f, sparse)
}

// openNamedStore opens a handle onto a named backing file, modeling a
// close-and-reopen of the same on-disk stream.
func openNamedStore(t *testing.T, fs absfs.FileSystem, name string, sparse bool) *FileStore {
	t.Helper()
	f, err := fs.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		t.Fatalf("failed to open %s: %v", name, err)
	}
	return NewFileStore(f, sparse)
}

func patternKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, KeySize)
}

func patternID(b byte) []byte {
	return bytes.Repeat([]byte{b}, IDSize)
}

// driveRandomOps drives a stream and a plaintext mirror through the same
// random sequence of writes, reads, resizes and flushes, failing on the
// first observable divergence. Offsets and lengths are uniform in
// [0, 7*4096+1].
func driveRandomOps(t *testing.T, subject, mirror ByteStore, rng *mrand.Rand, times int) {
	t.Helper()

	data := make([]byte, 7*4096+1)
	rng.Read(data)

	const maxLen = 7*4096 + 1
	buf := make([]byte, maxLen)
	mirrorBuf := make([]byte, maxLen)

	for i := 0; i < times; i++ {
		a := int64(rng.Intn(maxLen + 1))
		b := rng.Intn(maxLen + 1)

		switch rng.Intn(5) {
		case 0:
			n := b
			if n > len(data) {
				n = len(data)
			}
			if err := subject.Write(data[:n], a); err != nil {
				t.Fatalf("op %d: subject write(%d bytes at %d): %v", i, n, a, err)
			}
			if err := mirror.Write(data[:n], a); err != nil {
				t.Fatalf("op %d: mirror write(%d bytes at %d): %v", i, n, a, err)
			}

		case 1:
			n := b
			rc, err := subject.Read(buf[:n], a)
			if err != nil {
				t.Fatalf("op %d: subject read(%d bytes at %d): %v", i, n, a, err)
			}
			mrc, err := mirror.Read(mirrorBuf[:n], a)
			if err != nil {
				t.Fatalf("op %d: mirror read(%d bytes at %d): %v", i, n, a, err)
			}
			if rc != mrc {
				t.Fatalf("op %d: read(%d bytes at %d) returned %d, mirror returned %d", i, n, a, rc, mrc)
			}
			if !bytes.Equal(buf[:rc], mirrorBuf[:mrc]) {
				t.Fatalf("op %d: read(%d bytes at %d) content diverged from mirror", i, n, a)
			}

		case 2:
			sz, err := subject.Size()
			if err != nil {
				t.Fatalf("op %d: subject size: %v", i, err)
			}
			msz, err := mirror.Size()
			if err != nil {
				t.Fatalf("op %d: mirror size: %v", i, err)
			}
			if sz != msz {
				t.Fatalf("op %d: size %d, mirror %d", i, sz, msz)
			}

		case 3:
			if err := subject.Resize(a); err != nil {
				t.Fatalf("op %d: subject resize(%d): %v", i, a, err)
			}
			if err := mirror.Resize(a); err != nil {
				t.Fatalf("op %d: mirror resize(%d): %v", i, a, err)
			}

		case 4:
			if err := subject.Flush(); err != nil {
				t.Fatalf("op %d: subject flush: %v", i, err)
			}
			if err := mirror.Flush(); err != nil {
				t.Fatalf("op %d: mirror flush: %v", i, err)
			}
		}
	}
}
