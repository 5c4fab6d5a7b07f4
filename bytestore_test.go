package vaultfs

import (
	"bytes"
	"testing"
)

func TestFileStore_ReadPastEnd(t *testing.T) {
	fs := newTestFS(t)
	store := newTestStore(t, fs, false)
	defer store.Close()

	if err := store.Write([]byte("hello"), 0); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	buf := make([]byte, 10)

	// Short read at end of file, no error.
	n, err := store.Read(buf, 2)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != 3 || !bytes.Equal(buf[:n], []byte("llo")) {
		t.Errorf("Read at 2: got %d bytes %q, want 3 bytes %q", n, buf[:n], "llo")
	}

	// Zero bytes past end of file, no error.
	n, err = store.Read(buf, 100)
	if err != nil {
		t.Fatalf("Read past end failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Read past end: got %d bytes, want 0", n)
	}
}

func TestFileStore_WriteExtends(t *testing.T) {
	fs := newTestFS(t)
	store := newTestStore(t, fs, false)
	defer store.Close()

	if err := store.Write([]byte{0xAB}, 100); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	sz, err := store.Size()
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if sz != 101 {
		t.Errorf("Size: got %d, want 101", sz)
	}
}

func TestFileStore_ResizeReadsBackZeros(t *testing.T) {
	fs := newTestFS(t)
	store := newTestStore(t, fs, false)
	defer store.Close()

	if err := store.Write([]byte("abc"), 0); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := store.Resize(64); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}

	buf := make([]byte, 64)
	n, err := store.Read(buf, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != 64 {
		t.Fatalf("Read: got %d bytes, want 64", n)
	}
	if !bytes.Equal(buf[:3], []byte("abc")) {
		t.Errorf("prefix not preserved: %q", buf[:3])
	}
	if !isAllZeros(buf[3:]) {
		t.Error("extension did not read back as zeros")
	}

	// Shrink.
	if err := store.Resize(2); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	sz, err := store.Size()
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if sz != 2 {
		t.Errorf("Size after shrink: got %d, want 2", sz)
	}
}

func TestFileStore_NegativeOffset(t *testing.T) {
	fs := newTestFS(t)
	store := newTestStore(t, fs, false)
	defer store.Close()

	if _, err := store.Read(make([]byte, 1), -1); err != ErrNegativeOffset {
		t.Errorf("Read: got %v, want ErrNegativeOffset", err)
	}
	if err := store.Write([]byte{1}, -1); err != ErrNegativeOffset {
		t.Errorf("Write: got %v, want ErrNegativeOffset", err)
	}
}
