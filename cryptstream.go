package vaultfs

import (
	"fmt"
)

// BlockCipherFunc transforms one block. src holds at most the stream's
// block size; dst is the same length and may alias src. An encrypt callback
// writes any per-block side state (IV, tag) as part of the call; a decrypt
// callback is its inverse.
type BlockCipherFunc func(blockNumber int64, src, dst []byte) error

// CryptStream turns a per-block cipher into a randomly-addressable
// encrypted ByteStore. It owns the block arithmetic: splitting offsets into
// block ranges, partial-block read-modify-write, zero-filling growth, and
// sparse-aware resizing. The cipher itself is supplied as a pair of
// callbacks, so the walk logic is shared between the AES-GCM stream and
// test ciphers.
//
// Blocks are encrypted independently; ciphertext length equals plaintext
// length, so the underlying store's size is the logical size.
type CryptStream struct {
	store     ByteStore
	blockSize int64
	encrypt   BlockCipherFunc
	decrypt   BlockCipherFunc

	// Reusable per-handle buffers; the read/write path is hot and must not
	// allocate per call. plainScratch holds plaintext and is wiped on
	// Close; cipherScratch never holds secrets.
	plainScratch  []byte
	cipherScratch []byte
	zeros         []byte

	// Optional hooks for ciphers that keep side state in a companion
	// stream: onResize keeps that stream's length in lockstep, sparseFn
	// folds its sparseness into resize decisions.
	onResize func(n int64) error
	sparseFn func() bool
}

// NewCryptStream builds a block-walk stream over store. blockSize must be
// at least one byte and constant for the life of the underlying file.
func NewCryptStream(store ByteStore, blockSize int, encrypt, decrypt BlockCipherFunc) (*CryptStream, error) {
	if store == nil {
		return nil, ErrNilStream
	}
	if blockSize < 1 {
		return nil, NewValidationError("block_size", blockSize, "block size must be positive")
	}
	if encrypt == nil || decrypt == nil {
		return nil, NewValidationError("cipher", nil, "encrypt and decrypt callbacks are required")
	}
	return &CryptStream{
		store:         store,
		blockSize:     int64(blockSize),
		encrypt:       encrypt,
		decrypt:       decrypt,
		plainScratch:  make([]byte, blockSize),
		cipherScratch: make([]byte, blockSize),
		zeros:         make([]byte, blockSize),
	}, nil
}

// BlockSize returns the stream's block size in bytes.
func (c *CryptStream) BlockSize() int {
	return int(c.blockSize)
}

// readBlock reads and decrypts block blockNumber into out, which must hold
// a full block. Returns the number of plaintext bytes, zero past the end.
func (c *CryptStream) readBlock(blockNumber int64, out []byte) (int, error) {
	rc, err := c.store.Read(out[:c.blockSize], blockNumber*c.blockSize)
	if err != nil {
		return 0, err
	}
	if rc == 0 {
		return 0, nil
	}
	if err := c.decrypt(blockNumber, out[:rc], out[:rc]); err != nil {
		return 0, err
	}
	return rc, nil
}

// readBlockRange reads the plaintext range [begin, end) of a block into
// out. The full-block case skips the intermediate copy.
func (c *CryptStream) readBlockRange(blockNumber int64, out []byte, begin, end int64) (int, error) {
	if begin == 0 && end == c.blockSize {
		return c.readBlock(blockNumber, out)
	}
	if begin >= end {
		return 0, nil
	}

	rc, err := c.readBlock(blockNumber, c.plainScratch)
	if err != nil {
		return 0, err
	}
	if int64(rc) <= begin {
		return 0, nil
	}
	if end > int64(rc) {
		end = int64(rc)
	}
	copy(out, c.plainScratch[begin:end])
	return int(end - begin), nil
}

// writeBlock encrypts in (at most one block) and writes it at the block's
// position.
func (c *CryptStream) writeBlock(blockNumber int64, in []byte) error {
	ct := c.cipherScratch[:len(in)]
	if err := c.encrypt(blockNumber, in, ct); err != nil {
		return err
	}
	return c.store.Write(ct, blockNumber*c.blockSize)
}

// readThenWriteBlock overwrites the plaintext range [begin, end) of a block
// with in, preserving any bytes the block already held past end. The block
// is re-encrypted as a whole so its tag covers the merged plaintext.
func (c *CryptStream) readThenWriteBlock(blockNumber int64, in []byte, begin, end int64) error {
	if begin == 0 && end == c.blockSize {
		return c.writeBlock(blockNumber, in[:c.blockSize])
	}
	if begin >= end {
		return nil
	}

	rc, err := c.readBlock(blockNumber, c.plainScratch)
	if err != nil {
		return err
	}
	copy(c.plainScratch[begin:end], in)
	length := int64(rc)
	if end > length {
		length = end
	}
	return c.writeBlock(blockNumber, c.plainScratch[:length])
}

// Read fills p starting at off, walking blocks and returning early on a
// short block (end of stream).
func (c *CryptStream) Read(p []byte, off int64) (int, error) {
	if err := ValidateOffset(off, "offset"); err != nil {
		return 0, err
	}

	total := 0
	for len(p) > total {
		blockNumber := off / c.blockSize
		startOfBlock := blockNumber * c.blockSize
		begin := off - startOfBlock
		end := off + int64(len(p)-total) - startOfBlock
		if end > c.blockSize {
			end = c.blockSize
		}

		rc, err := c.readBlockRange(blockNumber, p[total:], begin, end)
		if err != nil {
			return total, err
		}
		total += rc
		if int64(rc) < end-begin {
			return total, nil
		}
		off += int64(rc)
	}
	return total, nil
}

// Write writes all of p at off. Writing past the current size first
// extends the stream, zero-filling the gap.
func (c *CryptStream) Write(p []byte, off int64) error {
	if err := ValidateOffset(off, "offset"); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	size, err := c.Size()
	if err != nil {
		return err
	}
	if off > size {
		if err := c.Resize(off); err != nil {
			return err
		}
	}
	return c.uncheckedWrite(p, off)
}

// uncheckedWrite is the block walk behind Write; it assumes no gap below
// off remains unfilled.
func (c *CryptStream) uncheckedWrite(p []byte, off int64) error {
	for len(p) > 0 {
		blockNumber := off / c.blockSize
		startOfBlock := blockNumber * c.blockSize
		begin := off - startOfBlock
		end := off + int64(len(p)) - startOfBlock
		if end > c.blockSize {
			end = c.blockSize
		}

		if err := c.readThenWriteBlock(blockNumber, p, begin, end); err != nil {
			return err
		}
		rc := end - begin
		p = p[rc:]
		off += rc
	}
	return nil
}

// zeroFill writes explicit zeros over [off, finish). Full zero blocks go
// through the normal encrypt path, so a cipher with a sparse marker still
// records them as ordinary blocks; only resize-extension holes stay sparse.
func (c *CryptStream) zeroFill(off, finish int64) error {
	for off < finish {
		blockNumber := off / c.blockSize
		startOfBlock := blockNumber * c.blockSize
		begin := off - startOfBlock
		end := finish - startOfBlock
		if end > c.blockSize {
			end = c.blockSize
		}

		if err := c.readThenWriteBlock(blockNumber, c.zeros, begin, end); err != nil {
			return err
		}
		off += end - begin
	}
	return nil
}

// Resize sets the logical size to n.
//
// Shrinking re-encrypts a final partial block so its tag covers the
// truncated plaintext. Growing zero-fills only the partial edge blocks when
// the store is sparse: whole intermediate blocks are left as holes, which
// the cipher layer reads back as zeros.
func (c *CryptStream) Resize(n int64) error {
	if n < 0 {
		return ErrNegativeOffset
	}
	size, err := c.Size()
	if err != nil {
		return err
	}

	switch {
	case n == size:
		return nil

	case n < size:
		residue := n % c.blockSize
		blockNumber := n / c.blockSize
		if residue > 0 {
			Wipe(c.plainScratch)
			if _, err := c.readBlock(blockNumber, c.plainScratch); err != nil {
				return err
			}
			if err := c.writeBlock(blockNumber, c.plainScratch[:residue]); err != nil {
				return err
			}
		}

	default:
		oldEnd := ((size + c.blockSize - 1) / c.blockSize) * c.blockSize
		newStart := (n / c.blockSize) * c.blockSize
		if !c.IsSparse() || size/c.blockSize == n/c.blockSize {
			if err := c.zeroFill(size, n); err != nil {
				return err
			}
		} else {
			// The tail of the old final block and the head of the new one
			// need real zeros; everything between stays a hole.
			if err := c.zeroFill(size, oldEnd); err != nil {
				return err
			}
			if err := c.zeroFill(newStart, n); err != nil {
				return err
			}
		}
	}

	if err := c.store.Resize(n); err != nil {
		return err
	}
	if c.onResize != nil {
		return c.onResize(n)
	}
	return nil
}

// Size returns the logical stream length.
func (c *CryptStream) Size() (int64, error) {
	return c.store.Size()
}

// Flush flushes the underlying store.
func (c *CryptStream) Flush() error {
	return c.store.Flush()
}

// IsSparse reports the underlying store's sparseness.
func (c *CryptStream) IsSparse() bool {
	if c.sparseFn != nil {
		return c.sparseFn()
	}
	return c.store.IsSparse()
}

// Close flushes best-effort, wipes plaintext scratch, and releases the
// underlying store.
func (c *CryptStream) Close() error {
	if err := c.Flush(); err != nil {
		logger.WithError(err).Warn("vaultfs: flush on close failed")
	}
	Wipe(c.plainScratch)
	return c.store.Close()
}

var _ ByteStore = (*CryptStream)(nil)

// errShortMeta is a convenience for the cipher layers.
func errShortMeta(id []byte, what string, got, want int) error {
	return &CorruptedMetaDataError{
		ID:      id,
		Message: fmt.Sprintf("%s: got %d of %d bytes", what, got, want),
	}
}
