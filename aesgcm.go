package vaultfs

import (
	"crypto/cipher"
	"errors"
)

// AESGCMStream is the concrete cipher layer: AES-256-GCM per block with the
// stream identifier as associated data. Per-block IV and tag records live
// in a companion meta stream wrapped by an HMACStream, behind the encrypted
// header region. It presents both the ByteStore surface (file payload) and
// the Header surface (the inline per-file record).
type AESGCMStream struct {
	*CryptStream

	meta   *HMACStream
	aead   cipher.AEAD
	id     []byte
	ivSize int
	check  bool

	// recScratch holds one IV || tag record; sealScratch holds the sealed
	// output of one block (ciphertext plus tag). Neither holds plaintext.
	recScratch  []byte
	sealScratch []byte
}

// NewAESGCMStream opens or creates an encrypted stream over a data store
// and its companion meta store. The meta store's HMAC is verified
// immediately when check is set; with check unset, both the HMAC and the
// per-block tags are ignored (recovery mode, in which damaged blocks read
// as zeros).
//
// blockSize and ivSize are per-filesystem constants: format v1 fixes them
// to DefaultBlockSize and V1IVSize, format v2 reads them from the key
// configuration.
func NewAESGCMStream(data, meta ByteStore, dataKey, metaKey, id []byte, check bool, blockSize, ivSize int) (*AESGCMStream, error) {
	if data == nil || meta == nil {
		return nil, ErrNilStream
	}
	if err := ValidateKey(dataKey, "data key"); err != nil {
		return nil, err
	}
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := ValidateIVSize(ivSize); err != nil {
		return nil, err
	}

	metaStream, err := NewHMACStream(metaKey, id, meta, check)
	if err != nil {
		return nil, err
	}

	aead, err := newAESGCM(dataKey, ivSize)
	if err != nil {
		return nil, err
	}

	s := &AESGCMStream{
		meta:        metaStream,
		aead:        aead,
		id:          append([]byte(nil), id...),
		ivSize:      ivSize,
		check:       check,
		recScratch:  make([]byte, blockRecordSize(ivSize)),
		sealScratch: make([]byte, 0, blockSize+TagSize),
	}

	cs, err := NewCryptStream(data, blockSize, s.encryptBlock, s.decryptBlock)
	if err != nil {
		return nil, err
	}
	cs.onResize = s.resizeMeta
	cs.sparseFn = func() bool { return data.IsSparse() && metaStream.IsSparse() }
	s.CryptStream = cs

	return s, nil
}

// checkBlockNumber rejects blocks past the stream limit.
func (s *AESGCMStream) checkBlockNumber(blockNumber int64) error {
	if blockNumber > MaxBlockNumber {
		return &StreamTooLongError{
			MaxSize:   MaxBlockNumber * s.blockSize,
			Requested: blockNumber * s.blockSize,
		}
	}
	return nil
}

// encryptBlock seals one block and writes its IV || tag record. The IV is
// resampled while all-zero: a zero IV is the sparse marker and must never
// be emitted for a real block.
func (s *AESGCMStream) encryptBlock(blockNumber int64, src, dst []byte) error {
	if len(src) == 0 {
		return nil
	}
	if err := s.checkBlockNumber(blockNumber); err != nil {
		return err
	}

	iv := s.recScratch[:s.ivSize]
	for {
		if err := readRandom(iv); err != nil {
			return err
		}
		if !isAllZeros(iv) {
			break
		}
	}

	sealed := s.aead.Seal(s.sealScratch[:0], iv, src, s.id)
	copy(dst, sealed[:len(src)])
	copy(s.recScratch[s.ivSize:], sealed[len(src):])

	return s.meta.Write(s.recScratch, blockRecordOffset(s.ivSize, blockNumber))
}

// decryptBlock opens one block using its IV || tag record. An all-zero IV
// is a sparse block: the output is zeros and no AEAD runs.
func (s *AESGCMStream) decryptBlock(blockNumber int64, src, dst []byte) error {
	if len(src) == 0 {
		return nil
	}
	if err := s.checkBlockNumber(blockNumber); err != nil {
		return err
	}

	rc, err := s.meta.Read(s.recScratch, blockRecordOffset(s.ivSize, blockNumber))
	if err != nil {
		return err
	}
	if rc != len(s.recScratch) {
		return errShortMeta(s.id, "MAC/IV not found", rc, len(s.recScratch))
	}

	iv := s.recScratch[:s.ivSize]
	tag := s.recScratch[s.ivSize:]
	if isAllZeros(iv) {
		Wipe(dst)
		return nil
	}

	// Open needs ciphertext and tag contiguous; src may alias dst, so the
	// sealed form is assembled in scratch first.
	sealed := append(s.sealScratch[:0], src...)
	sealed = append(sealed, tag...)
	if _, err := s.aead.Open(dst[:0], iv, sealed, s.id); err != nil {
		if s.check {
			return &MessageVerificationError{ID: s.id, Offset: blockNumber * s.blockSize}
		}
		// Recovery mode: the AEAD yields nothing on mismatch, so the
		// damaged block reads as zeros.
		Wipe(dst)
	}
	return nil
}

// resizeMeta keeps the meta stream's length consistent with the data
// stream: exactly one record per block plus the header region. Extension
// is zero-filled by the store, so new records start as sparse markers.
func (s *AESGCMStream) resizeMeta(n int64) error {
	return s.meta.Resize(metaSizeForDataSize(s.ivSize, s.blockSize, n))
}

// Flush flushes the data stream, then the meta stream. The order matters:
// the meta flush finalizes the HMAC, and the tag must never authenticate
// data newer than what is durable.
func (s *AESGCMStream) Flush() error {
	if err := s.CryptStream.Flush(); err != nil {
		return err
	}
	return s.meta.Flush()
}

// Close flushes best-effort and releases both stores.
func (s *AESGCMStream) Close() error {
	if err := s.Flush(); err != nil {
		logger.WithError(err).Warn("vaultfs: flush on close failed")
	}
	dataErr := s.CryptStream.store.Close()
	metaErr := s.meta.Close()
	Wipe(s.plainScratch)
	return errors.Join(dataErr, metaErr)
}

// MaxHeaderLength returns the plaintext size of the header region.
func (s *AESGCMStream) MaxHeaderLength() int {
	return HeaderSize
}

// ReadHeader fills p with the header plaintext and reports whether a
// header has ever been written. Reads shorter than the header region
// receive its prefix.
func (s *AESGCMStream) ReadHeader(p []byte) (bool, error) {
	if len(p) > HeaderSize {
		return false, NewValidationError("header", len(p), "header too long")
	}

	var header [HeaderSize]byte
	defer Wipe(header[:])

	present, err := s.readFullHeader(header[:])
	if err != nil || !present {
		return present, err
	}
	copy(p, header[:])
	return true, nil
}

// readFullHeader decrypts the whole header region into out (HeaderSize
// bytes).
func (s *AESGCMStream) readFullHeader(out []byte) (bool, error) {
	encSize := int(encryptedHeaderSize(s.ivSize))
	buf := make([]byte, encSize)
	rc, err := s.meta.Read(buf, 0)
	if err != nil {
		return false, err
	}
	if rc == 0 {
		return false, nil
	}
	if rc != encSize {
		return false, errShortMeta(s.id, "not enough header field", rc, encSize)
	}

	iv := buf[:s.ivSize]
	tag := buf[s.ivSize : s.ivSize+TagSize]
	ciphertext := buf[s.ivSize+TagSize:]

	// A zero IV slot means the meta stream grew past the header region
	// without a header ever being written.
	if isAllZeros(iv) {
		Wipe(out)
		return false, nil
	}

	sealed := make([]byte, 0, HeaderSize+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	if _, err := s.aead.Open(out[:0], iv, sealed, s.id); err != nil {
		if s.check {
			return false, &MessageVerificationError{ID: s.id, Offset: 0}
		}
		Wipe(out)
	}
	return true, nil
}

// WriteHeader replaces the header plaintext with p. Writes shorter than
// the header region are zero-padded.
func (s *AESGCMStream) WriteHeader(p []byte) error {
	if len(p) > HeaderSize {
		return NewValidationError("header", len(p), "header too long")
	}

	var header [HeaderSize]byte
	defer Wipe(header[:])
	copy(header[:], p)

	buf := make([]byte, encryptedHeaderSize(s.ivSize))
	iv := buf[:s.ivSize]
	for {
		if err := readRandom(iv); err != nil {
			return err
		}
		if !isAllZeros(iv) {
			break
		}
	}

	sealed := s.aead.Seal(nil, iv, header[:], s.id)
	copy(buf[s.ivSize:], sealed[HeaderSize:]) // tag
	copy(buf[s.ivSize+TagSize:], sealed[:HeaderSize])

	return s.meta.Write(buf, 0)
}

// FlushHeader persists the header without flushing file payload; the
// header lives entirely in the meta stream.
func (s *AESGCMStream) FlushHeader() error {
	return s.meta.Flush()
}

var (
	_ ByteStore = (*AESGCMStream)(nil)
	_ Header    = (*AESGCMStream)(nil)
)
