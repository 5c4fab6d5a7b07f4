package vaultfs

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
)

// HMACStream wraps a ByteStore and authenticates its entire content with a
// single HMAC-SHA256 tag stored in the first HMACSize bytes. All operations
// are exposed at a view shifted past the tag. The tag covers the stream
// identifier followed by the payload, so two streams with identical bytes
// but different identifiers do not authenticate interchangeably.
//
// Verification is whole-stream and happens once, at construction; Flush
// recomputes and rewrites the tag. The wrapped payload is small in practice
// (one block record per data block), so re-reading it on flush is cheap.
type HMACStream struct {
	store ByteStore
	key   []byte
	id    []byte
	dirty bool
}

// NewHMACStream wraps store. With check set, an existing non-empty store is
// verified immediately: a store shorter than the tag fails with
// ErrInvalidFormat, a tag mismatch with HMACVerificationError. With check
// unset verification is skipped (recovery mode).
func NewHMACStream(key, id []byte, store ByteStore, check bool) (*HMACStream, error) {
	if store == nil {
		return nil, ErrNilStream
	}
	if err := ValidateKey(key, "hmac key"); err != nil {
		return nil, err
	}
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	s := &HMACStream{
		store: store,
		key:   append([]byte(nil), key...),
		id:    append([]byte(nil), id...),
	}

	if check {
		if err := s.verify(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// verify recomputes the payload HMAC and compares it with the stored tag.
func (s *HMACStream) verify() error {
	stored := make([]byte, HMACSize)
	rc, err := s.store.Read(stored, 0)
	if err != nil {
		return err
	}
	if rc == 0 {
		// Brand new stream, nothing to verify.
		return nil
	}
	if rc != HMACSize {
		return fmt.Errorf("%w: tag field is only %d bytes", ErrInvalidFormat, rc)
	}

	computed, err := s.computeHMAC()
	if err != nil {
		return err
	}
	if !hmac.Equal(computed, stored) {
		return &HMACVerificationError{ID: s.id, Message: "invalid HMAC"}
	}
	return nil
}

// computeHMAC digests id || payload.
func (s *HMACStream) computeHMAC() ([]byte, error) {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(s.id)

	buf := make([]byte, 4096)
	off := int64(HMACSize)
	for {
		rc, err := s.store.Read(buf, off)
		if err != nil {
			return nil, err
		}
		if rc == 0 {
			break
		}
		mac.Write(buf[:rc])
		off += int64(rc)
	}
	return mac.Sum(nil), nil
}

// Read fills p from the payload view.
func (s *HMACStream) Read(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrNegativeOffset
	}
	return s.store.Read(p, off+HMACSize)
}

// Write writes p to the payload view and marks the tag stale.
func (s *HMACStream) Write(p []byte, off int64) error {
	if off < 0 {
		return ErrNegativeOffset
	}
	if err := s.store.Write(p, off+HMACSize); err != nil {
		return err
	}
	s.dirty = true
	return nil
}

// Size returns the payload length.
func (s *HMACStream) Size() (int64, error) {
	sz, err := s.store.Size()
	if err != nil {
		return 0, err
	}
	if sz < HMACSize {
		return 0, nil
	}
	return sz - HMACSize, nil
}

// Resize sets the payload length and marks the tag stale.
func (s *HMACStream) Resize(n int64) error {
	if n < 0 {
		return ErrNegativeOffset
	}
	if err := s.store.Resize(n + HMACSize); err != nil {
		return err
	}
	s.dirty = true
	return nil
}

// Flush recomputes the tag over the current payload, writes it, and flushes
// the underlying store. A clean stream is left untouched.
func (s *HMACStream) Flush() error {
	if !s.dirty {
		return nil
	}
	tag, err := s.computeHMAC()
	if err != nil {
		return err
	}
	if err := s.store.Write(tag, 0); err != nil {
		return err
	}
	if err := s.store.Flush(); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// IsSparse reports the underlying store's sparseness.
func (s *HMACStream) IsSparse() bool {
	return s.store.IsSparse()
}

// Close flushes best-effort and releases the underlying store. A flush
// failure is logged and suppressed; durability requires an explicit Flush.
func (s *HMACStream) Close() error {
	if err := s.Flush(); err != nil {
		logger.WithError(err).Warn("vaultfs: flush on close failed")
	}
	Wipe(s.key)
	return s.store.Close()
}
