package vaultfs

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// newAESGCM creates an AES-256-GCM AEAD with the given nonce size. The
// block-level streams use the per-filesystem IV size; the key
// configuration always uses ConfigIVSize.
func newAESGCM(key []byte, nonceSize int) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("AES-256 requires a %d-byte key, got %d bytes", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return aead, nil
}
