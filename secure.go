package vaultfs

import (
	"crypto/rand"
	"fmt"
)

// Wipe zeroes a sensitive buffer. Keys, passphrases and plaintext scratch
// are wiped when their owner is closed; ciphertext scratch is not.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// isAllZeros reports whether every byte of b is zero. An all-zero IV in a
// block record is the sparse marker.
func isAllZeros(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// readRandom fills b from the system CSPRNG.
func readRandom(b []byte) error {
	if _, err := rand.Read(b); err != nil {
		return fmt.Errorf("failed to read random bytes: %w", err)
	}
	return nil
}
