package vaultfs

import (
	"fmt"
)

// Input validation helpers shared by the stream and config constructors.

// ValidateKey checks that a key has the expected fixed size
func ValidateKey(key []byte, name string) error {
	if key == nil {
		return &ValidationError{
			Field:   name,
			Message: "key cannot be nil",
		}
	}
	if len(key) != KeySize {
		return &ValidationError{
			Field:   name,
			Value:   len(key),
			Message: fmt.Sprintf("invalid key size: got %d bytes, expected %d bytes", len(key), KeySize),
		}
	}
	return nil
}

// ValidateID checks that a stream identifier has the expected fixed size
func ValidateID(id []byte) error {
	if id == nil {
		return &ValidationError{
			Field:   "id",
			Message: "identifier cannot be nil",
		}
	}
	if len(id) != IDSize {
		return &ValidationError{
			Field:   "id",
			Value:   len(id),
			Message: fmt.Sprintf("invalid identifier size: got %d bytes, expected %d bytes", len(id), IDSize),
		}
	}
	return nil
}

// ValidateBlockSize checks that a block size is a power of two within the
// accepted range
func ValidateBlockSize(blockSize int) error {
	if blockSize < MinBlockSize || blockSize > MaxBlockSize {
		return &ValidationError{
			Field:   "block_size",
			Value:   blockSize,
			Message: fmt.Sprintf("block size %d outside [%d, %d]", blockSize, MinBlockSize, MaxBlockSize),
		}
	}
	if blockSize&(blockSize-1) != 0 {
		return &ValidationError{
			Field:   "block_size",
			Value:   blockSize,
			Message: fmt.Sprintf("block size %d is not a power of two", blockSize),
		}
	}
	return nil
}

// ValidateIVSize checks that a per-block IV size is within the accepted
// range
func ValidateIVSize(ivSize int) error {
	if ivSize < MinIVSize || ivSize > MaxIVSize {
		return &ValidationError{
			Field:   "iv_size",
			Value:   ivSize,
			Message: fmt.Sprintf("iv size %d outside [%d, %d]", ivSize, MinIVSize, MaxIVSize),
		}
	}
	return nil
}

// ValidateOffset checks that a stream offset is non-negative
func ValidateOffset(offset int64, name string) error {
	if offset < 0 {
		return &ValidationError{
			Field:   name,
			Value:   offset,
			Message: "offset cannot be negative",
		}
	}
	return nil
}

// ValidatePassword checks that a passphrase is within the accepted length
func ValidatePassword(password []byte) error {
	if len(password) > MaxPasswordLength {
		return &ValidationError{
			Field:   "password",
			Value:   len(password),
			Message: fmt.Sprintf("password longer than %d bytes", MaxPasswordLength),
		}
	}
	return nil
}
