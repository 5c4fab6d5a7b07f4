package vaultfs

// Format constants shared by every layer of the stack. The on-disk layout
// must remain bit-exact across releases; none of these may change for an
// existing filesystem.

const (
	// KeySize is the size of every symmetric key in the stack: the master
	// key, the per-file data and meta keys, and the passphrase-derived KEK.
	KeySize = 32

	// IDSize is the size of a stream identifier. The file table assigns one
	// per file; it is bound into every AEAD invocation as associated data
	// and into the meta stream HMAC.
	IDSize = 32

	// HMACSize is the size of the whole-stream HMAC-SHA256 tag reserved at
	// the front of an HMAC-wrapped store.
	HMACSize = 32

	// TagSize is the AES-GCM authentication tag size.
	TagSize = 16

	// HeaderSize is the plaintext size of the per-file header region stored
	// at the front of the meta stream.
	HeaderSize = 32

	// MaxBlockNumber is the largest block number a stream may address;
	// larger block numbers fail with StreamTooLongError.
	MaxBlockNumber = int64(1) << 30
)

// Format versions select how the crypto parameters are determined.
const (
	// FormatV1 fixes BlockSize to 4096 and IVSize to 32.
	FormatV1 = 1

	// FormatV2 persists block_size and iv_size in the key configuration.
	FormatV2 = 2
)

// Defaults and limits for version-dependent parameters.
const (
	// DefaultBlockSize is the block size fixed by format version 1. Version 2
	// persists whatever validated block size the creator chose.
	DefaultBlockSize = 4096

	// MinBlockSize and MaxBlockSize bound the block sizes accepted from a
	// version-2 configuration. The value must also be a power of two.
	MinBlockSize = 512
	MaxBlockSize = 65536

	// V1IVSize is the per-block IV size fixed by format version 1.
	V1IVSize = 32

	// MinIVSize and MaxIVSize bound the per-block IV sizes accepted from a
	// version-2 configuration.
	MinIVSize = 12
	MaxIVSize = 64
)

// Key configuration constants.
const (
	// ConfigFileName is the key configuration file at the root of the
	// underlying directory.
	ConfigFileName = ".securefs.json"

	// ConfigTmpFileName is written during password rotation and atomically
	// renamed over ConfigFileName.
	ConfigTmpFileName = ".securefs.json.tmp"

	// ConfigIVSize and ConfigSaltSize are fixed regardless of format
	// version; they only govern the wrapping of the master key.
	ConfigIVSize   = 32
	ConfigSaltSize = 32

	// DefaultIterations is the PBKDF2-HMAC-SHA256 round count used when the
	// caller passes zero.
	DefaultIterations = 400000

	// MaxPasswordLength bounds the accepted passphrase size in bytes.
	MaxPasswordLength = 4000
)

// encryptedHeaderSize returns the on-disk size of the encrypted header
// region for a given per-block IV size: IV || tag || ciphertext(HeaderSize).
func encryptedHeaderSize(ivSize int) int64 {
	return int64(ivSize) + TagSize + HeaderSize
}

// blockRecordSize returns the size of one per-block IV || tag record.
func blockRecordSize(ivSize int) int64 {
	return int64(ivSize) + TagSize
}

// blockRecordOffset returns the meta-stream offset of the IV || tag record
// for the given block number.
func blockRecordOffset(ivSize int, blockNumber int64) int64 {
	return encryptedHeaderSize(ivSize) + blockRecordSize(ivSize)*blockNumber
}

// metaSizeForDataSize returns the exact meta stream length that corresponds
// to a data stream of the given length.
func metaSizeForDataSize(ivSize int, blockSize, dataSize int64) int64 {
	numBlocks := (dataSize + blockSize - 1) / blockSize
	return blockRecordOffset(ivSize, numBlocks)
}
