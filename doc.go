// Package vaultfs implements the authenticated encrypted storage stack that
// backs a transparently encrypted filesystem overlay: random-access
// block-level AEAD over arbitrary byte offsets, an HMAC-protected metadata
// sidecar, and a passphrase-wrapped key configuration.
//
// # Overview
//
// The package is layered bottom-up; each layer is a ByteStore, a resizable
// randomly-addressable byte sequence:
//
//   - FileStore wraps an absfs.File, so the same stack runs over any
//     AbsFs-compatible host filesystem (osfs in production, memfs in tests).
//   - HMACStream reserves the first 32 bytes of its underlying store for an
//     HMAC-SHA256 tag over the stream identifier and the remaining payload.
//     The tag is verified once at open time and rewritten on Flush.
//   - CryptStream splits the logical stream into fixed-size blocks and
//     drives per-block encrypt/decrypt callbacks, handling partial-block
//     read-modify-write and sparse zero-fill on growth.
//   - AESGCMStream is the concrete cipher layer: AES-256-GCM per block with
//     the 32-byte stream identifier as associated data. Each block's IV and
//     tag live in a companion meta stream (itself an HMACStream) behind a
//     fixed-size encrypted header region.
//   - KeyedConfig is the on-disk .securefs.json record binding a user
//     passphrase to the filesystem master key via PBKDF2-HMAC-SHA256.
//
// The file table and FUSE adapter sit above this package: they allocate
// 32-byte stream identifiers, derive per-file keys, hand this package two
// ByteStores per file (data and meta), and route all user I/O through the
// returned stream handle.
//
// # On-Disk Layout
//
// Data stream: raw per-block ciphertext, block k at offset k*BlockSize.
// Ciphertext length equals plaintext length; the stream's byte size is the
// logical file size.
//
// Meta stream (behind the 32-byte HMAC tag):
//   - Encrypted header region: IV || tag || ciphertext of the 32-byte
//     header, 32 + IVSize + 16 bytes in total.
//   - One IV || tag record per data block, indexed by block number.
//
// An all-zero IV marks a sparse block whose plaintext is defined as zeros;
// encryption resamples any randomly drawn all-zero IV so the marker stays
// unambiguous.
//
// # Durability
//
// Writes become durable only after Flush. Flush orders the data stream
// before the meta stream, so a crash can never persist an authentication
// tag for data that was not yet written. Close flushes best-effort; callers
// that need durability must call Flush and check its error.
//
// # Security Considerations
//
// Protected against: offline reads of file contents, directory structure
// and symlink targets; tampering and corruption of payload, header or
// metadata (detected on open or on the first read across the damage).
//
// Not protected against: leakage of file sizes and access patterns,
// compromised hosts while mounted, or side channels.
package vaultfs
