package vaultfs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/absfs/absfs"
	"golang.org/x/crypto/pbkdf2"
)

// configVersionHeader is the associated data for the master key wrapping.
// It is fixed at "version=1" for every format version: existing
// filesystems were created this way, and varying it would invalidate every
// deployed config.
const configVersionHeader = "version=1"

// KeyedConfig is the persisted .securefs.json record: the PBKDF2
// parameters and the passphrase-wrapped master key, plus the
// version-dependent block and IV sizes.
type KeyedConfig struct {
	Version    int
	Iterations int
	Salt       []byte

	// The wrapped master key: AES-GCM ciphertext with its IV and tag.
	EncryptedKeyIV  []byte
	EncryptedKeyMAC []byte
	EncryptedKey    []byte

	// Per-filesystem stream parameters. Version 1 fixes them; version 2
	// persists them.
	BlockSize int
	IVSize    int
}

// configJSON is the exact wire schema. Binary fields are lowercase hex.
type configJSON struct {
	Version      int              `json:"version"`
	Iterations   int              `json:"iterations"`
	Salt         string           `json:"salt"`
	EncryptedKey encryptedKeyJSON `json:"encrypted_key"`
	BlockSize    *int             `json:"block_size,omitempty"`
	IVSize       *int             `json:"iv_size,omitempty"`
}

type encryptedKeyJSON struct {
	IV  string `json:"IV"`
	MAC string `json:"MAC"`
	Key string `json:"key"`
}

// NewKeyedConfig generates a fresh master key and wraps it under password.
// iterations of zero selects DefaultIterations. For version 1, blockSize
// and ivSize are ignored and fixed; for version 2 they are validated and
// persisted. The returned master key is owned by the caller, who should
// wipe it when done.
func NewKeyedConfig(password []byte, version, blockSize, ivSize, iterations int) (*KeyedConfig, []byte, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, nil, err
	}
	if len(password) == 0 {
		return nil, nil, NewValidationError("password", nil, "password cannot be empty")
	}

	switch version {
	case FormatV1:
		blockSize = DefaultBlockSize
		ivSize = V1IVSize
	case FormatV2:
		if err := ValidateBlockSize(blockSize); err != nil {
			return nil, nil, err
		}
		if err := ValidateIVSize(ivSize); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, NewValidationError("version", version, fmt.Sprintf("unsupported version %d", version))
	}

	if iterations == 0 {
		iterations = DefaultIterations
	}
	if iterations < 0 {
		return nil, nil, NewValidationError("iterations", iterations, "iteration count must be positive")
	}

	masterKey := make([]byte, KeySize)
	if err := readRandom(masterKey); err != nil {
		return nil, nil, err
	}
	salt := make([]byte, ConfigSaltSize)
	if err := readRandom(salt); err != nil {
		return nil, nil, err
	}

	c := &KeyedConfig{
		Version:    version,
		Iterations: iterations,
		Salt:       salt,
		BlockSize:  blockSize,
		IVSize:     ivSize,
	}
	if err := c.wrapMasterKey(password, masterKey); err != nil {
		Wipe(masterKey)
		return nil, nil, err
	}
	return c, masterKey, nil
}

// wrapMasterKey derives the KEK from password and the config's salt and
// re-issues the encrypted_key block.
func (c *KeyedConfig) wrapMasterKey(password, masterKey []byte) error {
	kek := pbkdf2.Key(password, c.Salt, c.Iterations, KeySize, sha256.New)
	defer Wipe(kek)

	aead, err := newAESGCM(kek, ConfigIVSize)
	if err != nil {
		return err
	}

	iv := make([]byte, ConfigIVSize)
	if err := readRandom(iv); err != nil {
		return err
	}

	sealed := aead.Seal(nil, iv, masterKey, []byte(configVersionHeader))
	c.EncryptedKeyIV = iv
	c.EncryptedKey = sealed[:KeySize]
	c.EncryptedKeyMAC = sealed[KeySize:]
	return nil
}

// Unlock derives the KEK from password and unwraps the master key. A tag
// mismatch is reported as ErrWrongPassword; no other signal distinguishes
// a bad passphrase from a correct one.
func (c *KeyedConfig) Unlock(password []byte) ([]byte, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	kek := pbkdf2.Key(password, c.Salt, c.Iterations, KeySize, sha256.New)
	defer Wipe(kek)

	aead, err := newAESGCM(kek, ConfigIVSize)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, KeySize+TagSize)
	sealed = append(sealed, c.EncryptedKey...)
	sealed = append(sealed, c.EncryptedKeyMAC...)

	masterKey, err := aead.Open(nil, c.EncryptedKeyIV, sealed, []byte(configVersionHeader))
	if err != nil {
		return nil, ErrWrongPassword
	}
	return masterKey, nil
}

// Marshal renders the exact on-disk JSON.
func (c *KeyedConfig) Marshal() ([]byte, error) {
	out := configJSON{
		Version:    c.Version,
		Iterations: c.Iterations,
		Salt:       hex.EncodeToString(c.Salt),
		EncryptedKey: encryptedKeyJSON{
			IV:  hex.EncodeToString(c.EncryptedKeyIV),
			MAC: hex.EncodeToString(c.EncryptedKeyMAC),
			Key: hex.EncodeToString(c.EncryptedKey),
		},
	}
	if c.Version == FormatV2 {
		out.BlockSize = &c.BlockSize
		out.IVSize = &c.IVSize
	}
	return json.MarshalIndent(&out, "", "    ")
}

// ParseConfig reads the on-disk JSON and validates the version-dependent
// parameters. The master key stays wrapped until Unlock.
func ParseConfig(data []byte) (*KeyedConfig, error) {
	var raw configJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	c := &KeyedConfig{
		Version:    raw.Version,
		Iterations: raw.Iterations,
	}

	switch raw.Version {
	case FormatV1:
		c.BlockSize = DefaultBlockSize
		c.IVSize = V1IVSize
	case FormatV2:
		if raw.BlockSize == nil || raw.IVSize == nil {
			return nil, fmt.Errorf("%w: version 2 config missing block_size or iv_size", ErrInvalidFormat)
		}
		if err := ValidateBlockSize(*raw.BlockSize); err != nil {
			return nil, err
		}
		if err := ValidateIVSize(*raw.IVSize); err != nil {
			return nil, err
		}
		c.BlockSize = *raw.BlockSize
		c.IVSize = *raw.IVSize
	default:
		return nil, NewValidationError("version", raw.Version, fmt.Sprintf("unsupported version %d", raw.Version))
	}

	if c.Iterations < 1 {
		return nil, NewValidationError("iterations", c.Iterations, "iteration count must be positive")
	}

	var err error
	if c.Salt, err = decodeHexField(raw.Salt, "salt", ConfigSaltSize); err != nil {
		return nil, err
	}
	if c.EncryptedKeyIV, err = decodeHexField(raw.EncryptedKey.IV, "encrypted_key.IV", ConfigIVSize); err != nil {
		return nil, err
	}
	if c.EncryptedKeyMAC, err = decodeHexField(raw.EncryptedKey.MAC, "encrypted_key.MAC", TagSize); err != nil {
		return nil, err
	}
	if c.EncryptedKey, err = decodeHexField(raw.EncryptedKey.Key, "encrypted_key.key", KeySize); err != nil {
		return nil, err
	}
	return c, nil
}

func decodeHexField(s, name string, size int) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad hex in %s", ErrInvalidFormat, name)
	}
	if len(b) != size {
		return nil, fmt.Errorf("%w: %s is %d bytes, expected %d", ErrInvalidFormat, name, len(b), size)
	}
	return b, nil
}

// LoadConfig reads and parses the key configuration at the root of dir.
func LoadConfig(fs absfs.FileSystem, dir string) (*KeyedConfig, error) {
	f, err := fs.OpenFile(filepath.Join(dir, ConfigFileName), os.O_RDONLY, 0)
	if err != nil {
		return nil, NewIOError("open config", -1, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, NewIOError("stat config", -1, err)
	}
	data := make([]byte, info.Size())
	store := NewFileStore(f, false)
	if _, err := store.Read(data, 0); err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

func (c *KeyedConfig) save(fs absfs.FileSystem, dir, name string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}

	f, err := fs.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return NewIOError("create config", -1, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return NewIOError("write config", -1, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return NewIOError("sync config", -1, err)
	}
	return f.Close()
}

// Save writes the configuration to its canonical filename at the root of
// dir.
func (c *KeyedConfig) Save(fs absfs.FileSystem, dir string) error {
	return c.save(fs, dir, ConfigFileName)
}

// RotatePassword rewraps the master key under newPassword: the config is
// unlocked with oldPassword, re-issued with a fresh salt and IV (version,
// block size, IV size preserved, iterations reset to the default), written
// to a temporary file, and atomically renamed into place.
func RotatePassword(fs absfs.FileSystem, dir string, oldPassword, newPassword []byte) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	if len(newPassword) == 0 {
		return NewValidationError("password", nil, "password cannot be empty")
	}

	c, err := LoadConfig(fs, dir)
	if err != nil {
		return err
	}
	masterKey, err := c.Unlock(oldPassword)
	if err != nil {
		return err
	}
	defer Wipe(masterKey)

	c.Iterations = DefaultIterations
	c.Salt = make([]byte, ConfigSaltSize)
	if err := readRandom(c.Salt); err != nil {
		return err
	}
	if err := c.wrapMasterKey(newPassword, masterKey); err != nil {
		return err
	}

	if err := c.save(fs, dir, ConfigTmpFileName); err != nil {
		return err
	}
	if err := fs.Rename(filepath.Join(dir, ConfigTmpFileName), filepath.Join(dir, ConfigFileName)); err != nil {
		return NewIOError("rename config", -1, err)
	}
	return nil
}
