package vaultfs

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedConfig_RoundtripV2(t *testing.T) {
	cfg, masterKey, err := NewKeyedConfig([]byte("correct horse"), FormatV2, 4096, 12, 1000)
	require.NoError(t, err)
	require.Len(t, masterKey, KeySize)

	data, err := cfg.Marshal()
	require.NoError(t, err)

	parsed, err := ParseConfig(data)
	require.NoError(t, err)
	assert.Equal(t, FormatV2, parsed.Version)
	assert.Equal(t, 1000, parsed.Iterations)
	assert.Equal(t, 4096, parsed.BlockSize)
	assert.Equal(t, 12, parsed.IVSize)

	unlocked, err := parsed.Unlock([]byte("correct horse"))
	require.NoError(t, err)
	assert.Equal(t, masterKey, unlocked)

	_, err = parsed.Unlock([]byte("wrong horse"))
	assert.ErrorIs(t, err, ErrWrongPassword)
}

func TestKeyedConfig_V1FixesParameters(t *testing.T) {
	cfg, _, err := NewKeyedConfig([]byte("pw"), FormatV1, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultBlockSize, cfg.BlockSize)
	assert.Equal(t, V1IVSize, cfg.IVSize)
	assert.Equal(t, DefaultIterations, cfg.Iterations)

	data, err := cfg.Marshal()
	require.NoError(t, err)

	// Version 1 must not persist block_size or iv_size.
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "block_size")
	assert.NotContains(t, raw, "iv_size")

	parsed, err := ParseConfig(data)
	require.NoError(t, err)
	assert.Equal(t, DefaultBlockSize, parsed.BlockSize)
	assert.Equal(t, V1IVSize, parsed.IVSize)
}

func TestKeyedConfig_WireFormat(t *testing.T) {
	cfg, _, err := NewKeyedConfig([]byte("pw"), FormatV2, 4096, 16, 1000)
	require.NoError(t, err)

	data, err := cfg.Marshal()
	require.NoError(t, err)

	var raw struct {
		Version      int    `json:"version"`
		Iterations   int    `json:"iterations"`
		Salt         string `json:"salt"`
		EncryptedKey struct {
			IV  string `json:"IV"`
			MAC string `json:"MAC"`
			Key string `json:"key"`
		} `json:"encrypted_key"`
		BlockSize int `json:"block_size"`
		IVSize    int `json:"iv_size"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, 2, raw.Version)
	assert.Equal(t, 1000, raw.Iterations)
	assert.Len(t, raw.Salt, 2*ConfigSaltSize)
	assert.Len(t, raw.EncryptedKey.IV, 2*ConfigIVSize)
	assert.Len(t, raw.EncryptedKey.MAC, 2*TagSize)
	assert.Len(t, raw.EncryptedKey.Key, 2*KeySize)
	assert.Equal(t, 4096, raw.BlockSize)
	assert.Equal(t, 16, raw.IVSize)
}

func TestKeyedConfig_Validation(t *testing.T) {
	_, _, err := NewKeyedConfig([]byte("pw"), 3, 4096, 12, 0)
	assert.True(t, IsValidationError(err), "unsupported version: %v", err)

	_, _, err = NewKeyedConfig([]byte("pw"), FormatV2, 1000, 12, 0)
	assert.True(t, IsValidationError(err), "non power-of-two block size: %v", err)

	_, _, err = NewKeyedConfig([]byte("pw"), FormatV2, 4096, 8, 0)
	assert.True(t, IsValidationError(err), "iv size below minimum: %v", err)

	_, _, err = NewKeyedConfig([]byte("pw"), FormatV2, 4096, 65, 0)
	assert.True(t, IsValidationError(err), "iv size above maximum: %v", err)

	_, _, err = NewKeyedConfig(nil, FormatV1, 0, 0, 0)
	assert.True(t, IsValidationError(err), "empty password: %v", err)

	_, _, err = NewKeyedConfig(make([]byte, MaxPasswordLength+1), FormatV1, 0, 0, 0)
	assert.True(t, IsValidationError(err), "oversized password: %v", err)
}

func TestParseConfig_RejectsMalformed(t *testing.T) {
	cfg, _, err := NewKeyedConfig([]byte("pw"), FormatV2, 4096, 12, 1000)
	require.NoError(t, err)
	good, err := cfg.Marshal()
	require.NoError(t, err)

	mutate := func(f func(m map[string]any)) []byte {
		var m map[string]any
		require.NoError(t, json.Unmarshal(good, &m))
		f(m)
		out, err := json.Marshal(m)
		require.NoError(t, err)
		return out
	}

	cases := []struct {
		name string
		data []byte
	}{
		{"not json", []byte("{")},
		{"bad version", mutate(func(m map[string]any) { m["version"] = 7 })},
		{"missing block size", mutate(func(m map[string]any) { delete(m, "block_size") })},
		{"odd block size", mutate(func(m map[string]any) { m["block_size"] = 3000 })},
		{"iv too small", mutate(func(m map[string]any) { m["iv_size"] = 4 })},
		{"zero iterations", mutate(func(m map[string]any) { m["iterations"] = 0 })},
		{"bad salt hex", mutate(func(m map[string]any) { m["salt"] = "zz" })},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseConfig(tc.data)
			assert.Error(t, err)
		})
	}
}

func TestKeyedConfig_SaveLoad(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.Mkdir("/vault", 0o755))

	cfg, masterKey, err := NewKeyedConfig([]byte("hunter2 hunter2"), FormatV2, 4096, 12, 1000)
	require.NoError(t, err)
	require.NoError(t, cfg.Save(fs, "/vault"))

	loaded, err := LoadConfig(fs, "/vault")
	require.NoError(t, err)

	unlocked, err := loaded.Unlock([]byte("hunter2 hunter2"))
	require.NoError(t, err)
	assert.Equal(t, masterKey, unlocked)
}

func TestRotatePassword(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.Mkdir("/vault", 0o755))

	cfg, masterKey, err := NewKeyedConfig([]byte("old password"), FormatV2, 4096, 12, 1000)
	require.NoError(t, err)
	require.NoError(t, cfg.Save(fs, "/vault"))

	require.NoError(t, RotatePassword(fs, "/vault", []byte("old password"), []byte("new password")))

	// The temporary file must not survive the rename.
	_, err = fs.OpenFile("/vault/"+ConfigTmpFileName, os.O_RDONLY, 0)
	assert.Error(t, err)

	loaded, err := LoadConfig(fs, "/vault")
	require.NoError(t, err)

	// The master key is preserved; only its wrapping changes.
	unlocked, err := loaded.Unlock([]byte("new password"))
	require.NoError(t, err)
	assert.Equal(t, masterKey, unlocked)
	assert.Equal(t, FormatV2, loaded.Version)
	assert.Equal(t, 4096, loaded.BlockSize)
	assert.Equal(t, 12, loaded.IVSize)
	assert.Equal(t, DefaultIterations, loaded.Iterations)

	_, err = loaded.Unlock([]byte("old password"))
	assert.ErrorIs(t, err, ErrWrongPassword)

	// Rotation with the wrong current password must fail and leave the
	// config untouched.
	err = RotatePassword(fs, "/vault", []byte("old password"), []byte("another"))
	assert.ErrorIs(t, err, ErrWrongPassword)

	loaded, err = LoadConfig(fs, "/vault")
	require.NoError(t, err)
	_, err = loaded.Unlock([]byte("new password"))
	assert.NoError(t, err)
}
