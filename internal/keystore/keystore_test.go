package keystore

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "validator.json")
	password := []byte("correct horse battery staple")
	require.NoError(t, Save(path, password, id))

	got, err := Load(path, password)
	require.NoError(t, err)
	require.Equal(t, id.Ed25519Public, got.Ed25519Public)
	require.Equal(t, id.Ed25519Private, got.Ed25519Private)
	require.Equal(t, id.BLSPrivate.Bytes(), got.BLSPrivate.Bytes())
	require.Equal(t, id.BLSPrivate.PublicKey(), got.BLSPrivate.PublicKey())
}

func TestLoadWrongPasswordFails(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "validator.json")
	require.NoError(t, Save(path, []byte("right"), id))

	_, err = Load(path, []byte("wrong"))
	require.Error(t, err)
}

func TestFilePermissionsOwnerOnly(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}
	id, err := Generate()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "validator.json")
	require.NoError(t, Save(path, []byte("pw"), id))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadRejectsWeakKDFParams(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "validator.json")
	require.NoError(t, Save(path, []byte("pw"), id))

	// Downgrade the stored parameters below the minimum.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := []byte(string(raw))
	tampered = replaceOnce(t, tampered, `"memory_kib": 65536`, `"memory_kib": 1024`)
	require.NoError(t, os.WriteFile(path, tampered, 0o600))

	_, err = Load(path, []byte("pw"))
	require.Error(t, err)
}

func replaceOnce(t *testing.T, raw []byte, old, new string) []byte {
	t.Helper()
	s := string(raw)
	idx := -1
	for i := 0; i+len(old) <= len(s); i++ {
		if s[i:i+len(old)] == old {
			idx = i
			break
		}
	}
	require.GreaterOrEqual(t, idx, 0, "expected %q in keystore file", old)
	return []byte(s[:idx] + new + s[idx+len(old):])
}
