package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func Test_LoadAccountsSeed_OK(t *testing.T) {
	path := writeSeedFile(t, `
accounts:
  - email: a@x.io
    password: pw-a
  - email: b@x.io
    password: pw-b
`)
	seed, err := LoadAccountsSeed(path)
	require.NoError(t, err)
	require.Len(t, seed, 2)
	require.Equal(t, "a@x.io", seed[0].Email)
	require.Equal(t, "pw-b", seed[1].Password)
}

func Test_LoadAccountsSeed_MissingFile(t *testing.T) {
	_, err := LoadAccountsSeed(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func Test_LoadAccountsSeed_BadYAML(t *testing.T) {
	path := writeSeedFile(t, "accounts: [not closed")
	_, err := LoadAccountsSeed(path)
	require.Error(t, err)
}

func Test_LoadAccountsSeed_MissingFields(t *testing.T) {
	path := writeSeedFile(t, `
accounts:
  - email: a@x.io
`)
	_, err := LoadAccountsSeed(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing email or password")
}

func Test_LoadAccountsSeed_Empty(t *testing.T) {
	path := writeSeedFile(t, "accounts: []")
	seed, err := LoadAccountsSeed(path)
	require.NoError(t, err)
	require.Empty(t, seed)
}
