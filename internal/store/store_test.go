package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "keypost-cli")
	return New(dir, zerolog.Nop())
}

func TestEnsureDataDirCreatesOwnerOnlyDirectory(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureDataDir())

	info, err := os.Stat(s.Dir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(dirPerm), info.Mode().Perm())
}

func TestWriteSecureThenReadRoundTripsBase64(t *testing.T) {
	s := newTestStore(t)
	want := []byte{0x01, 0x02, 0xFF, 0x00, 0x10}

	require.NoError(t, s.WriteSecure("thing.private", want, true))
	got, err := s.Read("thing.private", true)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestWriteSecureSetsOwnerOnlyPermissions(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WriteSecure("thing.private", []byte("x"), false))

	info, err := os.Stat(filepath.Join(s.Dir(), "thing.private"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(filePerm), info.Mode().Perm())
}

func TestReadMissingFileIsErrNotExist(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read("server.public", true)
	assert.True(t, IsNotExist(err))
}

func TestExportKeyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	key := make([]byte, 64)
	for i := range key {
		key[i] = byte(i)
	}
	require.NoError(t, s.WriteExportKey(key))
	got, err := s.ReadExportKey()
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	token := make([]byte, 20)
	for i := range token {
		token[i] = byte(i + 1)
	}
	require.NoError(t, s.WriteSession(token, "a@x"))

	tokenB64, email, err := s.ReadSession()
	require.NoError(t, err)
	assert.Equal(t, "a@x", email)
	assert.NotEmpty(t, tokenB64)
}

func TestDeleteSessionIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WriteSession(make([]byte, 20), "a@x"))
	require.NoError(t, s.DeleteSession())
	require.NoError(t, s.DeleteSession())

	_, _, err := s.ReadSession()
	assert.True(t, IsNotExist(err))
}
