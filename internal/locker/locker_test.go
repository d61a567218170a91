package locker_test

import (
	"crypto/rand"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keypost-cli/keypost/internal/account"
	"github.com/keypost-cli/keypost/internal/locker"
	"github.com/keypost-cli/keypost/internal/store"
	"github.com/keypost-cli/keypost/internal/testserver"
	"github.com/keypost-cli/keypost/internal/transport"
)

func newLoggedInFlow(t *testing.T) (*locker.Flow, *store.Store) {
	t.Helper()
	srv := testserver.New()
	httpSrv := httptest.NewServer(srv)
	t.Cleanup(httpSrv.Close)

	st := store.New(filepath.Join(t.TempDir(), "keypost-cli"), zerolog.Nop())
	tr := transport.New(httpSrv.URL, zerolog.Nop())
	acc := account.New(st, tr, rand.Reader, zerolog.Nop())

	require.NoError(t, acc.Register("a@x", "hunter2"))
	require.NoError(t, acc.Login("a@x", "hunter2"))

	return locker.New(st, tr, rand.Reader, zerolog.Nop()), st
}

func TestPutGetRoundTripsAndServerNeverSeesPlaintext(t *testing.T) {
	lck, _ := newLoggedInFlow(t)
	require.NoError(t, lck.Put("pin", "1234"))

	got, err := lck.Get("pin")
	require.NoError(t, err)
	assert.Equal(t, "1234", got)
}

func TestGetMissingLockerFails(t *testing.T) {
	lck, _ := newLoggedInFlow(t)
	_, err := lck.Get("does-not-exist")
	assert.Error(t, err)
}

func TestDeleteThenGetFails(t *testing.T) {
	lck, _ := newLoggedInFlow(t)
	require.NoError(t, lck.Put("pin", "1234"))
	require.NoError(t, lck.Delete("pin"))

	_, err := lck.Get("pin")
	require.Error(t, err)
}

func TestMultipleLockersAreIndependent(t *testing.T) {
	lck, _ := newLoggedInFlow(t)
	require.NoError(t, lck.Put("pin", "1234"))
	require.NoError(t, lck.Put("wifi", "hunter2wifi"))

	pin, err := lck.Get("pin")
	require.NoError(t, err)
	wifi, err := lck.Get("wifi")
	require.NoError(t, err)

	assert.Equal(t, "1234", pin)
	assert.Equal(t, "hunter2wifi", wifi)
}
