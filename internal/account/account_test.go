package account_test

import (
	"crypto/rand"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keypost-cli/keypost/internal/account"
	"github.com/keypost-cli/keypost/internal/errs"
	"github.com/keypost-cli/keypost/internal/locker"
	"github.com/keypost-cli/keypost/internal/store"
	"github.com/keypost-cli/keypost/internal/testserver"
	"github.com/keypost-cli/keypost/internal/transport"
)

type harness struct {
	server *testserver.Server
	http   *httptest.Server
	store  *store.Store
	acc    *account.Flow
	locker *locker.Flow
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := testserver.New()
	httpSrv := httptest.NewServer(srv)
	t.Cleanup(httpSrv.Close)

	st := store.New(filepath.Join(t.TempDir(), "keypost-cli"), zerolog.Nop())
	tr := transport.New(httpSrv.URL, zerolog.Nop())
	return &harness{
		server: srv,
		http:   httpSrv,
		store:  st,
		acc:    account.New(st, tr, rand.Reader, zerolog.Nop()),
		locker: locker.New(st, tr, rand.Reader, zerolog.Nop()),
	}
}

func TestRegisterThenLoginPersistsAllFourFiles(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.acc.Register("a@x", "hunter2"))
	require.NoError(t, h.acc.Login("a@x", "hunter2"))

	exportKey, err := h.store.ReadExportKey()
	require.NoError(t, err)
	assert.Len(t, exportKey, 64)

	_, email, err := h.store.ReadSession()
	require.NoError(t, err)
	assert.Equal(t, "a@x", email)

	_, err = h.store.ReadSessionKey()
	require.NoError(t, err)
	_, err = h.store.ReadServerPublicKey()
	require.NoError(t, err)
}

func TestWrongPasswordDoesNotWriteSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.acc.Register("a@x", "hunter2"))

	err := h.acc.Login("a@x", "wrong")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindProtocol))

	_, _, err = h.store.ReadSession()
	assert.True(t, store.IsNotExist(err))
}

func TestExportKeyDeterministicAcrossRegisterAndLogin(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.acc.Register("a@x", "hunter2"))
	afterRegister, err := h.store.ReadExportKey()
	require.NoError(t, err)

	require.NoError(t, h.acc.Login("a@x", "hunter2"))
	afterLogin, err := h.store.ReadExportKey()
	require.NoError(t, err)

	assert.Equal(t, afterRegister, afterLogin)
}

func TestKeyPinMismatchAbortsAndDoesNotRewriteFiles(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.acc.Register("a@x", "hunter2"))
	require.NoError(t, h.acc.Login("a@x", "hunter2"))

	corrupt := make([]byte, 32)
	require.NoError(t, h.store.WriteServerPublicKey(corrupt))
	before, err := h.store.ReadSessionKey()
	require.NoError(t, err)

	err = h.acc.Login("a@x", "hunter2")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindKeyPinMismatch))

	after, err := h.store.ReadSessionKey()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSessionTokensDifferAcrossLogins(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.acc.Register("a@x", "hunter2"))

	require.NoError(t, h.acc.Login("a@x", "hunter2"))
	first, _, err := h.store.ReadSession()
	require.NoError(t, err)

	require.NoError(t, h.acc.Login("a@x", "hunter2"))
	second, _, err := h.store.ReadSession()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestLogoutDeletesLocalSessionRegardlessOfServer(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.acc.Register("a@x", "hunter2"))
	require.NoError(t, h.acc.Login("a@x", "hunter2"))

	require.NoError(t, h.acc.Logout())
	_, _, err := h.store.ReadSession()
	assert.True(t, store.IsNotExist(err))
}

func TestLockerPutGetDeleteRoundTrip(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.acc.Register("a@x", "hunter2"))
	require.NoError(t, h.acc.Login("a@x", "hunter2"))

	require.NoError(t, h.locker.Put("pin", "1234"))
	got, err := h.locker.Get("pin")
	require.NoError(t, err)
	assert.Equal(t, "1234", got)

	require.NoError(t, h.locker.Delete("pin"))
	_, err = h.locker.Get("pin")
	assert.Error(t, err)
}

func TestExpiredSessionYieldsUnauthorized(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.acc.Register("a@x", "hunter2"))
	require.NoError(t, h.acc.Login("a@x", "hunter2"))
	require.NoError(t, h.locker.Put("pin", "1234"))

	h.server.ExpireAllSessions()

	_, err := h.locker.Get("pin")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindUnauthorized))
}
