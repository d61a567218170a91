package cliapp_test

import (
	"bytes"
	"crypto/rand"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keypost-cli/keypost/internal/account"
	"github.com/keypost-cli/keypost/internal/cliapp"
	"github.com/keypost-cli/keypost/internal/locker"
	"github.com/keypost-cli/keypost/internal/store"
	"github.com/keypost-cli/keypost/internal/testserver"
	"github.com/keypost-cli/keypost/internal/transport"
)

func newApp(t *testing.T, answers ...string) (*cliapp.App, *bytes.Buffer) {
	t.Helper()
	srv := testserver.New()
	httpSrv := httptest.NewServer(srv)
	t.Cleanup(httpSrv.Close)

	st := store.New(filepath.Join(t.TempDir(), "keypost-cli"), zerolog.Nop())
	tr := transport.New(httpSrv.URL, zerolog.Nop())
	acc := account.New(st, tr, rand.Reader, zerolog.Nop())
	lck := locker.New(st, tr, rand.Reader, zerolog.Nop())

	out := &bytes.Buffer{}
	app := cliapp.New(acc, lck, cliapp.NewCannedPrompter(answers...), out, zerolog.Nop())
	return app, out
}

func TestMenuRegisterLoginPutGetExit(t *testing.T) {
	app, out := newApp(t,
		"1", "a@x", "hunter2", // register
		"2", "a@x", "hunter2", // login
		"3", "pin", "1234", // put
		"4", "pin", // get
		"7", // exit
	)
	code := app.Run()
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "registered")
	assert.Contains(t, out.String(), "logged in")
	assert.Contains(t, out.String(), "stored")
	assert.Contains(t, out.String(), "secret: 1234")
	assert.Contains(t, out.String(), "goodbye")
}

func TestMenuExitsCleanlyOnInputExhaustion(t *testing.T) {
	app, out := newApp(t, "1", "a@x", "hunter2")
	code := app.Run()
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "goodbye")
}

func TestMenuWrongPasswordReportsFailureWithoutStepDetail(t *testing.T) {
	app, out := newApp(t,
		"1", "a@x", "hunter2",
		"2", "a@x", "wrong",
		"7",
	)
	code := app.Run()
	require.Equal(t, 0, code)
	assert.True(t, strings.Contains(out.String(), "login failed: incorrect password or corrupted data"))
}
