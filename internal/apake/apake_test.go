package apake

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func registerAccount(t *testing.T, srv *Server, accountID string, credential []byte) (exportKey, serverPublicKey []byte) {
	t.Helper()
	state, m1, err := RegisterStart(rand.Reader, credential)
	if err != nil {
		t.Fatalf("RegisterStart: %v", err)
	}
	m2, err := srv.RegisterStart(rand.Reader, accountID, m1)
	if err != nil {
		t.Fatalf("server RegisterStart: %v", err)
	}
	m3, exportKey, serverPublicKey, err := RegisterFinish(rand.Reader, credential, state, m2)
	if err != nil {
		t.Fatalf("RegisterFinish: %v", err)
	}
	if err := srv.RegisterFinish(accountID, m3); err != nil {
		t.Fatalf("server RegisterFinish: %v", err)
	}
	return exportKey, serverPublicKey
}

func loginAccount(t *testing.T, srv *Server, accountID string, credential []byte) (message, sessionKey, exportKey, serverPublicKey []byte, err error) {
	t.Helper()
	state, m1, startErr := LoginStart(rand.Reader, credential)
	if startErr != nil {
		t.Fatalf("LoginStart: %v", startErr)
	}
	m2, svrState, svrErr := srv.LoginStart(rand.Reader, accountID, m1)
	if svrErr != nil {
		return nil, nil, nil, nil, svrErr
	}
	message, sessionKey, exportKey, serverPublicKey, err = LoginFinish(credential, state, m2)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if verifyErr := srv.LoginFinish(svrState, message); verifyErr != nil {
		return nil, nil, nil, nil, verifyErr
	}
	if !bytes.Equal(sessionKey, svrState.SessionKey()) {
		t.Fatal("client and server disagree on session key")
	}
	return message, sessionKey, exportKey, serverPublicKey, nil
}

func TestRegisterThenLoginSucceeds(t *testing.T) {
	srv := NewServer(rand.Reader)
	password := []byte("hunter2")

	regExportKey, regServerPK := registerAccount(t, srv, "a@x", password)
	if len(regExportKey) < 32 {
		t.Fatalf("export key too short: %d bytes", len(regExportKey))
	}

	_, _, loginExportKey, loginServerPK, err := loginAccount(t, srv, "a@x", password)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if !bytes.Equal(regExportKey, loginExportKey) {
		t.Fatal("export key differs between registration and login")
	}
	if !bytes.Equal(regServerPK, loginServerPK) {
		t.Fatal("server static public key differs between registration and login")
	}
}

func TestWrongPasswordRejected(t *testing.T) {
	srv := NewServer(rand.Reader)
	registerAccount(t, srv, "a@x", []byte("hunter2"))

	_, _, _, _, err := loginAccount(t, srv, "a@x", []byte("wrong password"))
	if err != ErrProtocol {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestExportKeyIndependentOfSessionKey(t *testing.T) {
	srv := NewServer(rand.Reader)
	password := []byte("hunter2")
	registerAccount(t, srv, "a@x", password)

	_, sk1, ek1, _, err := loginAccount(t, srv, "a@x", password)
	if err != nil {
		t.Fatalf("login 1: %v", err)
	}
	_, sk2, ek2, _, err := loginAccount(t, srv, "a@x", password)
	if err != nil {
		t.Fatalf("login 2: %v", err)
	}
	if !bytes.Equal(ek1, ek2) {
		t.Fatal("export key is not deterministic across logins")
	}
	if bytes.Equal(sk1, sk2) {
		t.Fatal("session key must be fresh per login")
	}
}

func TestLockerEntryPointsMatchAccountEntryPoints(t *testing.T) {
	srv := NewServer(rand.Reader)
	lockerKey := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	state, m1, err := RegisterLockerStart(rand.Reader, lockerKey)
	if err != nil {
		t.Fatalf("RegisterLockerStart: %v", err)
	}
	m2, err := srv.RegisterStart(rand.Reader, "locker:pin", m1)
	if err != nil {
		t.Fatalf("server RegisterStart: %v", err)
	}
	m3, lockerExportKey, err := RegisterLockerFinish(rand.Reader, lockerKey, state, m2)
	if err != nil {
		t.Fatalf("RegisterLockerFinish: %v", err)
	}
	if err := srv.RegisterFinish("locker:pin", m3); err != nil {
		t.Fatalf("server RegisterFinish: %v", err)
	}

	loginState, lm1, err := OpenLockerStart(rand.Reader, lockerKey)
	if err != nil {
		t.Fatalf("OpenLockerStart: %v", err)
	}
	lm2, svrState, err := srv.LoginStart(rand.Reader, "locker:pin", lm1)
	if err != nil {
		t.Fatalf("server LoginStart: %v", err)
	}
	finalization, _, openedExportKey, err := OpenLockerFinish(lockerKey, loginState, lm2)
	if err != nil {
		t.Fatalf("OpenLockerFinish: %v", err)
	}
	if err := srv.LoginFinish(svrState, finalization); err != nil {
		t.Fatalf("server LoginFinish: %v", err)
	}
	if !bytes.Equal(lockerExportKey, openedExportKey) {
		t.Fatal("locker export key is not deterministic")
	}
}

func TestImpersonatingServerYieldsDifferentStaticKey(t *testing.T) {
	honest := NewServer(rand.Reader)
	impostor := NewServer(rand.Reader)

	password := []byte("hunter2")
	_, honestPK := registerAccount(t, honest, "a@x", password)

	registerAccount(t, impostor, "a@x", password)
	_, _, _, impostorPK, err := loginAccount(t, impostor, "a@x", password)
	if err != nil {
		t.Fatalf("login against impostor: %v", err)
	}

	if bytes.Equal(honestPK, impostorPK) {
		t.Fatal("two independently generated servers must not share a static public key")
	}
}
