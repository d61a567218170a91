// Package locker orchestrates put, get, and delete of named lockers,
// reusing the aPAKE engine's locker entry points with the account export
// key as the inner credential (§4.6, and the "aPAKE-over-aPAKE" design
// note in §9). Grounded on original_source's locker.rs
// (execute_put_secret/execute_get_secret/execute_delete_secret).
package locker

import (
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/rs/zerolog"

	"github.com/keypost-cli/keypost/internal/aead"
	"github.com/keypost-cli/keypost/internal/apake"
	"github.com/keypost-cli/keypost/internal/errs"
	"github.com/keypost-cli/keypost/internal/store"
	"github.com/keypost-cli/keypost/internal/transport"
)

// Flow orchestrates locker operations for one authenticated session.
type Flow struct {
	store     *store.Store
	transport *transport.Client
	rng       io.Reader
	log       zerolog.Logger
}

// New constructs a Flow.
func New(st *store.Store, tr *transport.Client, rng io.Reader, log zerolog.Logger) *Flow {
	if rng == nil {
		rng = rand.Reader
	}
	return &Flow{store: st, transport: tr, rng: rng, log: log.With().Str("component", "locker").Logger()}
}

func (f *Flow) credentials() (email, bearer string, exportKey []byte, err error) {
	tokenB64, storedEmail, err := f.store.ReadSession()
	if err != nil {
		return "", "", nil, errs.Wrap(errs.KindIO, "locker", err)
	}
	exportKey, err = f.store.ReadExportKey()
	if err != nil {
		return "", "", nil, errs.Wrap(errs.KindIO, "locker", err)
	}
	return storedEmail, tokenB64, exportKey, nil
}

// Put registers a fresh locker keyed on name and seals secret under the
// resulting locker export key (§4.6 Put).
func (f *Flow) Put(name, secret string) error {
	email, bearer, exportKey, err := f.credentials()
	if err != nil {
		return err
	}

	state, m1, err := apake.RegisterLockerStart(f.rng, exportKey)
	if err != nil {
		return errs.Wrap(errs.KindProtocol, "locker put", err)
	}

	startResp, err := f.transport.RegisterLockerStart(transport.LockerStartRequest{
		Name:  name,
		Email: email,
		Input: base64.StdEncoding.EncodeToString(m1),
	}, bearer)
	if err != nil {
		return err
	}
	m2, err := base64.StdEncoding.DecodeString(startResp.Output)
	if err != nil {
		return errs.Wrap(errs.KindParse, "locker put", err)
	}

	m3, lockerExportKey, err := apake.RegisterLockerFinish(f.rng, exportKey, state, m2)
	if err != nil {
		return errs.New(errs.KindProtocol, "locker put", "server misbehaved")
	}

	// The locker export key is longer than an AEAD key; its first
	// aead.KeySize bytes seal the secret.
	sealed, err := aead.SealEnvelope(lockerExportKey[:aead.KeySize], []byte(secret))
	if err != nil {
		return errs.Wrap(errs.KindProtocol, "locker put", err)
	}

	if _, err := f.transport.RegisterLockerFinish(transport.LockerRegisterFinishRequest{
		Name:       name,
		Email:      email,
		Input:      base64.StdEncoding.EncodeToString(m3),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	}, bearer); err != nil {
		return err
	}
	f.log.Info().Str("locker", name).Msg("stored")
	return nil
}

// Get opens a locker and returns its plaintext secret (§4.6 Get).
func (f *Flow) Get(name string) (string, error) {
	email, bearer, exportKey, err := f.credentials()
	if err != nil {
		return "", err
	}

	state, m1, err := apake.OpenLockerStart(f.rng, exportKey)
	if err != nil {
		return "", errs.Wrap(errs.KindProtocol, "locker get", err)
	}

	startResp, err := f.transport.OpenLockerStart(transport.LockerStartRequest{
		Name:  name,
		Email: email,
		Input: base64.StdEncoding.EncodeToString(m1),
	}, bearer)
	if err != nil {
		return "", err
	}
	m2, err := base64.StdEncoding.DecodeString(startResp.Output)
	if err != nil {
		return "", errs.Wrap(errs.KindParse, "locker get", err)
	}

	m3, sessionKey, lockerExportKey, err := apake.OpenLockerFinish(exportKey, state, m2)
	if err != nil {
		return "", errs.New(errs.KindProtocol, "locker get", "incorrect password or corrupt locker")
	}

	finishResp, err := f.transport.OpenLockerFinish(transport.LockerContinueRequest{
		Name:  name,
		Email: email,
		Input: base64.StdEncoding.EncodeToString(m3),
		Nonce: startResp.Nonce,
	}, bearer)
	if err != nil {
		return "", err
	}
	outer, err := base64.StdEncoding.DecodeString(finishResp.Output)
	if err != nil {
		return "", errs.Wrap(errs.KindParse, "locker get", err)
	}

	inner, err := aead.OpenEnvelope(sessionKey, outer)
	if err != nil {
		return "", errs.New(errs.KindProtocol, "locker get", "session layer decryption failed")
	}
	plaintext, err := aead.OpenEnvelope(lockerExportKey[:aead.KeySize], inner)
	if err != nil {
		return "", errs.New(errs.KindProtocol, "locker get", "incorrect password or corrupt locker")
	}
	return string(plaintext), nil
}

// Delete removes a locker after proving knowledge of its password via the
// same first two rounds as Get (§4.6 Delete).
func (f *Flow) Delete(name string) error {
	email, bearer, exportKey, err := f.credentials()
	if err != nil {
		return err
	}

	state, m1, err := apake.OpenLockerStart(f.rng, exportKey)
	if err != nil {
		return errs.Wrap(errs.KindProtocol, "locker delete", err)
	}

	startResp, err := f.transport.DeleteLockerStart(transport.LockerStartRequest{
		Name:  name,
		Email: email,
		Input: base64.StdEncoding.EncodeToString(m1),
	}, bearer)
	if err != nil {
		return err
	}
	m2, err := base64.StdEncoding.DecodeString(startResp.Output)
	if err != nil {
		return errs.Wrap(errs.KindParse, "locker delete", err)
	}

	m3, _, _, err := apake.OpenLockerFinish(exportKey, state, m2)
	if err != nil {
		return errs.New(errs.KindProtocol, "locker delete", "incorrect password or corrupt locker")
	}

	if _, err := f.transport.DeleteLockerFinish(transport.LockerContinueRequest{
		Name:  name,
		Email: email,
		Input: base64.StdEncoding.EncodeToString(m3),
		Nonce: startResp.Nonce,
	}, bearer); err != nil {
		return err
	}
	f.log.Info().Str("locker", name).Msg("deleted")
	return nil
}
