// Package account orchestrates the register and login round trips: it
// drives the aPAKE engine through its start/finish calls, ships the
// resulting messages over the transport client, pins the server's static
// public key on first contact, and persists the long-lived secrets through
// the secure store. Grounded on original_source's account.rs
// (execute_registration_exchange/execute_login_exchange/execute_login_verify),
// reworked into explicit Go functions over the same store/transport/apake/aead
// packages the rest of the client uses.
package account

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"io"

	"github.com/rs/zerolog"

	"github.com/keypost-cli/keypost/internal/aead"
	"github.com/keypost-cli/keypost/internal/apake"
	"github.com/keypost-cli/keypost/internal/errs"
	"github.com/keypost-cli/keypost/internal/store"
	"github.com/keypost-cli/keypost/internal/transport"
)

// verifierSize is the PKCE verifier's entropy in bytes (§4.5 step 2).
const verifierSize = 128

// Flow orchestrates account registration and login for one user. It holds
// no per-call state of its own beyond its collaborators; every operation is
// a self-contained exchange.
type Flow struct {
	store     *store.Store
	transport *transport.Client
	rng       io.Reader
	log       zerolog.Logger
}

// New constructs a Flow. rng is threaded explicitly (rather than always
// crypto/rand.Reader) so tests can substitute a deterministic source.
func New(st *store.Store, tr *transport.Client, rng io.Reader, log zerolog.Logger) *Flow {
	if rng == nil {
		rng = rand.Reader
	}
	return &Flow{store: st, transport: tr, rng: rng, log: log.With().Str("component", "account").Logger()}
}

// Register runs the full registration exchange (§4.5): two round trips
// bound together by a PKCE verifier, ending with the export key and the
// server's static public key persisted locally.
func (f *Flow) Register(email, password string) error {
	state, m1, err := apake.RegisterStart(f.rng, []byte(password))
	if err != nil {
		return errs.Wrap(errs.KindProtocol, "register", err)
	}

	verifier := make([]byte, verifierSize)
	if _, err := io.ReadFull(f.rng, verifier); err != nil {
		return errs.Wrap(errs.KindIO, "register", err)
	}
	verifierB64 := base64.StdEncoding.EncodeToString(verifier)
	challenge := pkceChallenge(verifier)

	startResp, err := f.transport.RegisterStart(transport.RegisterStartRequest{
		Email:     email,
		Input:     base64.StdEncoding.EncodeToString(m1),
		Challenge: challenge,
	})
	if err != nil {
		return err
	}

	m2, err := base64.StdEncoding.DecodeString(startResp.Output)
	if err != nil {
		return errs.Wrap(errs.KindParse, "register", err)
	}

	m3, exportKey, serverStaticPublicKey, err := apake.RegisterFinish(f.rng, []byte(password), state, m2)
	if err != nil {
		return errs.New(errs.KindProtocol, "register", "server misbehaved")
	}

	if err := f.store.WriteExportKey(exportKey); err != nil {
		return errs.Wrap(errs.KindIO, "register", err)
	}
	if err := f.store.WriteServerPublicKey(serverStaticPublicKey); err != nil {
		return errs.Wrap(errs.KindIO, "register", err)
	}

	if _, err := f.transport.RegisterFinish(transport.RegisterFinishRequest{
		ID:       startResp.ID,
		Email:    email,
		Input:    base64.StdEncoding.EncodeToString(m3),
		Verifier: verifierB64,
	}); err != nil {
		return err
	}
	f.log.Info().Str("email", email).Msg("registered")
	return nil
}

// Login runs the full login exchange (§4.5): the PAKE round trip, TOFU
// server-key pinning, and the post-login challenge-response that upgrades
// the session key into a persisted bearer SessionToken.
func (f *Flow) Login(email, password string) error {
	state, m1, err := apake.LoginStart(f.rng, []byte(password))
	if err != nil {
		return errs.Wrap(errs.KindProtocol, "login", err)
	}

	startResp, err := f.transport.LoginStart(transport.LoginStartRequest{
		Email: email,
		Input: base64.StdEncoding.EncodeToString(m1),
	})
	if err != nil {
		return err
	}
	m2, err := base64.StdEncoding.DecodeString(startResp.Output)
	if err != nil {
		return errs.Wrap(errs.KindParse, "login", err)
	}

	m3, sessionKey, exportKey, serverStaticPublicKey, err := apake.LoginFinish([]byte(password), state, m2)
	if err != nil {
		return errs.New(errs.KindProtocol, "login", "incorrect password")
	}

	if err := f.pinServerKey(serverStaticPublicKey); err != nil {
		return err
	}

	finishResp, err := f.transport.LoginFinish(transport.LoginFinishRequest{
		ID:    startResp.ID,
		Email: email,
		Input: base64.StdEncoding.EncodeToString(m3),
	})
	if err != nil {
		return err
	}
	if finishResp.Output == transport.FailedLoginSentinel {
		return errs.New(errs.KindProtocol, "login", "incorrect password")
	}
	challenge, err := base64.StdEncoding.DecodeString(finishResp.Output)
	if err != nil {
		return errs.New(errs.KindProtocol, "login", "unrecognized challenge response")
	}

	if err := f.answerChallenge(finishResp.ID, challenge, sessionKey); err != nil {
		return err
	}

	if err := f.persistSession(finishResp.ID, sessionKey, email); err != nil {
		return err
	}
	if err := f.store.WriteExportKey(exportKey); err != nil {
		return errs.Wrap(errs.KindIO, "login", err)
	}
	f.log.Info().Str("email", email).Msg("logged in")
	return nil
}

// pinServerKey implements the trust-on-first-use layer (§4.5 step 3, §9):
// a missing pin is first contact and is stored; a present, differing pin
// is a suspected MITM and aborts before any further state is persisted.
func (f *Flow) pinServerKey(derived []byte) error {
	pinned, err := f.store.ReadServerPublicKey()
	if store.IsNotExist(err) {
		if err := f.store.WriteServerPublicKey(derived); err != nil {
			return errs.Wrap(errs.KindIO, "login", err)
		}
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.KindIO, "login", err)
	}
	if subtle.ConstantTimeCompare(pinned, derived) != 1 {
		return errs.New(errs.KindKeyPinMismatch, "login", "server static public key does not match pinned value")
	}
	return nil
}

// answerChallenge runs §4.5's challenge-response session establishment:
// encrypt the server's random challenge under the session key with a nonce
// derived from the login id, hash the ciphertext, and have the server
// confirm the hash matches what it would compute independently.
func (f *Flow) answerChallenge(loginID uint32, challenge, sessionKey []byte) error {
	ciphertext, err := aead.SealWithID(loginID, sessionKey, challenge)
	if err != nil {
		return errs.Wrap(errs.KindProtocol, "login", err)
	}
	sum := sha256.Sum256(ciphertext)
	hash := base64.StdEncoding.EncodeToString(sum[:])

	verifyResp, err := f.transport.LoginVerify(transport.LoginVerifyRequest{ID: loginID, Input: hash})
	if err != nil {
		return err
	}
	if verifyResp.Output != transport.LoginVerifySuccessSentinel {
		return errs.New(errs.KindProtocol, "login", "challenge verification rejected")
	}
	return nil
}

// persistSession constructs the SessionToken (§4.5 step 5: the login id
// encrypted under the session key, expanding to 20 bytes with the AEAD
// tag) and writes it, the session key, and the email to the secure store.
func (f *Flow) persistSession(loginID uint32, sessionKey []byte, email string) error {
	var idBytes [4]byte
	binary.BigEndian.PutUint32(idBytes[:], loginID)
	token, err := aead.SealWithID(loginID, sessionKey, idBytes[:])
	if err != nil {
		return errs.Wrap(errs.KindProtocol, "login", err)
	}
	if err := f.store.WriteSession(token, email); err != nil {
		return errs.Wrap(errs.KindIO, "login", err)
	}
	if err := f.store.WriteSessionKey(sessionKey); err != nil {
		return errs.Wrap(errs.KindIO, "login", err)
	}
	return nil
}

// Logout posts to /logout with the current SessionToken and, regardless of
// the server's response, deletes the local session file (§4.5 Logout).
func (f *Flow) Logout() error {
	bearer, err := f.bearer()
	if err == nil {
		_ = f.transport.Logout(bearer)
	}
	if err := f.store.DeleteSession(); err != nil {
		return errs.Wrap(errs.KindIO, "logout", err)
	}
	return nil
}

// bearer returns the Authorization header value for the current session,
// reading the persisted SessionToken from the store.
func (f *Flow) bearer() (string, error) {
	tokenB64, _, err := f.store.ReadSession()
	if err != nil {
		return "", err
	}
	return tokenB64, nil
}

func pkceChallenge(verifier []byte) string {
	sum := sha256.Sum256(verifier)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
