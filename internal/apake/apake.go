package apake

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"

	ristretto "github.com/gtank/ristretto255"
)

// ErrProtocol is the single error kind the engine surfaces for every
// cryptographic rejection: deserialization failures, envelope tag
// mismatches, and server key-confirmation mismatches are all reported this
// way. Callers classify the failure by context (login vs. registration vs.
// locker open), never by inspecting which internal step failed — leaking
// step identity would hand an attacker a decryption oracle.
var ErrProtocol = errors.New("apake: protocol rejected")

// envelope is an AuthEnc'd ciphertext: an arbitrary-length payload plus its
// MAC tag. OPAQUE needs a stronger guarantee than a typical AEAD mode
// provides (key-committing), so the envelope is authenticated and decrypted
// as a unit by the caller rather than via crypto/cipher's AEAD interface.
type envelope struct {
	Tag        []byte `json:"tag"`
	Ciphertext []byte `json:"ct"`
}

// envelopeSecret is the plaintext wrapped inside an envelope: the client's
// static keypair and the server's static public key, bound together so a
// login can reconstruct both sides of the Triple-DH handshake.
type envelopeSecret struct {
	ClientSecretKey []byte `json:"pu"`
	ClientPublicKey []byte `json:"Pu"`
	ServerPublicKey []byte `json:"Ps"`
}

// registerRequest is message 1 of registration (client -> server): the
// blinded OPRF input.
type registerRequest struct {
	Alpha []byte `json:"alpha"`
}

// registerResponse is message 2 of registration (server -> client): the
// OPRF evaluation and the server's static public key.
type registerResponse struct {
	Beta            []byte `json:"beta"`
	ServerPublicKey []byte `json:"Ps"`
}

// registerUpload is message 3 of registration (client -> server): the
// client's static public key and its envelope, to be stored as the
// password file.
type registerUpload struct {
	ClientPublicKey []byte   `json:"Pu"`
	Envelope        envelope `json:"envelope"`
}

// credentialRequest is message 1 of login (client -> server).
type credentialRequest struct {
	Alpha                    []byte `json:"alpha"`
	ClientEphemeralPublicKey []byte `json:"Xu"`
}

// credentialResponse is message 2 of login (server -> client): the OPRF
// evaluation, the server's ephemeral and static public keys, the stored
// envelope, and a key-confirmation MAC the client must match.
type credentialResponse struct {
	Beta                     []byte   `json:"beta"`
	ServerEphemeralPublicKey []byte   `json:"Xs"`
	ServerPublicKey          []byte   `json:"Ps"`
	Envelope                 envelope `json:"envelope"`
	ServerMAC                []byte   `json:"fk1"`
}

// credentialFinalization is message 3 of login (client -> server): a
// key-confirmation MAC proving the client derived the same shared secret.
type credentialFinalization struct {
	ClientMAC []byte `json:"fk2"`
}

// ClientRegisterState is carried from RegisterStart to RegisterFinish. It
// is opaque to callers; the only valid use is to pass it, unmodified, to
// the matching Finish call for the same exchange.
type ClientRegisterState struct {
	blind *ristretto.Scalar
}

// ClientLoginState is carried from LoginStart to LoginFinish.
type ClientLoginState struct {
	blind            *ristretto.Scalar
	ephemeralSecret  *ristretto.Scalar
	ephemeralPublic  *ristretto.Element
}

func hashCredential(credential []byte) [64]byte {
	return sha3Sum512(credential)
}

// RegisterStart begins a registration exchange for the given credential
// bytes (a user password for the account flow, or an export key for the
// locker flow — the engine has no notion of which). It returns the state
// to carry to RegisterFinish and the message to send to the server.
func RegisterStart(rng io.Reader, credential []byte) (*ClientRegisterState, []byte, error) {
	alpha, r := oprfBlind(rng, hashCredential(credential))
	msg, err := json.Marshal(registerRequest{Alpha: alpha.Encode(nil)})
	if err != nil {
		return nil, nil, err
	}
	return &ClientRegisterState{blind: r}, msg, nil
}

// RegisterFinish completes a registration exchange given the server's
// response to RegisterStart. It returns the message to upload to the
// server, the derived export key, and the server's static public key (to
// be pinned by the caller).
func RegisterFinish(rng io.Reader, credential []byte, state *ClientRegisterState, serverResponse []byte) (message, exportKey, serverStaticPublicKey []byte, err error) {
	var resp registerResponse
	if err := json.Unmarshal(serverResponse, &resp); err != nil {
		return nil, nil, nil, ErrProtocol
	}
	beta := new(ristretto.Element)
	if err := beta.Decode(resp.Beta); err != nil {
		return nil, nil, nil, ErrProtocol
	}
	serverPk := new(ristretto.Element)
	if err := serverPk.Decode(resp.ServerPublicKey); err != nil {
		return nil, nil, nil, ErrProtocol
	}

	rw := oprfFinalize(beta, state.blind, hashCredential(credential))
	authKey, cipherKey, exportKeyOut := deriveEnvelopeKeys(rw)
	clear(rw)

	pu := randomScalar(rng)
	Pu := new(ristretto.Element).ScalarBaseMult(pu)

	secret, err := json.Marshal(envelopeSecret{
		ClientSecretKey: pu.Encode(nil),
		ClientPublicKey: Pu.Encode(nil),
		ServerPublicKey: serverPk.Encode(nil),
	})
	if err != nil {
		return nil, nil, nil, err
	}
	env := sealEnvelope(authKey, cipherKey, secret)

	upload, err := json.Marshal(registerUpload{
		ClientPublicKey: Pu.Encode(nil),
		Envelope:        env,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return upload, exportKeyOut, serverPk.Encode(nil), nil
}

// LoginStart begins a login exchange for the given credential bytes.
func LoginStart(rng io.Reader, credential []byte) (*ClientLoginState, []byte, error) {
	alpha, r := oprfBlind(rng, hashCredential(credential))
	xu := randomScalar(rng)
	Xu := new(ristretto.Element).ScalarBaseMult(xu)

	msg, err := json.Marshal(credentialRequest{
		Alpha:                    alpha.Encode(nil),
		ClientEphemeralPublicKey: Xu.Encode(nil),
	})
	if err != nil {
		return nil, nil, err
	}
	return &ClientLoginState{blind: r, ephemeralSecret: xu, ephemeralPublic: Xu}, msg, nil
}

// LoginFinish completes a login exchange given the server's response to
// LoginStart. On success it returns the finalization message to send back
// to the server, the agreed session key, the derived export key, and the
// server's static public key. A wrong credential, a corrupted envelope, or
// an impostor server all surface as ErrProtocol — callers distinguish the
// resulting user message by context, not by inspecting the error.
func LoginFinish(credential []byte, state *ClientLoginState, serverResponse []byte) (message, sessionKey, exportKey, serverStaticPublicKey []byte, err error) {
	var resp credentialResponse
	if err := json.Unmarshal(serverResponse, &resp); err != nil {
		return nil, nil, nil, nil, ErrProtocol
	}
	beta := new(ristretto.Element)
	if err := beta.Decode(resp.Beta); err != nil {
		return nil, nil, nil, nil, ErrProtocol
	}
	Xs := new(ristretto.Element)
	if err := Xs.Decode(resp.ServerEphemeralPublicKey); err != nil {
		return nil, nil, nil, nil, ErrProtocol
	}
	Ps := new(ristretto.Element)
	if err := Ps.Decode(resp.ServerPublicKey); err != nil {
		return nil, nil, nil, nil, ErrProtocol
	}

	rw := oprfFinalize(beta, state.blind, hashCredential(credential))
	authKey, cipherKey, exportKeyOut := deriveEnvelopeKeys(rw)
	clear(rw)

	secret, err2 := openEnvelope(authKey, cipherKey, resp.Envelope)
	if err2 != nil {
		return nil, nil, nil, nil, ErrProtocol
	}
	var es envelopeSecret
	if err := json.Unmarshal(secret, &es); err != nil {
		return nil, nil, nil, nil, ErrProtocol
	}
	pu := new(ristretto.Scalar)
	if err := pu.Decode(es.ClientSecretKey); err != nil {
		return nil, nil, nil, nil, ErrProtocol
	}
	envelopePs := new(ristretto.Element)
	if err := envelopePs.Decode(es.ServerPublicKey); err != nil {
		return nil, nil, nil, nil, ErrProtocol
	}
	if subtle.ConstantTimeCompare(envelopePs.Encode(nil), Ps.Encode(nil)) != 1 {
		return nil, nil, nil, nil, ErrProtocol
	}

	K := keyExchangeClient(pu, state.ephemeralSecret, Ps, Xs)
	sk := prf(K, []byte{0})
	fk1 := prf(K, []byte{1})
	if subtle.ConstantTimeCompare(fk1, resp.ServerMAC) != 1 {
		return nil, nil, nil, nil, ErrProtocol
	}
	fk2 := prf(K, []byte{2})

	msg, err3 := json.Marshal(credentialFinalization{ClientMAC: fk2})
	if err3 != nil {
		return nil, nil, nil, nil, err3
	}
	return msg, sk, exportKeyOut, Ps.Encode(nil), nil
}

// RegisterLockerStart, RegisterLockerFinish, OpenLockerStart, and
// OpenLockerFinish are the locker-keyed entry points called out in the
// wire surface. They are deliberately identical to the account entry
// points above — the only difference is that callers pass an export key
// instead of a password as the credential. Keeping the PAKE client generic
// over credential bytes, instead of special-casing "password", is what
// lets the locker flow reuse this engine at all.
func RegisterLockerStart(rng io.Reader, key []byte) (*ClientRegisterState, []byte, error) {
	return RegisterStart(rng, key)
}

func RegisterLockerFinish(rng io.Reader, key []byte, state *ClientRegisterState, serverResponse []byte) (message, lockerExportKey []byte, err error) {
	msg, exportKey, _, err := RegisterFinish(rng, key, state, serverResponse)
	return msg, exportKey, err
}

func OpenLockerStart(rng io.Reader, key []byte) (*ClientLoginState, []byte, error) {
	return LoginStart(rng, key)
}

func OpenLockerFinish(key []byte, state *ClientLoginState, serverResponse []byte) (message, sessionKey, lockerExportKey []byte, err error) {
	msg, sk, exportKey, _, err := LoginFinish(key, state, serverResponse)
	return msg, sk, exportKey, err
}
