package apake

import (
	"encoding/json"
	"errors"
	"io"
	"sync"

	ristretto "github.com/gtank/ristretto255"
)

// Server is the server-side role of the engine. It is not part of the
// spec's client-facing surface (the server is an external collaborator,
// §1), but the wire protocol in §6 only makes sense paired with a
// correspondent that speaks it — this type is that correspondent,
// exercised by internal/testserver to drive the account and locker flows
// end to end in tests.
//
// One Server holds one static identity keypair for its whole lifetime;
// every registration under it shares that public key, which is what makes
// client-side key pinning (§4.5) meaningful — a login against a different
// Server (or an impostor) yields a different static public key and is
// rejected.
type Server struct {
	mu sync.Mutex

	staticSecretKey *ristretto.Scalar
	staticPublicKey *ristretto.Element

	oprfKeys map[string]*ristretto.Scalar // accountID -> pending registration OPRF key
	records  map[string]credentialRecord  // accountID -> stored password file
}

type credentialRecord struct {
	oprfKey         *ristretto.Scalar
	clientPublicKey *ristretto.Element
	envelope        envelope
}

// ServerLoginState is the server-side continuation of a login exchange,
// carried from LoginStart to LoginFinish. The caller (typically an HTTP
// handler) is responsible for keying it by the server-issued login id and
// discarding it once the exchange concludes.
type ServerLoginState struct {
	sessionKey       []byte
	expectedClientMAC []byte
}

// SessionKey returns the session key this login produced. Valid only after
// LoginStart has succeeded for this state.
func (s *ServerLoginState) SessionKey() []byte {
	return s.sessionKey
}

// NewServer creates a Server with a freshly generated static identity
// keypair.
func NewServer(rng io.Reader) *Server {
	sk := randomScalar(rng)
	pk := new(ristretto.Element).ScalarBaseMult(sk)
	return &Server{
		staticSecretKey: sk,
		staticPublicKey: pk,
		oprfKeys:        make(map[string]*ristretto.Scalar),
		records:         make(map[string]credentialRecord),
	}
}

// StaticPublicKey returns the server's long-term identity public key.
func (s *Server) StaticPublicKey() []byte {
	return s.staticPublicKey.Encode(nil)
}

// RegisterStart processes a client's registration request and returns the
// response to send back. It must be followed by RegisterFinish with the
// client's upload for the same accountID.
func (s *Server) RegisterStart(rng io.Reader, accountID string, request []byte) ([]byte, error) {
	var req registerRequest
	if err := json.Unmarshal(request, &req); err != nil {
		return nil, ErrProtocol
	}
	alpha := new(ristretto.Element)
	if err := alpha.Decode(req.Alpha); err != nil {
		return nil, ErrProtocol
	}

	k := randomScalar(rng)
	beta := oprfEvaluate(alpha, k)

	s.mu.Lock()
	s.oprfKeys[accountID] = k
	s.mu.Unlock()

	resp, err := json.Marshal(registerResponse{
		Beta:            beta.Encode(nil),
		ServerPublicKey: s.staticPublicKey.Encode(nil),
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// RegisterFinish stores the client's registration upload as that
// account's password file, completing registration.
func (s *Server) RegisterFinish(accountID string, upload []byte) error {
	var up registerUpload
	if err := json.Unmarshal(upload, &up); err != nil {
		return ErrProtocol
	}
	Pu := new(ristretto.Element)
	if err := Pu.Decode(up.ClientPublicKey); err != nil {
		return ErrProtocol
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.oprfKeys[accountID]
	if !ok {
		return errors.New("apake: no pending registration for account")
	}
	delete(s.oprfKeys, accountID)
	s.records[accountID] = credentialRecord{
		oprfKey:         k,
		clientPublicKey: Pu,
		envelope:        up.Envelope,
	}
	return nil
}

// LoginStart processes a client's credential request and returns the
// response to send back, along with the state to carry to LoginFinish.
func (s *Server) LoginStart(rng io.Reader, accountID string, request []byte) ([]byte, *ServerLoginState, error) {
	var req credentialRequest
	if err := json.Unmarshal(request, &req); err != nil {
		return nil, nil, ErrProtocol
	}
	alpha := new(ristretto.Element)
	if err := alpha.Decode(req.Alpha); err != nil {
		return nil, nil, ErrProtocol
	}
	Xu := new(ristretto.Element)
	if err := Xu.Decode(req.ClientEphemeralPublicKey); err != nil {
		return nil, nil, ErrProtocol
	}

	s.mu.Lock()
	record, ok := s.records[accountID]
	s.mu.Unlock()
	if !ok {
		return nil, nil, ErrProtocol
	}

	beta := oprfEvaluate(alpha, record.oprfKey)
	xs := randomScalar(rng)
	Xs := new(ristretto.Element).ScalarBaseMult(xs)

	K := keyExchangeServer(s.staticSecretKey, xs, record.clientPublicKey, Xu)
	sk := prf(K, []byte{0})
	fk1 := prf(K, []byte{1})
	fk2 := prf(K, []byte{2})

	resp, err := json.Marshal(credentialResponse{
		Beta:                     beta.Encode(nil),
		ServerEphemeralPublicKey: Xs.Encode(nil),
		ServerPublicKey:          s.staticPublicKey.Encode(nil),
		Envelope:                 record.envelope,
		ServerMAC:                fk1,
	})
	if err != nil {
		return nil, nil, err
	}
	return resp, &ServerLoginState{sessionKey: sk, expectedClientMAC: fk2}, nil
}

// LoginFinish verifies the client's key-confirmation MAC against the
// finalization message from LoginFinish (client side). A mismatch means
// the client failed to derive the same session key — wrong password, or a
// corrupted/forged finalization — and the caller (the account flow's
// /login/finish handler) should report the literal "Failed" sentinel
// rather than issue a challenge.
func (s *Server) LoginFinish(state *ServerLoginState, clientFinalization []byte) error {
	var fin credentialFinalization
	if err := json.Unmarshal(clientFinalization, &fin); err != nil {
		return ErrProtocol
	}
	ok := len(fin.ClientMAC) == len(state.expectedClientMAC)
	if ok {
		for i := range fin.ClientMAC {
			if fin.ClientMAC[i] != state.expectedClientMAC[i] {
				ok = false
				break
			}
		}
	}
	if !ok {
		return ErrProtocol
	}
	return nil
}
