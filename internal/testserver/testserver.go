// Package testserver is a minimal in-memory correspondent that speaks the
// wire protocol in spec §6.1, implementing the server side of the aPAKE
// exchange via internal/apake.Server. It exists purely to exercise
// internal/account and internal/locker end to end in tests — the real
// server is explicitly out of scope (§1) and modeled here only as much as
// is needed to drive the client through every round trip.
package testserver

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/keypost-cli/keypost/internal/aead"
	"github.com/keypost-cli/keypost/internal/apake"
)

type pendingRegistration struct {
	challenge string
}

type pendingLogin struct {
	accountKey string
	state      *apake.ServerLoginState
}

type pendingChallenge struct {
	email      string
	sessionKey []byte
	answer     []byte
}

type session struct {
	loginID    uint32
	email      string
	sessionKey []byte
	token      []byte
}

// Server is the HTTP handler. Construct with New and mount directly on an
// httptest.Server.
type Server struct {
	mu sync.Mutex

	apake *apake.Server
	seq   uint32

	pendingRegistrations map[uint32]pendingRegistration
	pendingAccountLogins map[uint32]pendingLogin
	pendingLockerLogins  map[uint32]pendingLogin
	pendingChallenges    map[uint32]pendingChallenge
	lockerCiphertexts    map[string][]byte
	sessions             []*session

	mux *http.ServeMux
}

// New constructs a fresh Server with its own aPAKE static identity.
func New() *Server {
	s := &Server{
		apake:                apake.NewServer(rand.Reader),
		pendingRegistrations: make(map[uint32]pendingRegistration),
		pendingAccountLogins: make(map[uint32]pendingLogin),
		pendingLockerLogins:  make(map[uint32]pendingLogin),
		pendingChallenges:    make(map[uint32]pendingChallenge),
		lockerCiphertexts:    make(map[string][]byte),
	}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/register/start", s.handleRegisterStart)
	s.mux.HandleFunc("/register/finish", s.handleRegisterFinish)
	s.mux.HandleFunc("/login/start", s.handleLoginStart)
	s.mux.HandleFunc("/login/finish", s.handleLoginFinish)
	s.mux.HandleFunc("/login/verify", s.handleLoginVerify)
	s.mux.HandleFunc("/logout", s.handleLogout)
	s.mux.HandleFunc("/locker/register/start", s.auth(s.handleLockerRegisterStart))
	s.mux.HandleFunc("/locker/register/finish", s.auth(s.handleLockerRegisterFinish))
	s.mux.HandleFunc("/locker/open/start", s.auth(s.handleLockerOpenStart))
	s.mux.HandleFunc("/locker/open/finish", s.auth(s.handleLockerOpenFinish))
	s.mux.HandleFunc("/locker/delete/start", s.auth(s.handleLockerDeleteStart))
	s.mux.HandleFunc("/locker/delete/finish", s.auth(s.handleLockerDeleteFinish))
	return s
}

// ExpireAllSessions drops every authenticated session, simulating
// server-side session expiry for scenario S6.
func (s *Server) ExpireAllSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) nextID() uint32 {
	return atomic.AddUint32(&s.seq, 1)
}

func lockerAccountKey(email, name string) string {
	return email + "\x00locker\x00" + name
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func b64decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func b64encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// auth wraps a handler with bearer-token authentication against the
// server's active session set, returning 401 when no session matches.
func (s *Server) auth(next func(email string, w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bearer := r.Header.Get("Authorization")
		token, err := b64decode(bearer)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		email, ok := s.authenticate(token)
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(email, w, r)
	}
}

// authenticate decrypts the bearer token against each active session's
// session key (the server "retains" the symmetric key per §9's design
// note) until one succeeds and its plaintext matches the session's id.
func (s *Server) authenticate(token []byte) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		plaintext, err := aead.OpenWithID(sess.loginID, sess.sessionKey, token)
		if err != nil {
			continue
		}
		var want [4]byte
		binary.BigEndian.PutUint32(want[:], sess.loginID)
		if string(plaintext) == string(want[:]) {
			return sess.email, true
		}
	}
	return "", false
}

func pkceChallenge(verifier []byte) string {
	sum := sha256.Sum256(verifier)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func (s *Server) handleRegisterStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"e"`
		Input     string `json:"i"`
		Challenge string `json:"c"`
	}
	if err := readJSON(r, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	input, err := b64decode(req.Input)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	resp, err := s.apake.RegisterStart(rand.Reader, req.Email, input)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	id := s.nextID()
	s.mu.Lock()
	s.pendingRegistrations[id] = pendingRegistration{challenge: req.Challenge}
	s.mu.Unlock()
	writeJSON(w, map[string]interface{}{"id": id, "o": b64encode(resp)})
}

func (s *Server) handleRegisterFinish(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       uint32 `json:"id"`
		Email    string `json:"e"`
		Input    string `json:"i"`
		Verifier string `json:"v"`
	}
	if err := readJSON(r, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	pending, ok := s.pendingRegistrations[req.ID]
	delete(s.pendingRegistrations, req.ID)
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	verifier, err := b64decode(req.Verifier)
	if err != nil || pkceChallenge(verifier) != pending.challenge {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	input, err := b64decode(req.Input)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.apake.RegisterFinish(req.Email, input); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"id": req.ID, "o": "Registered"})
}

func (s *Server) handleLoginStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"e"`
		Input string `json:"i"`
	}
	if err := readJSON(r, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	input, err := b64decode(req.Input)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	resp, state, err := s.apake.LoginStart(rand.Reader, req.Email, input)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	id := s.nextID()
	s.mu.Lock()
	s.pendingAccountLogins[id] = pendingLogin{accountKey: req.Email, state: state}
	s.mu.Unlock()
	writeJSON(w, map[string]interface{}{"id": id, "o": b64encode(resp)})
}

func (s *Server) handleLoginFinish(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID    uint32 `json:"id"`
		Email string `json:"e"`
		Input string `json:"i"`
	}
	if err := readJSON(r, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	pending, ok := s.pendingAccountLogins[req.ID]
	delete(s.pendingAccountLogins, req.ID)
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	input, err := b64decode(req.Input)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.apake.LoginFinish(pending.state, input); err != nil {
		writeJSON(w, map[string]interface{}{"id": req.ID, "o": "Failed"})
		return
	}
	challenge := make([]byte, 32)
	_, _ = rand.Read(challenge)
	s.mu.Lock()
	s.pendingChallenges[req.ID] = pendingChallenge{email: req.Email, sessionKey: pending.state.SessionKey(), answer: challenge}
	s.mu.Unlock()
	writeJSON(w, map[string]interface{}{"id": req.ID, "o": b64encode(challenge)})
}

func (s *Server) handleLoginVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID    uint32 `json:"id"`
		Input string `json:"i"`
	}
	if err := readJSON(r, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	pending, ok := s.pendingChallenges[req.ID]
	delete(s.pendingChallenges, req.ID)
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	expectedCiphertext, err := aead.SealWithID(req.ID, pending.sessionKey, pending.answer)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	sum := sha256.Sum256(expectedCiphertext)
	expectedHash := b64encode(sum[:])
	if req.Input != expectedHash {
		writeJSON(w, map[string]interface{}{"id": req.ID, "o": "Mismatch"})
		return
	}

	var idBytes [4]byte
	binary.BigEndian.PutUint32(idBytes[:], req.ID)
	token, err := aead.SealWithID(req.ID, pending.sessionKey, idBytes[:])
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.mu.Lock()
	s.sessions = append(s.sessions, &session{
		loginID:    req.ID,
		email:      pending.email,
		sessionKey: pending.sessionKey,
		token:      token,
	})
	s.mu.Unlock()
	writeJSON(w, map[string]interface{}{"id": req.ID, "o": "Success"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	bearer := r.Header.Get("Authorization")
	if token, err := b64decode(bearer); err == nil {
		s.mu.Lock()
		for i, sess := range s.sessions {
			if plaintext, err := aead.OpenWithID(sess.loginID, sess.sessionKey, token); err == nil {
				var want [4]byte
				binary.BigEndian.PutUint32(want[:], sess.loginID)
				if string(plaintext) == string(want[:]) {
					s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
					break
				}
			}
		}
		s.mu.Unlock()
	}
	writeJSON(w, map[string]interface{}{"o": "LoggedOut"})
}

func (s *Server) handleLockerRegisterStart(email string, w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"id"`
		Email string `json:"e"`
		Input string `json:"i"`
	}
	if err := readJSON(r, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	input, err := b64decode(req.Input)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	resp, err := s.apake.RegisterStart(rand.Reader, lockerAccountKey(email, req.Name), input)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"id": s.nextID(), "o": b64encode(resp)})
}

func (s *Server) handleLockerRegisterFinish(email string, w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string `json:"id"`
		Email      string `json:"e"`
		Input      string `json:"i"`
		Ciphertext string `json:"c"`
	}
	if err := readJSON(r, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	input, err := b64decode(req.Input)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ciphertext, err := b64decode(req.Ciphertext)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	key := lockerAccountKey(email, req.Name)
	if err := s.apake.RegisterFinish(key, input); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.mu.Lock()
	s.lockerCiphertexts[key] = ciphertext
	s.mu.Unlock()
	writeJSON(w, map[string]interface{}{"id": s.nextID(), "o": "Stored"})
}

func (s *Server) handleLockerOpenStart(email string, w http.ResponseWriter, r *http.Request) {
	s.lockerLoginStart(email, w, r, s.pendingLockerLogins)
}

func (s *Server) handleLockerDeleteStart(email string, w http.ResponseWriter, r *http.Request) {
	s.lockerLoginStart(email, w, r, s.pendingLockerLogins)
}

func (s *Server) lockerLoginStart(email string, w http.ResponseWriter, r *http.Request, pending map[uint32]pendingLogin) {
	var req struct {
		Name  string `json:"id"`
		Email string `json:"e"`
		Input string `json:"i"`
	}
	if err := readJSON(r, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	input, err := b64decode(req.Input)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	key := lockerAccountKey(email, req.Name)
	resp, state, err := s.apake.LoginStart(rand.Reader, key, input)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id := s.nextID()
	s.mu.Lock()
	pending[id] = pendingLogin{accountKey: key, state: state}
	s.mu.Unlock()
	writeJSON(w, map[string]interface{}{"id": id, "o": b64encode(resp), "n": id})
}

func (s *Server) handleLockerOpenFinish(email string, w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"id"`
		Email string `json:"e"`
		Input string `json:"i"`
		Nonce uint32 `json:"n"`
	}
	if err := readJSON(r, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	pending, ok := s.pendingLockerLogins[req.Nonce]
	delete(s.pendingLockerLogins, req.Nonce)
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	input, err := b64decode(req.Input)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.apake.LoginFinish(pending.state, input); err != nil {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	s.mu.Lock()
	stored, ok := s.lockerCiphertexts[pending.accountKey]
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	outer, err := aead.SealEnvelope(pending.state.SessionKey(), stored)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"id": s.nextID(), "o": b64encode(outer)})
}

func (s *Server) handleLockerDeleteFinish(email string, w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"id"`
		Email string `json:"e"`
		Input string `json:"i"`
		Nonce uint32 `json:"n"`
	}
	if err := readJSON(r, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	pending, ok := s.pendingLockerLogins[req.Nonce]
	delete(s.pendingLockerLogins, req.Nonce)
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	input, err := b64decode(req.Input)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.apake.LoginFinish(pending.state, input); err != nil {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	s.mu.Lock()
	delete(s.lockerCiphertexts, pending.accountKey)
	s.mu.Unlock()
	writeJSON(w, map[string]interface{}{"id": s.nextID(), "o": "Deleted", "n": req.Nonce})
}
