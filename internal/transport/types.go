// Package transport is the typed JSON/HTTP client for the wire protocol in
// spec §6.1. Field names are deliberately short (e, i, o, id, n, c, v) to
// match the server's wire format; binary values travel as base64 strings,
// matching the convention original_source's http.rs/models/mod.rs use
// (bincode/serde field names u/e/i/o/id/c/v/n). HTTP transport itself is
// go-resty, the JSON client used by the same-domain MKhiriev/go-pass-keeper
// CLI in the retrieval pack.
package transport

// RegisterStartRequest is POSTed to /register/start.
type RegisterStartRequest struct {
	Email     string `json:"e"`
	Input     string `json:"i"`
	Challenge string `json:"c"`
}

// RegisterFinishRequest is POSTed to /register/finish.
type RegisterFinishRequest struct {
	ID       uint32 `json:"id"`
	Email    string `json:"e"`
	Input    string `json:"i"`
	Verifier string `json:"v"`
}

// LoginStartRequest is POSTed to /login/start.
type LoginStartRequest struct {
	Email string `json:"e"`
	Input string `json:"i"`
}

// LoginFinishRequest is POSTed to /login/finish.
type LoginFinishRequest struct {
	ID    uint32 `json:"id"`
	Email string `json:"e"`
	Input string `json:"i"`
}

// LoginVerifyRequest is POSTed to /login/verify.
type LoginVerifyRequest struct {
	ID    uint32 `json:"id"`
	Input string `json:"i"`
}

// IDResponse is the shape returned by every /register and /login
// endpoint: a server-assigned exchange id and an opaque output string.
type IDResponse struct {
	ID     uint32 `json:"id"`
	Output string `json:"o"`
}

// LockerStartRequest is POSTed to the three locker/.../start endpoints.
// The locker name travels in the id field, matching the wire table in
// spec §6.1.
type LockerStartRequest struct {
	Name  string `json:"id"`
	Email string `json:"e"`
	Input string `json:"i"`
}

// LockerRegisterFinishRequest is POSTed to /locker/register/finish.
type LockerRegisterFinishRequest struct {
	Name       string `json:"id"`
	Email      string `json:"e"`
	Input      string `json:"i"`
	Ciphertext string `json:"c"`
}

// LockerContinueRequest is POSTed to /locker/open/finish and
// /locker/delete/finish, continuing an exchange opened by a Start call.
type LockerContinueRequest struct {
	Name  string `json:"id"`
	Email string `json:"e"`
	Input string `json:"i"`
	Nonce uint32 `json:"n"`
}

// LockerStartResponse is returned by /locker/open/start and
// /locker/delete/start, which additionally carry a nonce the client must
// echo back on the matching finish call.
type LockerStartResponse struct {
	ID     uint32 `json:"id"`
	Output string `json:"o"`
	Nonce  uint32 `json:"n"`
}

// LockerFinishResponse is returned by /locker/register/finish and
// /locker/delete/finish.
type LockerFinishResponse struct {
	ID     uint32 `json:"id"`
	Output string `json:"o"`
}

// LockerOpenFinishResponse is returned by /locker/open/finish: the
// base64-encoded, double-encrypted locker contents.
type LockerOpenFinishResponse struct {
	ID     uint32 `json:"id"`
	Output string `json:"o"`
}
