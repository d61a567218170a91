package transport

import (
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/keypost-cli/keypost/internal/errs"
)

// FailedLoginSentinel is the literal string the server returns as the `o`
// field of /login/finish when the aPAKE engine rejected the login, as
// opposed to returning a base64 challenge on success. Open Question (b) in
// spec §9: the account flow decodes any other value as a base64 challenge
// and reports a decode failure as a protocol error; a literal that happens
// to be valid base64 is not told apart from a challenge.
const FailedLoginSentinel = "Failed"

// LoginVerifySuccessSentinel is the literal string the server returns from
// /login/verify on success.
const LoginVerifySuccessSentinel = "Success"

// Client is the typed JSON/HTTP client for the wire protocol in §6.1. It
// injects the Content-Type header on every request and the Authorization
// header (the session token) on locker endpoints, and classifies every
// response into the §7 error taxonomy.
type Client struct {
	http *resty.Client
	log  zerolog.Logger
}

// New creates a Client pointed at baseURL (e.g. http://localhost:8000).
func New(baseURL string, log zerolog.Logger) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json")
	return &Client{http: http, log: log.With().Str("component", "transport").Logger()}
}

func (c *Client) post(path string, body, out interface{}, bearer string) error {
	req := c.http.R().SetBody(body)
	if bearer != "" {
		req.SetHeader("Authorization", bearer)
	}
	resp, err := req.Post(path)
	if err != nil {
		return errs.Wrap(errs.KindTransport, path, err)
	}
	switch {
	case resp.StatusCode() == 401:
		return errs.New(errs.KindUnauthorized, path, "")
	case resp.IsSuccess():
		if out == nil {
			return nil
		}
		if err := decode(resp.Body(), out); err != nil {
			return errs.Wrap(errs.KindParse, path, err)
		}
		return nil
	default:
		return errs.New(errs.KindUnknownServer, path, string(resp.Body()))
	}
}

// RegisterStart posts to /register/start.
func (c *Client) RegisterStart(req RegisterStartRequest) (*IDResponse, error) {
	var out IDResponse
	if err := c.post("/register/start", req, &out, ""); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterFinish posts to /register/finish.
func (c *Client) RegisterFinish(req RegisterFinishRequest) (*IDResponse, error) {
	var out IDResponse
	if err := c.post("/register/finish", req, &out, ""); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoginStart posts to /login/start.
func (c *Client) LoginStart(req LoginStartRequest) (*IDResponse, error) {
	var out IDResponse
	if err := c.post("/login/start", req, &out, ""); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoginFinish posts to /login/finish.
func (c *Client) LoginFinish(req LoginFinishRequest) (*IDResponse, error) {
	var out IDResponse
	if err := c.post("/login/finish", req, &out, ""); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoginVerify posts to /login/verify.
func (c *Client) LoginVerify(req LoginVerifyRequest) (*IDResponse, error) {
	var out IDResponse
	if err := c.post("/login/verify", req, &out, ""); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout posts to /logout with the session token. Failures are returned as
// taxonomy errors like any other call; the account flow treats logout as
// best-effort, ignores them, and always clears local state.
func (c *Client) Logout(bearer string) error {
	return c.post("/logout", struct{}{}, nil, bearer)
}

// RegisterLockerStart posts to /locker/register/start.
func (c *Client) RegisterLockerStart(req LockerStartRequest, bearer string) (*IDResponse, error) {
	var out IDResponse
	if err := c.post("/locker/register/start", req, &out, bearer); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterLockerFinish posts to /locker/register/finish.
func (c *Client) RegisterLockerFinish(req LockerRegisterFinishRequest, bearer string) (*LockerFinishResponse, error) {
	var out LockerFinishResponse
	if err := c.post("/locker/register/finish", req, &out, bearer); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenLockerStart posts to /locker/open/start.
func (c *Client) OpenLockerStart(req LockerStartRequest, bearer string) (*LockerStartResponse, error) {
	var out LockerStartResponse
	if err := c.post("/locker/open/start", req, &out, bearer); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenLockerFinish posts to /locker/open/finish.
func (c *Client) OpenLockerFinish(req LockerContinueRequest, bearer string) (*LockerOpenFinishResponse, error) {
	var out LockerOpenFinishResponse
	if err := c.post("/locker/open/finish", req, &out, bearer); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteLockerStart posts to /locker/delete/start.
func (c *Client) DeleteLockerStart(req LockerStartRequest, bearer string) (*LockerStartResponse, error) {
	var out LockerStartResponse
	if err := c.post("/locker/delete/start", req, &out, bearer); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteLockerFinish posts to /locker/delete/finish.
func (c *Client) DeleteLockerFinish(req LockerContinueRequest, bearer string) (*LockerFinishResponse, error) {
	var out LockerFinishResponse
	if err := c.post("/locker/delete/finish", req, &out, bearer); err != nil {
		return nil, err
	}
	return &out, nil
}
