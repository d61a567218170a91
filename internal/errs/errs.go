// Package errs is the error taxonomy shared by the transport, account, and
// locker layers. It mirrors the closed enum in the original_source's
// models/error.rs (a thiserror CliError) as a small set of sentinel-typed
// Go errors: callers classify with errors.Is/errors.As, never by matching
// on strings, and the taxonomy kind is the only thing ever surfaced to the
// user — the step that produced it is not.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies one of the taxonomy's distinct error categories (§7).
type Kind int

const (
	// KindTransport means the server could not be reached or its body
	// was unreadable. Not security-sensitive; retryable at the user's
	// discretion.
	KindTransport Kind = iota
	// KindParse means the server's response was not parseable as the
	// expected JSON or bytes. Fatal for the current operation.
	KindParse
	// KindUnauthorized means the server returned 401 on an authenticated
	// endpoint. The caller should re-login and retry once.
	KindUnauthorized
	// KindProtocol means the aPAKE engine rejected a step. Never exposed
	// with step-level detail — the flow layer turns this into a
	// context-appropriate message ("incorrect password", "server
	// misbehaved", ...).
	KindProtocol
	// KindKeyPinMismatch means the server's derived static public key
	// differs from the one pinned at first contact: a suspected
	// man-in-the-middle. The login aborts before any further state is
	// persisted.
	KindKeyPinMismatch
	// KindIO means a local secure-store filesystem error occurred. A
	// NotFound on server.public during login is handled by the caller
	// before it ever becomes a KindIO — see store.IsNotExist.
	KindIO
	// KindUnknownServer means a non-2xx, non-401 response. The response
	// body is retained for diagnosis.
	KindUnknownServer
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport error"
	case KindParse:
		return "parse error"
	case KindUnauthorized:
		return "unauthorized"
	case KindProtocol:
		return "protocol error"
	case KindKeyPinMismatch:
		return "key pin mismatch"
	case KindIO:
		return "io error"
	case KindUnknownServer:
		return "unknown server error"
	default:
		return "unknown error kind"
	}
}

// Error is a taxonomy-classified error. Context carries a short,
// operation-level label ("login", "register", "locker open") used to
// phrase the user-facing message; it must never contain step-level
// protocol detail.
type Error struct {
	Kind    Kind
	Context string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Context, e.Detail)
	}
	return fmt.Sprintf("%s (%s)", e.Kind, e.Context)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs a taxonomy error with no wrapped cause.
func New(kind Kind, context, detail string) *Error {
	return &Error{Kind: kind, Context: context, Detail: detail}
}

// Wrap constructs a taxonomy error around an underlying cause, for the
// kinds (transport, parse, IO) that originate outside the protocol itself.
func Wrap(kind Kind, context string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Context: context, Err: err}
}

// Is reports whether err is a taxonomy error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
