// Package store is the secure, permission-restricted local store for the
// client's long-lived secrets: export key, session key, session token, and
// pinned server static public key. Grounded on original_source's
// util/file.rs (create_default_directory/write_to_secure_file/read_file),
// rewritten to the Go idiom of atomic write-then-rename plus an explicit
// chmod, and logged with zerolog the way MKhiriev/go-pass-keeper logs its
// filesystem layer.
package store

import (
	"encoding/base64"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

const (
	// dirName is the directory created under the user's home directory.
	dirName = ".keypost-cli"

	exportKeyFile  = "export_key.private"
	sessionKeyFile = "session_key.private"
	sessionIDFile  = "session_id.public"
	serverKeyFile  = "server.public"

	// sessionTokenPrefixLen is the fixed length of the SessionToken
	// occupying the front of session_id.public; everything after it is
	// the UTF-8 email.
	sessionTokenPrefixLen = 20

	dirPerm  = 0o700
	filePerm = 0o600
)

// ErrNotExist is returned by Read when the requested file does not exist.
// Distinguishing this from other I/O errors matters for the TOFU logic in
// the account flow: a missing server.public is not an error, it is the
// first-contact case.
var ErrNotExist = errors.New("store: file does not exist")

// IsNotExist reports whether err is (or wraps) ErrNotExist.
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}

// Store is the secure file store, rooted at a directory (normally
// $HOME/.keypost-cli). Tests construct one over a temp directory instead
// of relying on the real home directory — the data-dir root is an
// explicit dependency, never a singleton (§9).
type Store struct {
	dir string
	log zerolog.Logger
}

// DefaultDir returns $HOME/.keypost-cli.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, dirName), nil
}

// New creates a Store rooted at dir, without touching the filesystem yet.
func New(dir string, log zerolog.Logger) *Store {
	return &Store{dir: dir, log: log.With().Str("component", "store").Logger()}
}

// Dir returns the root directory this store operates on.
func (s *Store) Dir() string {
	return s.dir
}

// EnsureDataDir creates the store's root directory if it does not already
// exist, restricted to owner access. The directory, not just each file
// within it, is expected to be owner-only.
func (s *Store) EnsureDataDir() error {
	if _, err := os.Stat(s.dir); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		s.log.Debug().Str("dir", s.dir).Msg("data directory missing, creating it")
		if err := os.Mkdir(s.dir, dirPerm); err != nil {
			return err
		}
	}
	return os.Chmod(s.dir, dirPerm)
}

// WriteSecure atomically writes bytes under name inside the store's
// directory, base64-encoding first if requested, then restricts the
// file's permissions to owner read/write. A reader observing a transient
// world-readable temp file during the write is acceptable: the directory
// itself is owner-only, which is the boundary the threat model relies on.
func (s *Store) WriteSecure(name string, data []byte, base64Encode bool) error {
	if err := s.EnsureDataDir(); err != nil {
		return err
	}
	payload := data
	if base64Encode {
		payload = []byte(base64.StdEncoding.EncodeToString(data))
	}

	target := filepath.Join(s.dir, name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, payload, filePerm); err != nil {
		return err
	}
	if err := os.Chmod(tmp, filePerm); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Read reads name from the store's directory, optionally base64-decoding
// it. A missing file yields ErrNotExist.
func (s *Store) Read(name string, base64Decode bool) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, err
	}
	if !base64Decode {
		return data, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

// WriteExportKey persists the account export key.
func (s *Store) WriteExportKey(key []byte) error {
	return s.WriteSecure(exportKeyFile, key, true)
}

// ReadExportKey reads back the account export key.
func (s *Store) ReadExportKey() ([]byte, error) {
	return s.Read(exportKeyFile, true)
}

// WriteSessionKey persists the session key.
func (s *Store) WriteSessionKey(key []byte) error {
	return s.WriteSecure(sessionKeyFile, key, true)
}

// ReadSessionKey reads back the session key.
func (s *Store) ReadSessionKey() ([]byte, error) {
	return s.Read(sessionKeyFile, true)
}

// WriteServerPublicKey pins the server's static public key.
func (s *Store) WriteServerPublicKey(key []byte) error {
	return s.WriteSecure(serverKeyFile, key, true)
}

// ReadServerPublicKey reads back the pinned server public key.
func (s *Store) ReadServerPublicKey() ([]byte, error) {
	return s.Read(serverKeyFile, true)
}

// WriteSession concatenates the session token with the UTF-8 email and
// stores it as session_id.public.
func (s *Store) WriteSession(token []byte, email string) error {
	combined := append(append([]byte{}, token...), []byte(email)...)
	return s.WriteSecure(sessionIDFile, combined, true)
}

// ReadSession splits session_id.public at the fixed token prefix length
// and returns the base64 of the token and the email.
func (s *Store) ReadSession() (tokenBase64 string, email string, err error) {
	raw, err := s.Read(sessionIDFile, false)
	if err != nil {
		return "", "", err
	}
	decoded, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		return "", "", err
	}
	if len(decoded) < sessionTokenPrefixLen {
		return "", "", errors.New("store: session file shorter than token prefix")
	}
	token := decoded[:sessionTokenPrefixLen]
	email = string(decoded[sessionTokenPrefixLen:])
	return base64.StdEncoding.EncodeToString(token), email, nil
}

// DeleteSession removes the local session file. A missing file is not an
// error: logging out twice, or logging out without ever having logged in,
// is a no-op.
func (s *Store) DeleteSession() error {
	err := os.Remove(filepath.Join(s.dir, sessionIDFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
