// Package apake implements an OPAQUE-style asymmetric password-authenticated
// key exchange (aPAKE) over the Ristretto255 group, adapted from the
// avahowell/occlude engine. Every entry point is generic over "credential
// bytes" rather than hard-coded to a user password: the account flow feeds
// it a password, the locker flow feeds it an export key, and the protocol
// steps are byte-for-byte identical either way.
//
// Primitives: H is SHA3 (Keccak), the group is Ristretto255, H' (mapping
// arbitrary strings into the group) is Elligator2, and OPRF outputs are run
// through Argon2id to raise the cost of an offline dictionary attack against
// a compromised password file. All group operations are constant-time.
package apake

import (
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	ristretto "github.com/gtank/ristretto255"
)

const (
	argonTime   = 3
	argonMemory = 1e5

	// exportKeySize matches the >=32 byte invariant in the data model; 64
	// bytes gives headroom for callers that want to split it further.
	exportKeySize = 64
)

// randomScalar returns a uniformly random Ristretto255 scalar (<-R Zq) read
// from rng, the CSPRNG handle threaded through every engine entry point.
func randomScalar(rng io.Reader) *ristretto.Scalar {
	b := make([]byte, 64)
	if _, err := io.ReadFull(rng, b); err != nil {
		panic("apake: could not get entropy")
	}
	return new(ristretto.Scalar).FromUniformBytes(b)
}

// oprfBlind computes H'(x)^r given a fresh blinding scalar r, returning both
// the blinded element to send to the server and the scalar needed to unblind
// the server's response.
func oprfBlind(rng io.Reader, x [64]byte) (*ristretto.Element, *ristretto.Scalar) {
	r := randomScalar(rng)
	hprime := new(ristretto.Element).FromUniformBytes(x[:])
	alpha := new(ristretto.Element).ScalarMult(r, hprime)
	return alpha, r
}

// oprfEvaluate is the server-side OPRF step: beta = alpha^k.
func oprfEvaluate(alpha *ristretto.Element, k *ristretto.Scalar) *ristretto.Element {
	return new(ristretto.Element).ScalarMult(k, alpha)
}

// oprfFinalize recovers H(x, H'(x)^k) from the server's blinded response
// beta = (H'(x)^r)^k, the blinding scalar r, and the original input x, then
// stretches it through Argon2id.
func oprfFinalize(beta *ristretto.Element, r *ristretto.Scalar, x [64]byte) []byte {
	rInv := new(ristretto.Scalar).Invert(r)
	unblinded := new(ristretto.Element).ScalarMult(rInv, beta) // H'(x)^k
	hash := sha3.Sum512(append(append([]byte{}, x[:]...), unblinded.Encode(nil)...))
	return argon2.IDKey(hash[:], nil, argonTime, argonMemory, 4, 32)
}

// prf is a pseudorandom function implemented with keyed Blake2b, used to
// split the Triple-DH shared secret into a session key and transcript MACs.
func prf(k [32]byte, x []byte) []byte {
	b, err := blake2b.New256(k[:])
	if err != nil {
		panic(err)
	}
	if _, err := b.Write(x); err != nil {
		panic(err)
	}
	return b.Sum(nil)
}

// deriveEnvelopeKeys splits a recovered OPRF output rw into the HMAC key
// that authenticates the registration envelope, the AES key that wraps it,
// and the long-term export key handed back to the caller.
func deriveEnvelopeKeys(rw []byte) (authKey, cipherKey, exportKey []byte) {
	h := hkdf.New(sha3.New512, rw, nil, nil)
	authKey = make([]byte, 32)
	cipherKey = make([]byte, 32)
	exportKey = make([]byte, exportKeySize)
	if _, err := io.ReadFull(h, authKey); err != nil {
		panic("apake: could not derive HKDF key material")
	}
	if _, err := io.ReadFull(h, cipherKey); err != nil {
		panic("apake: could not derive HKDF key material")
	}
	if _, err := io.ReadFull(h, exportKey); err != nil {
		panic("apake: could not derive HKDF key material")
	}
	return
}

// keyExchangeClient runs the client side of a Triple-DH handshake: three ECDH
// computations between the static and ephemeral keypairs of both parties,
// concatenated in client term order and hashed down to a 32-byte shared
// secret. keyExchangeServer, called with the server's corresponding keys,
// derives the same output, because each position holds the same value in
// both functions. A single generic helper taking "mine/theirs" cannot serve
// both roles: it would put the two cross terms (client-static/server-ephemeral
// and client-ephemeral/server-static) in opposite positions for each role.
func keyExchangeClient(pu *ristretto.Scalar, xu *ristretto.Scalar, Ps *ristretto.Element, Xs *ristretto.Element) [32]byte {
	puXs := new(ristretto.Element).ScalarMult(pu, Xs)
	xuPs := new(ristretto.Element).ScalarMult(xu, Ps)
	xuXs := new(ristretto.Element).ScalarMult(xu, Xs)
	secret := append(puXs.Encode(nil), xuPs.Encode(nil)...)
	secret = append(secret, xuXs.Encode(nil)...)
	return sha3.Sum256(secret)
}

// keyExchangeServer runs the server side of the same Triple-DH handshake.
func keyExchangeServer(ps *ristretto.Scalar, xs *ristretto.Scalar, Pu *ristretto.Element, Xu *ristretto.Element) [32]byte {
	xsPu := new(ristretto.Element).ScalarMult(xs, Pu)
	psXu := new(ristretto.Element).ScalarMult(ps, Xu)
	xsXu := new(ristretto.Element).ScalarMult(xs, Xu)
	secret := append(xsPu.Encode(nil), psXu.Encode(nil)...)
	secret = append(secret, xsXu.Encode(nil)...)
	return sha3.Sum256(secret)
}

func clear(x []byte) {
	for i := range x {
		x[i] = 0
	}
}
