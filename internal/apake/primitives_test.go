package apake

import (
	"crypto/rand"
	"testing"

	ristretto "github.com/gtank/ristretto255"
)

// Mirrors the teacher's constant-time smoke test: scalar multiplication
// over Ristretto255 should not branch on the scalar's value. This is not a
// rigorous timing proof, just a canary the teacher's own test suite relied
// on.
func TestScalarMultDoesNotPanicOnEdgeScalars(t *testing.T) {
	zero := new(ristretto.Scalar).Zero()
	one := randomScalar(rand.Reader)
	for _, s := range []*ristretto.Scalar{zero, one} {
		_ = new(ristretto.Element).ScalarBaseMult(s)
	}
}

func TestDeriveEnvelopeKeysAreDistinctAndStable(t *testing.T) {
	rw := []byte("recovered-oprf-output-material-32b")
	authKey1, cipherKey1, exportKey1 := deriveEnvelopeKeys(rw)
	authKey2, cipherKey2, exportKey2 := deriveEnvelopeKeys(rw)

	if string(authKey1) != string(authKey2) || string(cipherKey1) != string(cipherKey2) || string(exportKey1) != string(exportKey2) {
		t.Fatal("deriveEnvelopeKeys must be deterministic given the same input")
	}
	if string(authKey1) == string(cipherKey1) {
		t.Fatal("auth key and cipher key must differ")
	}
	if len(exportKey1) != exportKeySize {
		t.Fatalf("export key length = %d, want %d", len(exportKey1), exportKeySize)
	}
}

func TestKeyExchangeClientAndServerAgree(t *testing.T) {
	pu := randomScalar(rand.Reader)
	Pu := new(ristretto.Element).ScalarBaseMult(pu)
	xu := randomScalar(rand.Reader)
	Xu := new(ristretto.Element).ScalarBaseMult(xu)
	ps := randomScalar(rand.Reader)
	Ps := new(ristretto.Element).ScalarBaseMult(ps)
	xs := randomScalar(rand.Reader)
	Xs := new(ristretto.Element).ScalarBaseMult(xs)

	client := keyExchangeClient(pu, xu, Ps, Xs)
	server := keyExchangeServer(ps, xs, Pu, Xu)
	if client != server {
		t.Fatal("client and server Triple-DH term order must yield the same shared secret")
	}
}

func TestOprfRoundTripRecoversSameOutput(t *testing.T) {
	k := randomScalar(rand.Reader)
	x := sha3Sum512([]byte("a password"))

	alpha, r := oprfBlind(rand.Reader, x)
	beta := oprfEvaluate(alpha, k)
	out := oprfFinalize(beta, r, x)

	// A second blinding of the same input, evaluated under the same key,
	// must finalize to the same output: the OPRF output depends only on
	// (x, k), never on the blinding scalar.
	alpha2, r2 := oprfBlind(rand.Reader, x)
	beta2 := oprfEvaluate(alpha2, k)
	out2 := oprfFinalize(beta2, r2, x)

	if string(out) != string(out2) {
		t.Fatal("OPRF output is not independent of the blinding scalar")
	}
}
