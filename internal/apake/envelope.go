package apake

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"errors"

	"golang.org/x/crypto/sha3"
)

// sha3Sum512 is a thin wrapper so callers outside this file don't need to
// import golang.org/x/crypto/sha3 directly.
func sha3Sum512(x []byte) [64]byte {
	return sha3.Sum512(x)
}

// sealEnvelope wraps plaintext with AES-CTR under cipherKey and tags it
// with HMAC-SHA3 under authKey, kept as two separate keys (rather than a
// single AEAD) because OPAQUE's envelope needs to be key-committing: a
// registration must bind to exactly one password, never be openable under
// two different recovered rw values.
func sealEnvelope(authKey, cipherKey, plaintext []byte) envelope {
	block, err := aes.NewCipher(cipherKey)
	if err != nil {
		panic(err)
	}
	iv := make([]byte, block.BlockSize())
	ctr := cipher.NewCTR(block, iv)
	ciphertext := make([]byte, len(plaintext))
	ctr.XORKeyStream(ciphertext, plaintext)

	mac := hmac.New(sha3.New256, authKey)
	mac.Write(ciphertext)
	tag := mac.Sum(nil)
	return envelope{Tag: tag, Ciphertext: ciphertext}
}

// openEnvelope verifies the HMAC tag in constant time and, if it matches,
// decrypts the envelope's ciphertext.
func openEnvelope(authKey, cipherKey []byte, env envelope) ([]byte, error) {
	mac := hmac.New(sha3.New256, authKey)
	mac.Write(env.Ciphertext)
	expected := mac.Sum(nil)
	if !hmac.Equal(expected, env.Tag) {
		return nil, errors.New("apake: envelope tag mismatch")
	}

	block, err := aes.NewCipher(cipherKey)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, block.BlockSize())
	ctr := cipher.NewCTR(block, iv)
	plaintext := make([]byte, len(env.Ciphertext))
	ctr.XORKeyStream(plaintext, env.Ciphertext)
	return plaintext, nil
}
