package storage

import (
	"crypto/cipher"
	"crypto/rand"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// scrypt parameters; interactive-grade since the secret is a machine key,
// not a human passphrase.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

func newAEAD(secret, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(secret, salt, scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive storage key")
	}
	return chacha20poly1305.NewX(key)
}

// seal encrypts plaintext and prepends the nonce.
func seal(aead cipher.AEAD, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "failed to generate nonce")
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// open decrypts a nonce-prefixed blob produced by seal.
func open(aead cipher.AEAD, blob []byte) ([]byte, error) {
	if len(blob) < aead.NonceSize() {
		return nil, errors.New("sealed record too short")
	}
	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unseal record")
	}
	return plaintext, nil
}
