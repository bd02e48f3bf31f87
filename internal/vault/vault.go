// Package vault seals persisted conversation state with a passphrase.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const saltLabel = "webforge/agent-blobs"

var ErrSealedTooShort = errors.New("sealed payload too short")

// Vault seals blobs with AES-256-GCM under an Argon2id-derived key.
type Vault struct {
	aead cipher.AEAD
}

// New derives the key from passphrase. The salt is a hash of the
// passphrase and a fixed label, so a restart with the same passphrase opens
// existing blobs.
func New(passphrase string) (*Vault, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}
	salt := sha256.Sum256([]byte(saltLabel + "\x00" + passphrase))
	key := argon2.IDKey([]byte(passphrase), salt[:16], 1, 64*1024, 4, 32)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Seal returns nonce || ciphertext. additional binds the payload to its
// storage slot so blobs cannot be swapped between conversations.
func (v *Vault) Seal(plaintext, additional []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize(), v.aead.NonceSize()+len(plaintext)+v.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, additional), nil
}

// Open reverses Seal.
func (v *Vault) Open(sealed, additional []byte) ([]byte, error) {
	n := v.aead.NonceSize()
	if len(sealed) < n+v.aead.Overhead() {
		return nil, ErrSealedTooShort
	}
	plaintext, err := v.aead.Open(nil, sealed[:n], sealed[n:], additional)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
